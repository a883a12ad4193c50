package offline

import (
	"context"

	"github.com/kimvales/vaultsync/internal/errors"
	"github.com/kimvales/vaultsync/internal/logging"
	"github.com/kimvales/vaultsync/internal/store"
)

// Processor replays persisted operations against the remote record store,
// falling back to local sync-status bookkeeping while offline.
type Processor struct {
	store     *Store
	records   store.RecordStore // nil when no remote store is configured
	syncFiles store.SyncFileStore
	reporter  errors.Reporter
	online    *store.OnlineSignal
}

// NewProcessor creates a replay processor. records may be nil.
func NewProcessor(st *Store, records store.RecordStore, syncFiles store.SyncFileStore,
	reporter errors.Reporter, online *store.OnlineSignal) *Processor {
	return &Processor{
		store:     st,
		records:   records,
		syncFiles: syncFiles,
		reporter:  reporter,
		online:    online,
	}
}

// ProcessQueue iterates all pending operations in insertion order and
// replays each one. Connectivity is read once at invocation so a single
// pass stays consistent. A failed replay never aborts the pass; the row is
// left pending (or failed past its retry ceiling) and reported.
//
// Returns the number of operations settled (replayed or locally resolved).
func (p *Processor) ProcessQueue(ctx context.Context) (int, error) {
	reachable := p.online.Online() && p.records != nil

	ops, err := p.store.Pending()
	if err != nil {
		return 0, err
	}
	if len(ops) == 0 {
		return 0, nil
	}

	logging.Info("processing durable queue",
		map[string]interface{}{"pending": len(ops), "reachable": reachable})

	settled := 0
	for _, op := range ops {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}

		if reachable {
			if p.replay(ctx, op) {
				settled++
			}
			continue
		}

		// Unreachable: a delete needs no remote call to be locally
		// final, so record OK and drop the row. Everything else waits
		// for the next pass.
		if op.Type == OperationDelete {
			if err := p.syncFiles.UpdateSyncStatus(op.FileID, store.StateOK, op.Meta); err != nil {
				p.reporter.Report(
					errors.Wrap(errors.ErrReplayFailed, "offline delete bookkeeping failed", err),
					map[string]interface{}{"operation_id": op.ID, "file_id": op.FileID})
				continue
			}
			if err := p.store.Remove(op.ID); err != nil {
				p.reporter.Report(err, map[string]interface{}{"operation_id": op.ID})
				continue
			}
			settled++
		}
	}

	return settled, nil
}

// replay pushes one operation to the record store. Returns true when the
// operation was settled and removed.
func (p *Processor) replay(ctx context.Context, op *Operation) bool {
	var err error
	switch op.Type {
	case OperationCreate, OperationUpdate:
		err = p.records.SetStatus(ctx, op.FileID, store.StatePending, op.Meta)
	case OperationDelete:
		err = p.records.Delete(ctx, op.FileID)
	default:
		err = errors.Newf(errors.ErrInvalid, "unknown operation type %q", op.Type)
	}

	if err != nil {
		if dbErr := p.store.RecordFailure(op.ID, err); dbErr != nil {
			p.reporter.Report(dbErr, map[string]interface{}{"operation_id": op.ID})
		}
		p.reporter.Report(
			errors.Wrap(errors.ErrReplayFailed, "failed to replay operation", err),
			map[string]interface{}{
				"operation_id": op.ID,
				"file_id":      op.FileID,
				"type":         string(op.Type),
			})
		return false
	}

	if err := p.store.Remove(op.ID); err != nil {
		p.reporter.Report(err, map[string]interface{}{"operation_id": op.ID})
		return false
	}

	return true
}
