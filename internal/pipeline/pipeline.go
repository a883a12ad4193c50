// Package pipeline is the live write path: it resolves a task against the
// remote record store, or appends it to the offline durable queue when the
// store is unreachable.
package pipeline

import (
	"context"

	"github.com/kimvales/vaultsync/internal/errors"
	"github.com/kimvales/vaultsync/internal/logging"
	"github.com/kimvales/vaultsync/internal/offline"
	"github.com/kimvales/vaultsync/internal/store"
	"github.com/kimvales/vaultsync/internal/task"
	"github.com/kimvales/vaultsync/internal/vault"
)

// Resolver executes tasks pulled from the queue. It satisfies
// queue.Pipeline.
type Resolver struct {
	vault     *vault.Vault
	records   store.RecordStore // nil when no remote store is configured
	syncFiles store.SyncFileStore
	durable   *offline.Store
	online    *store.OnlineSignal
}

// NewResolver wires the write path. records may be nil; writes then go
// straight to the durable queue for later replay.
func NewResolver(v *vault.Vault, records store.RecordStore,
	syncFiles store.SyncFileStore, durable *offline.Store,
	online *store.OnlineSignal) *Resolver {
	return &Resolver{
		vault:     v,
		records:   records,
		syncFiles: syncFiles,
		durable:   durable,
		online:    online,
	}
}

// Write resolves one task. Transport failures flip the connectivity signal
// and divert the write to the durable queue instead of failing the task:
// the write is deferred, not lost, so the task itself succeeds.
func (r *Resolver) Write(ctx context.Context, t *task.Task) error {
	meta, err := r.taskMeta(t)
	if err != nil {
		return err
	}

	if r.records == nil {
		// Without a remote store the sync-file collaborator is the
		// source of truth; resolve the write locally.
		return r.syncFiles.UpdateSyncStatus(t.ID, store.StateOK, meta)
	}

	if !r.online.Online() {
		return r.divert(t, meta)
	}

	switch t.Type {
	case task.TypeDelete:
		err = r.records.Delete(ctx, t.ID)
	default:
		err = r.records.SetStatus(ctx, t.ID, store.StatePending, meta)
	}

	if errors.Is(err, errors.ErrStoreUnreachable) {
		if r.online.Set(false) {
			logging.Warn("record store unreachable, diverting writes to durable queue",
				map[string]interface{}{"file": t.ID})
		}
		return r.divert(t, meta)
	}
	return err
}

// taskMeta builds the status payload. Bulk-enqueued tasks carry their hash
// in metadata; live tasks read the document. A deletion has no content to
// hash.
func (r *Resolver) taskMeta(t *task.Task) (store.Meta, error) {
	if t.Type == task.TypeDelete {
		return store.Meta{}, nil
	}

	if hash, ok := t.Metadata["contentHash"].(string); ok {
		meta := store.Meta{ContentHash: hash}
		if mod, ok := t.Metadata["modifiedAt"].(int64); ok {
			meta.ModifiedAt = mod
		}
		return meta, nil
	}

	doc, err := r.vault.Read(t.ID)
	if doc == nil {
		return store.Meta{}, err
	}
	return store.Meta{ContentHash: doc.ContentHash, ModifiedAt: doc.ModifiedAt}, nil
}

// divert persists the write for a later reconciliation pass.
func (r *Resolver) divert(t *task.Task, meta store.Meta) error {
	op := offline.NewOperation(t.ID, operationType(t.Type), meta)
	if err := r.durable.Append(op); err != nil {
		return errors.Wrap(errors.ErrDurableStore, "failed to persist deferred write", err)
	}

	logging.Debug("write deferred to durable queue", map[string]interface{}{
		"file": t.ID, "type": string(op.Type),
	})
	return nil
}

func operationType(t task.Type) offline.OperationType {
	switch t {
	case task.TypeDelete:
		return offline.OperationDelete
	case task.TypeUpdate:
		return offline.OperationUpdate
	default:
		return offline.OperationCreate
	}
}
