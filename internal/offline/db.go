package offline

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/kimvales/vaultsync/internal/errors"
)

const dbFileName = "offline_queue.db"

const schema = `
CREATE TABLE IF NOT EXISTS offline_operations (
	id             TEXT PRIMARY KEY,
	file_id        TEXT NOT NULL,
	operation_type TEXT NOT NULL,
	timestamp      INTEGER NOT NULL,
	content_hash   TEXT NOT NULL DEFAULT '',
	modified_at    INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'pending',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	last_error     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_offline_status
	ON offline_operations(status, timestamp);
`

// Store persists offline operations in SQLite so they survive restarts.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the durable queue database under dataDir.
// The database is opened with WAL mode and a single writer, matching
// SQLite's concurrency model.
func OpenStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrDurableStore, "failed to create data directory", err)
	}

	dbPath := filepath.Join(dataDir, dbFileName)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDurableStore, "failed to open database", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrDurableStore, "failed to enable WAL mode", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrDurableSchema, "failed to initialize schema", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append persists a new operation at the tail of the queue.
func (s *Store) Append(op *Operation) error {
	_, err := s.db.Exec(`
		INSERT INTO offline_operations
			(id, file_id, operation_type, timestamp, content_hash, modified_at,
			 status, retry_count, max_retries, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.FileID, string(op.Type), op.Timestamp,
		op.Meta.ContentHash, op.Meta.ModifiedAt,
		string(op.Status), op.RetryCount, op.MaxRetries, op.LastError,
	)
	if err != nil {
		return errors.Wrap(errors.ErrDurableStore, "failed to append operation", err)
	}
	return nil
}

// Pending returns all pending operations in insertion order.
func (s *Store) Pending() ([]*Operation, error) {
	rows, err := s.db.Query(`
		SELECT id, file_id, operation_type, timestamp, content_hash,
		       modified_at, status, retry_count, max_retries, last_error
		FROM offline_operations
		WHERE status = ?
		ORDER BY timestamp ASC, rowid ASC`,
		string(StatusPending),
	)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDurableStore, "failed to query pending operations", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		op := &Operation{}
		var typ, status string
		if err := rows.Scan(&op.ID, &op.FileID, &typ, &op.Timestamp,
			&op.Meta.ContentHash, &op.Meta.ModifiedAt,
			&status, &op.RetryCount, &op.MaxRetries, &op.LastError); err != nil {
			return nil, errors.Wrap(errors.ErrDurableStore, "failed to scan operation", err)
		}
		op.Type = OperationType(typ)
		op.Status = OperationStatus(status)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrDurableStore, "failed to read pending operations", err)
	}

	return ops, nil
}

// Remove deletes a successfully replayed operation.
func (s *Store) Remove(id string) error {
	_, err := s.db.Exec(`DELETE FROM offline_operations WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(errors.ErrDurableStore, "failed to remove operation", err)
	}
	return nil
}

// RecordFailure increments the retry count; past the ceiling the operation
// is marked failed and no longer replayed.
func (s *Store) RecordFailure(id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	_, err := s.db.Exec(`
		UPDATE offline_operations
		SET retry_count = retry_count + 1,
		    last_error = ?,
		    status = CASE
		        WHEN retry_count + 1 >= max_retries THEN ?
		        ELSE ?
		    END
		WHERE id = ?`,
		msg, string(StatusFailed), string(StatusPending), id,
	)
	if err != nil {
		return errors.Wrap(errors.ErrDurableStore, "failed to record failure", err)
	}
	return nil
}

// RetryFailed resets failed operations to pending and returns how many
// were reset.
func (s *Store) RetryFailed() (int, error) {
	res, err := s.db.Exec(`
		UPDATE offline_operations
		SET status = ?, retry_count = 0, last_error = ''
		WHERE status = ?`,
		string(StatusPending), string(StatusFailed),
	)
	if err != nil {
		return 0, errors.Wrap(errors.ErrDurableStore, "failed to reset operations", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats returns operation counts keyed by status.
func (s *Store) Stats() (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT status, COUNT(*) FROM offline_operations GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDurableStore, "failed to query stats", err)
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(errors.ErrDurableStore, "failed to scan stats", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}
