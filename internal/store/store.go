// Package store defines the narrow interfaces the sync core consumes from
// its remote and local collaborators, plus an HTTP record-store client.
package store

import (
	"context"
	"sync/atomic"
)

// SyncState is the vectorization status tracked per document identity.
type SyncState string

const (
	StatePending SyncState = "pending"
	StateOK      SyncState = "ok"
	StateFailed  SyncState = "failed"
)

// Meta is the minimal payload attached to status writes: enough to decide
// later whether a document needs re-processing.
type Meta struct {
	ContentHash string `json:"contentHash,omitempty"`
	ModifiedAt  int64  `json:"modifiedAt,omitempty"`
}

// RecordStore is the remote store status surface. All writes are idempotent
// upserts keyed by document identity.
type RecordStore interface {
	// RecordCount returns the number of records in the isolation scope.
	RecordCount(ctx context.Context, scope string) (int, error)

	// SetStatus upserts the vectorization status for a document.
	SetStatus(ctx context.Context, id string, state SyncState, meta Meta) error

	// Delete removes a document's records from the store.
	Delete(ctx context.Context, id string) error
}

// SyncFileStore is the local sync-status collaborator used as the source of
// truth when no remote record store is configured, and as the offline
// fallback for local bookkeeping.
type SyncFileStore interface {
	UpdateSyncStatus(id string, state SyncState, meta Meta) error
}

// OnlineSignal is a process-wide connectivity flag. Consumers read it once
// per pass; producers flip it from connectivity probes or transport errors.
type OnlineSignal struct {
	online atomic.Bool
}

// NewOnlineSignal creates a signal with the given initial state.
func NewOnlineSignal(online bool) *OnlineSignal {
	s := &OnlineSignal{}
	s.online.Store(online)
	return s
}

// Online reports the current connectivity state.
func (s *OnlineSignal) Online() bool {
	return s.online.Load()
}

// Set updates the connectivity state and reports whether it changed.
func (s *OnlineSignal) Set(online bool) bool {
	return s.online.Swap(online) != online
}
