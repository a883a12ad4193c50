package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/kimvales/vaultsync/internal/errors"
)

// SyncEntry is one document's persisted sync status.
type SyncEntry struct {
	State SyncState `json:"state"`
	Meta  Meta      `json:"meta"`
}

// SyncFile is a JSON-file-backed SyncFileStore. Every update rewrites the
// file through a temp-file rename so a crash never leaves it truncated.
type SyncFile struct {
	mu      sync.Mutex
	path    string
	entries map[string]SyncEntry
}

// OpenSyncFile loads (or initializes) the sync file at path.
func OpenSyncFile(path string) (*SyncFile, error) {
	s := &SyncFile{path: path, entries: make(map[string]SyncEntry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrWriteFailed, "failed to read sync file", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.entries); err != nil {
			return nil, errors.Wrap(errors.ErrWriteFailed, "failed to parse sync file", err)
		}
	}
	return s, nil
}

// UpdateSyncStatus upserts a document's status and persists the file.
func (s *SyncFile) UpdateSyncStatus(id string, state SyncState, meta Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[id] = SyncEntry{State: state, Meta: meta}
	return s.flush()
}

// Remove drops a document's entry and persists the file.
func (s *SyncFile) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, id)
	return s.flush()
}

// Status returns a document's entry, if present.
func (s *SyncFile) Status(id string) (SyncEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	return e, ok
}

// Len returns the number of tracked documents.
func (s *SyncFile) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *SyncFile) flush() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrWriteFailed, "failed to encode sync file", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(errors.ErrWriteFailed, "failed to create sync file directory", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrWriteFailed, "failed to write sync file", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(errors.ErrWriteFailed, "failed to replace sync file", err)
	}
	return nil
}
