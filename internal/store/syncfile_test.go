package store

import (
	"path/filepath"
	"testing"
)

func TestSyncFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "sync.json")

	s, err := OpenSyncFile(path)
	if err != nil {
		t.Fatalf("OpenSyncFile failed: %v", err)
	}

	meta := Meta{ContentHash: "abc", ModifiedAt: 123}
	if err := s.UpdateSyncStatus("notes/a.md", StateOK, meta); err != nil {
		t.Fatalf("UpdateSyncStatus failed: %v", err)
	}
	if err := s.UpdateSyncStatus("notes/b.md", StatePending, Meta{}); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenSyncFile(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if reopened.Len() != 2 {
		t.Fatalf("Len = %d, want 2", reopened.Len())
	}

	entry, ok := reopened.Status("notes/a.md")
	if !ok || entry.State != StateOK || entry.Meta.ContentHash != "abc" {
		t.Errorf("Status(notes/a.md) = %+v, %v", entry, ok)
	}
}

func TestSyncFileRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.json")

	s, err := OpenSyncFile(path)
	if err != nil {
		t.Fatal(err)
	}
	s.UpdateSyncStatus("a.md", StateOK, Meta{})
	if err := s.Remove("a.md"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	reopened, err := OpenSyncFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reopened.Status("a.md"); ok {
		t.Error("Removed entry survived reopen")
	}
}

func TestSyncFileOpenMissingIsEmpty(t *testing.T) {
	s, err := OpenSyncFile(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("OpenSyncFile on a missing file failed: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}
