// Package offline provides unit tests for the durable queue and its
// replay processor.
package offline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/kimvales/vaultsync/internal/store"
)

type statusCall struct {
	id    string
	state store.SyncState
	meta  store.Meta
}

// fakeRecordStore records calls and optionally fails them.
type fakeRecordStore struct {
	mu       sync.Mutex
	statuses []statusCall
	deletes  []string
	count    int
	failWith error
}

func (f *fakeRecordStore) RecordCount(ctx context.Context, scope string) (int, error) {
	return f.count, nil
}

func (f *fakeRecordStore) SetStatus(ctx context.Context, id string, state store.SyncState, meta store.Meta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.statuses = append(f.statuses, statusCall{id: id, state: state, meta: meta})
	return nil
}

func (f *fakeRecordStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.deletes = append(f.deletes, id)
	return nil
}

// fakeSyncFileStore records local sync-status updates.
type fakeSyncFileStore struct {
	mu      sync.Mutex
	updates []statusCall
}

func (f *fakeSyncFileStore) UpdateSyncStatus(id string, state store.SyncState, meta store.Meta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, statusCall{id: id, state: state, meta: meta})
	return nil
}

// nullReporter swallows reports but counts them.
type nullReporter struct {
	mu    sync.Mutex
	count int
}

func (r *nullReporter) Report(err error, context map[string]interface{}) {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
}

// TestStoreRoundTrip verifies a persisted operation survives a store
// reopen with all fields intact.
func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	st, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}

	op := NewOperation("notes/a.md", OperationCreate, store.Meta{ContentHash: "abc", ModifiedAt: 123})
	if err := st.Append(op); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	st, err = OpenStore(dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer st.Close()

	ops, err := st.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("len(ops) = %d, want 1", len(ops))
	}

	got := ops[0]
	if got.ID != op.ID || got.FileID != "notes/a.md" || got.Type != OperationCreate {
		t.Errorf("Round-tripped operation mismatch: %+v", got)
	}
	if got.Meta.ContentHash != "abc" || got.Meta.ModifiedAt != 123 {
		t.Errorf("Meta mismatch: %+v", got.Meta)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
	if got.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", got.MaxRetries)
	}
}

// TestStoreInsertionOrder verifies Pending returns operations in append
// order.
func TestStoreInsertionOrder(t *testing.T) {
	st, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer st.Close()

	for i := 0; i < 5; i++ {
		op := NewOperation(fmt.Sprintf("notes/%d.md", i), OperationUpdate, store.Meta{})
		op.Timestamp = int64(1000 + i)
		if err := st.Append(op); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	ops, err := st.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	for i, op := range ops {
		want := fmt.Sprintf("notes/%d.md", i)
		if op.FileID != want {
			t.Errorf("ops[%d].FileID = %s, want %s", i, op.FileID, want)
		}
	}
}

// TestRecordFailureCeiling verifies an operation drops out of the pending
// set once its retry ceiling is hit, and RetryFailed restores it.
func TestRecordFailureCeiling(t *testing.T) {
	st, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer st.Close()

	op := NewOperation("notes/a.md", OperationDelete, store.Meta{})
	op.MaxRetries = 2
	if err := st.Append(op); err != nil {
		t.Fatal(err)
	}

	st.RecordFailure(op.ID, fmt.Errorf("transient"))
	ops, _ := st.Pending()
	if len(ops) != 1 {
		t.Fatalf("After one failure: pending = %d, want 1", len(ops))
	}
	if ops[0].RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", ops[0].RetryCount)
	}

	st.RecordFailure(op.ID, fmt.Errorf("transient"))
	ops, _ = st.Pending()
	if len(ops) != 0 {
		t.Fatalf("After ceiling: pending = %d, want 0", len(ops))
	}

	stats, _ := st.Stats()
	if stats["failed"] != 1 {
		t.Errorf("failed count = %d, want 1", stats["failed"])
	}

	n, err := st.RetryFailed()
	if err != nil || n != 1 {
		t.Fatalf("RetryFailed = %d, %v; want 1, nil", n, err)
	}
	ops, _ = st.Pending()
	if len(ops) != 1 {
		t.Errorf("After reset: pending = %d, want 1", len(ops))
	}
}

// TestProcessQueueOnlineReplay verifies a create operation replays as
// exactly one pending status write carrying the stored hash, then is
// removed from the durable queue.
func TestProcessQueueOnlineReplay(t *testing.T) {
	st, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	op := NewOperation("notes/a.md", OperationCreate, store.Meta{ContentHash: "abc", ModifiedAt: 123})
	st.Append(op)

	records := &fakeRecordStore{}
	syncFiles := &fakeSyncFileStore{}
	p := NewProcessor(st, records, syncFiles, &nullReporter{}, store.NewOnlineSignal(true))

	settled, err := p.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue failed: %v", err)
	}
	if settled != 1 {
		t.Errorf("settled = %d, want 1", settled)
	}

	if len(records.statuses) != 1 {
		t.Fatalf("status calls = %d, want exactly 1", len(records.statuses))
	}
	call := records.statuses[0]
	if call.id != "notes/a.md" || call.state != store.StatePending {
		t.Errorf("Unexpected status call: %+v", call)
	}
	if call.meta.ContentHash != "abc" || call.meta.ModifiedAt != 123 {
		t.Errorf("Meta not embedded: %+v", call.meta)
	}

	ops, _ := st.Pending()
	if len(ops) != 0 {
		t.Errorf("Operation not removed after replay: %d pending", len(ops))
	}
}

// TestProcessQueueOfflineDelete verifies a delete replayed while the store
// is unreachable results in a local OK update and removal, with no remote
// call.
func TestProcessQueueOfflineDelete(t *testing.T) {
	st, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	meta := store.Meta{ContentHash: "h", ModifiedAt: 9}
	st.Append(NewOperation("notes/gone.md", OperationDelete, meta))

	records := &fakeRecordStore{}
	syncFiles := &fakeSyncFileStore{}
	p := NewProcessor(st, records, syncFiles, &nullReporter{}, store.NewOnlineSignal(false))

	settled, err := p.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue failed: %v", err)
	}
	if settled != 1 {
		t.Errorf("settled = %d, want 1", settled)
	}

	if len(records.deletes) != 0 || len(records.statuses) != 0 {
		t.Error("Remote store must not be called while unreachable")
	}
	if len(syncFiles.updates) != 1 {
		t.Fatalf("sync-file updates = %d, want 1", len(syncFiles.updates))
	}
	if syncFiles.updates[0].state != store.StateOK {
		t.Errorf("state = %s, want ok", syncFiles.updates[0].state)
	}

	ops, _ := st.Pending()
	if len(ops) != 0 {
		t.Errorf("Delete not removed: %d pending", len(ops))
	}
}

// TestProcessQueueOfflineCreateStaysPending verifies non-delete operations
// wait for connectivity.
func TestProcessQueueOfflineCreateStaysPending(t *testing.T) {
	st, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	st.Append(NewOperation("notes/a.md", OperationCreate, store.Meta{}))

	p := NewProcessor(st, &fakeRecordStore{}, &fakeSyncFileStore{}, &nullReporter{},
		store.NewOnlineSignal(false))

	settled, err := p.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue failed: %v", err)
	}
	if settled != 0 {
		t.Errorf("settled = %d, want 0", settled)
	}

	ops, _ := st.Pending()
	if len(ops) != 1 {
		t.Errorf("pending = %d, want 1", len(ops))
	}
}

// TestProcessQueueFailureDoesNotAbort verifies one failed replay leaves the
// row pending and the pass continues.
func TestProcessQueueFailureDoesNotAbort(t *testing.T) {
	st, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	bad := NewOperation("notes/bad.md", OperationCreate, store.Meta{})
	bad.Timestamp = 1
	good := NewOperation("notes/good.md", OperationDelete, store.Meta{})
	good.Timestamp = 2
	st.Append(bad)
	st.Append(good)

	records := &fakeRecordStore{}
	reporter := &nullReporter{}
	p := NewProcessor(st, records, &fakeSyncFileStore{}, reporter, store.NewOnlineSignal(true))

	records.failWith = fmt.Errorf("boom")
	settled, err := p.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue failed: %v", err)
	}
	if settled != 0 {
		t.Errorf("settled = %d, want 0 while store errors", settled)
	}

	ops, _ := st.Pending()
	if len(ops) != 2 {
		t.Fatalf("pending after failed pass = %d, want 2", len(ops))
	}

	records.failWith = nil
	settled, err = p.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("Second ProcessQueue failed: %v", err)
	}
	if settled != 2 {
		t.Errorf("settled = %d, want 2", settled)
	}

	ops, _ = st.Pending()
	if len(ops) != 0 {
		t.Errorf("pending after recovery = %d, want 0", len(ops))
	}
}
