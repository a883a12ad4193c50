// Package bulk resynchronizes an entire vault through the task queue in
// adaptively sized batches.
package bulk

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kimvales/vaultsync/internal/errors"
	"github.com/kimvales/vaultsync/internal/logging"
	"github.com/kimvales/vaultsync/internal/queue"
	"github.com/kimvales/vaultsync/internal/store"
	"github.com/kimvales/vaultsync/internal/task"
	"github.com/kimvales/vaultsync/internal/vault"
)

// Options configures a bulk run.
type Options struct {
	// Scope is the remote store isolation scope consulted by the
	// pre-flight check.
	Scope string

	DefaultBatchSize     int
	MinBatchSize         int
	MaxBatchSize         int
	TargetBatchDuration  time.Duration
	MaxConcurrentBatches int

	// ThrottleDelay is an optional pause after every batch to yield to
	// other remote-store traffic.
	ThrottleDelay time.Duration

	// NotifyInterval rate-limits progress notifications.
	NotifyInterval time.Duration

	TaskMaxRetries int

	Exclusions    ExclusionRules
	PriorityRules []PriorityRule
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Scope:                "default",
		DefaultBatchSize:     50,
		MinBatchSize:         10,
		MaxBatchSize:         300,
		TargetBatchDuration:  2 * time.Second,
		MaxConcurrentBatches: 2,
		NotifyInterval:       250 * time.Millisecond,
		TaskMaxRetries:       3,
	}
}

// Scheduler partitions a file list into adaptively sized batches, drives
// each file through the task queue, and correlates queue outcomes back to
// files via a pending-expectation table. It subscribes to the queue's
// completion events for its whole lifetime; call Close to release the
// subscriptions.
type Scheduler struct {
	opts      Options
	vault     *vault.Vault
	queue     *queue.TaskQueue
	records   store.RecordStore // nil when no remote record store is configured
	syncFiles store.SyncFileStore
	reporter  errors.Reporter

	control  *batchController
	progress syncProgress
	notifier *progressNotifier

	mu          sync.Mutex
	expected    map[string]store.Meta
	files       []string
	cursor      int
	batchesDone int
	running     bool

	stopped atomic.Bool
	unsubs  []func()
}

// NewScheduler wires a scheduler to its collaborators. records may be nil;
// the sync-file collaborator then becomes the source of truth for final
// statuses. notify may be nil to disable progress notifications.
func NewScheduler(opts Options, v *vault.Vault, q *queue.TaskQueue,
	records store.RecordStore, syncFiles store.SyncFileStore,
	reporter errors.Reporter, notify Notifier) *Scheduler {

	s := &Scheduler{
		opts:      opts,
		vault:     v,
		queue:     q,
		records:   records,
		syncFiles: syncFiles,
		reporter:  reporter,
		notifier:  newProgressNotifier(notify, opts.NotifyInterval),
		expected:  make(map[string]store.Meta),
	}

	s.unsubs = append(s.unsubs,
		q.OnTaskCompleted(func(ev queue.Event) { s.onOutcome(ev, store.StateOK) }),
		q.OnTaskFailed(func(ev queue.Event) { s.onOutcome(ev, store.StateFailed) }),
	)
	return s
}

// Close releases the queue event subscriptions.
func (s *Scheduler) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

// Stop halts further batch claiming. Best effort: files already claimed or
// tasks already enqueued are left to finish or fail on their own.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)
}

// Progress returns the current progress snapshot.
func (s *Scheduler) Progress() Progress {
	return s.progress.snapshot(time.Now())
}

// Run resynchronizes files. When the remote store already holds records for
// the configured scope the run is skipped entirely: prior records are
// durable proof of an earlier completed run.
func (s *Scheduler) Run(ctx context.Context, files []string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New(errors.ErrInvalid, "bulk run already in progress")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if s.records != nil {
		count, err := s.records.RecordCount(ctx, s.opts.Scope)
		if err != nil {
			// An unreadable count must not wedge a first sync.
			logging.Warn("pre-flight record count failed, proceeding with bulk run",
				map[string]interface{}{"scope": s.opts.Scope, "error": err.Error()})
		} else if count > 0 {
			logging.Info("bulk run skipped, scope already populated",
				map[string]interface{}{"scope": s.opts.Scope, "records": count})
			return nil
		}
	}

	ordered := orderFiles(files, s.opts.Exclusions, s.opts.PriorityRules)

	s.stopped.Store(false)
	s.control = newBatchController(s.opts.DefaultBatchSize,
		s.opts.MinBatchSize, s.opts.MaxBatchSize, s.opts.TargetBatchDuration)

	s.mu.Lock()
	s.files = ordered
	s.cursor = 0
	s.batchesDone = 0
	s.mu.Unlock()

	s.progress.reset(len(ordered), s.estimateBatches(len(ordered)))

	if len(ordered) == 0 {
		s.notifier.flush(&s.progress)
		return nil
	}

	logging.Info("starting bulk run", map[string]interface{}{
		"files":     len(ordered),
		"batchSize": s.control.Size(),
		"workers":   s.opts.MaxConcurrentBatches,
	})

	workers := s.opts.MaxConcurrentBatches
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.batchWorker(ctx)
		}()
	}
	wg.Wait()

	s.notifier.flush(&s.progress)

	if ctx.Err() != nil {
		return errors.Wrap(errors.ErrBulkAborted, "bulk run canceled", ctx.Err())
	}

	final := s.progress.snapshot(time.Now())
	logging.Info("bulk run finished enqueueing", map[string]interface{}{
		"processed": final.ProcessedFiles,
		"total":     final.TotalFiles,
	})
	return nil
}

// batchWorker claims and processes batches until the file list is
// exhausted, the run is stopped, or the context is canceled.
func (s *Scheduler) batchWorker(ctx context.Context) {
	for {
		batch := s.claimBatch(ctx)
		if batch == nil {
			return
		}

		start := time.Now()
		for _, file := range batch {
			if ctx.Err() != nil {
				return
			}
			s.processFile(ctx, file)
			s.progress.fileDone()
			s.notifier.maybeNotify(&s.progress)
		}
		size := s.control.Observe(time.Since(start))

		s.mu.Lock()
		s.batchesDone++
		s.mu.Unlock()

		logging.Debug("batch complete", map[string]interface{}{
			"files":    len(batch),
			"duration": time.Since(start).Milliseconds(),
			"nextSize": size,
		})

		if s.opts.ThrottleDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.opts.ThrottleDelay):
			}
		}
	}
}

// claimBatch takes the next slice of the remaining file list at the
// controller's current size. Returns nil when nothing is left to claim.
func (s *Scheduler) claimBatch(ctx context.Context) []string {
	if s.stopped.Load() || ctx.Err() != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor >= len(s.files) {
		return nil
	}

	size := s.control.Size()
	end := s.cursor + size
	if end > len(s.files) {
		end = len(s.files)
	}
	batch := s.files[s.cursor:end]
	s.cursor = end

	remaining := len(s.files) - end
	s.progress.startBatch(s.batchesDone + 1 + ceilDiv(remaining, size))
	return batch
}

// processFile prepares one document, records the pending expectation,
// writes a pending status, and enqueues a create task. Every failure is
// reported and swallowed: one bad file never aborts its batch.
func (s *Scheduler) processFile(ctx context.Context, path string) {
	doc, err := s.vault.Read(path)
	if doc == nil {
		s.reporter.Report(
			errors.Wrap(errors.ErrBatchFileFailed, "failed to read document", err),
			map[string]interface{}{"file": path})
		return
	}
	if err != nil {
		// Metadata problems are reported but the document still syncs.
		s.reporter.Report(err, map[string]interface{}{"file": path})
	}

	meta := store.Meta{ContentHash: doc.ContentHash, ModifiedAt: doc.ModifiedAt}
	s.setExpectation(path, meta)

	if s.records != nil {
		err = s.records.SetStatus(ctx, path, store.StatePending, meta)
	} else {
		err = s.syncFiles.UpdateSyncStatus(path, store.StatePending, meta)
	}
	if err != nil {
		s.clearExpectation(path)
		s.reporter.Report(
			errors.Wrap(errors.ErrBatchFileFailed, "failed to mark document pending", err),
			map[string]interface{}{"file": path})
		return
	}

	t := task.New(path, task.TypeCreate, taskPriority(path, s.opts.PriorityRules),
		s.opts.TaskMaxRetries)
	t.Status = task.StatusQueuedDuringBulk
	t.Metadata = map[string]interface{}{
		"contentHash": doc.ContentHash,
		"modifiedAt":  doc.ModifiedAt,
	}

	if err := s.enqueueWithBackoff(ctx, t); err != nil {
		s.clearExpectation(path)
		s.reporter.Report(err, map[string]interface{}{"file": path})
	}
}

// enqueueWithBackoff retries admission rejections with a short pause. A
// full queue during bulk means downstream writes are lagging; waiting is
// cheaper than dropping the file.
func (s *Scheduler) enqueueWithBackoff(ctx context.Context, t *task.Task) error {
	const pause = 100 * time.Millisecond

	for {
		err := s.queue.Enqueue(t)
		if err == nil || !errors.Is(err, errors.ErrQueueFull) {
			return err
		}
		if s.stopped.Load() {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(pause):
		}
	}
}

// onOutcome correlates a queue event back to a file. The expectation entry
// is cleared on either outcome; a final local status write happens only
// when no remote record store is configured, since the store is otherwise
// the source of truth.
func (s *Scheduler) onOutcome(ev queue.Event, state store.SyncState) {
	if ev.Task == nil {
		return
	}

	s.mu.Lock()
	meta, ok := s.expected[ev.Task.ID]
	if ok {
		delete(s.expected, ev.Task.ID)
	}
	s.mu.Unlock()

	if !ok || s.records != nil {
		return
	}

	if err := s.syncFiles.UpdateSyncStatus(ev.Task.ID, state, meta); err != nil {
		s.reporter.Report(
			errors.Wrap(errors.ErrWriteFailed, "failed to record final sync status", err),
			map[string]interface{}{"file": ev.Task.ID, "state": string(state)})
	}
}

func (s *Scheduler) setExpectation(id string, meta store.Meta) {
	s.mu.Lock()
	s.expected[id] = meta
	s.mu.Unlock()
}

func (s *Scheduler) clearExpectation(id string) {
	s.mu.Lock()
	delete(s.expected, id)
	s.mu.Unlock()
}

// PendingExpectations returns the number of files whose outcome has not
// yet been observed.
func (s *Scheduler) PendingExpectations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expected)
}

func (s *Scheduler) estimateBatches(files int) int {
	if files == 0 {
		return 0
	}
	return ceilDiv(files, s.control.Size())
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return int(math.Ceil(float64(a) / float64(b)))
}
