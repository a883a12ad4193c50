// Package queue provides the in-memory task queue: bounded admission,
// per-identity coalescing, priority scheduling, and a concurrency-limited
// worker pool with exponential-backoff retries.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/kimvales/vaultsync/internal/errors"
	"github.com/kimvales/vaultsync/internal/logging"
	"github.com/kimvales/vaultsync/internal/task"
)

// Pipeline is the injected write path a worker invokes per task. It performs
// the downstream metadata/chunk/embed/upsert work and returns nil on success.
type Pipeline interface {
	Write(ctx context.Context, t *task.Task) error
}

// PipelineFunc adapts a function to the Pipeline interface.
type PipelineFunc func(ctx context.Context, t *task.Task) error

// Write implements Pipeline.
func (f PipelineFunc) Write(ctx context.Context, t *task.Task) error {
	return f(ctx, t)
}

// Config holds task queue configuration.
type Config struct {
	// MaxSize bounds the number of distinct task identities admitted.
	MaxSize int

	// Concurrency is the worker pool size.
	Concurrency int

	// MaxRetries applies to tasks that do not set their own ceiling.
	MaxRetries int

	// BackoffBase is the delay before the first retry; each retry doubles
	// it, capped at BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxSize:     1000,
		Concurrency: 4,
		MaxRetries:  3,
		BackoffBase: 500 * time.Millisecond,
		BackoffCap:  time.Minute,
	}
}

// entry tracks queue-internal scheduling state alongside the task.
type entry struct {
	task *task.Task

	// seq preserves insertion order for the priority tiebreak. Coalescing
	// keeps the original sequence so a replaced task does not lose its
	// place in line.
	seq uint64

	// readyAt delays retries; zero means immediately ready.
	readyAt time.Time
}

// TaskQueue holds at most one live task per document identity, across both
// the pending map and the in-flight map. That single-slot ownership is what
// prevents duplicate concurrent writes to the same document.
type TaskQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	pending map[string]*entry
	active  map[string]*task.Task

	cfg      Config
	pipeline Pipeline

	seqCounter uint64
	stopped    bool
	started    bool
	wg         sync.WaitGroup

	events *eventRegistry
}

// New creates a TaskQueue draining into the given pipeline. Call Start to
// launch the workers.
func New(cfg *Config, pipeline Pipeline) *TaskQueue {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	q := &TaskQueue{
		pending:  make(map[string]*entry),
		active:   make(map[string]*task.Task),
		cfg:      *cfg,
		pipeline: pipeline,
		events:   newEventRegistry(),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue admits a task, applying the coalescing rules keyed by identity:
//
//   - no existing task: insert as-is
//   - existing DELETE: incoming CREATE/UPDATE is dropped
//   - incoming DELETE over CREATE/UPDATE: replaces it, boosted to the
//     urgent tier so deletions are serviced ahead of ordinary mutations
//   - CREATE/UPDATE over CREATE/UPDATE: last write wins, keeping the
//     higher of the two priorities
//
// Admission fails with a QUEUE_FULL error when the queue already holds the
// configured maximum number of distinct identities and this identity is not
// among them.
func (q *TaskQueue) Enqueue(t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return errors.New(errors.ErrQueueStopped, "queue is stopped")
	}

	if e, ok := q.pending[t.ID]; ok {
		q.coalescePending(e, t)
		return nil
	}

	if act, ok := q.active[t.ID]; ok {
		q.coalesceActive(act, t)
		return nil
	}

	if q.distinctIdentities() >= q.cfg.MaxSize {
		return errors.Newf(errors.ErrQueueFull,
			"queue is full (max size: %d)", q.cfg.MaxSize)
	}

	q.insert(t)
	q.notEmpty.Signal()
	return nil
}

// coalescePending applies the precedence rules against a queued entry.
func (q *TaskQueue) coalescePending(e *entry, incoming *task.Task) {
	existing := e.task

	if existing.Type == task.TypeDelete && incoming.Type != task.TypeDelete {
		// A deletion in flight supersedes any mutation.
		logging.Debug("dropped task coalesced behind delete",
			map[string]interface{}{"id": incoming.ID, "type": string(incoming.Type)})
		return
	}

	if incoming.Type == task.TypeDelete {
		incoming.Priority = task.PriorityUrgent
	} else if existing.Priority > incoming.Priority {
		incoming.Priority = existing.Priority
	}

	// Replace in place, keeping the entry's position in line and clearing
	// any retry delay the replaced task had accrued.
	e.task = incoming
	e.readyAt = time.Time{}
	q.notEmpty.Signal()
}

// coalesceActive applies the precedence rules against an in-flight task.
// The outcome, if any, becomes the identity's pending successor: it is not
// claimable until the in-flight attempt finishes, so at most one write per
// identity is ever live.
func (q *TaskQueue) coalesceActive(active *task.Task, incoming *task.Task) {
	if active.Type == task.TypeDelete && incoming.Type != task.TypeDelete {
		logging.Debug("dropped task coalesced behind in-flight delete",
			map[string]interface{}{"id": incoming.ID, "type": string(incoming.Type)})
		return
	}

	if incoming.Type == task.TypeDelete {
		incoming.Priority = task.PriorityUrgent
	} else if active.Priority > incoming.Priority {
		incoming.Priority = active.Priority
	}

	q.insert(incoming)
	q.notEmpty.Signal()
}

// insert adds a fresh pending entry. Caller holds the lock.
func (q *TaskQueue) insert(t *task.Task) {
	q.seqCounter++
	t.UpdatedAt = time.Now()
	q.pending[t.ID] = &entry{task: t, seq: q.seqCounter}
}

// distinctIdentities counts each identity once across pending and active.
// Caller holds the lock.
func (q *TaskQueue) distinctIdentities() int {
	n := len(q.pending)
	for id := range q.active {
		if _, ok := q.pending[id]; !ok {
			n++
		}
	}
	return n
}

// Start launches the worker pool. Workers exit when Stop is called or the
// context is cancelled.
func (q *TaskQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	// Wake blocked workers on context cancellation.
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	}()

	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}

	logging.Info("task queue started",
		map[string]interface{}{"concurrency": q.cfg.Concurrency, "max_size": q.cfg.MaxSize})
}

// Stop halts the workers and waits for in-flight tasks to finish or fail
// naturally. Pending tasks remain queued but are no longer claimed.
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.notEmpty.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
	logging.Info("task queue stopped")
}

func (q *TaskQueue) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		t := q.claim(ctx)
		if t == nil {
			return
		}

		err := q.pipeline.Write(ctx, t)
		q.finish(t, err)
	}
}

// claim blocks until the highest-priority ready task can be moved to the
// active set, or the queue stops. Ties on priority go to insertion order.
func (q *TaskQueue) claim(ctx context.Context) *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.stopped || ctx.Err() != nil {
			return nil
		}

		now := time.Now()
		var best *entry
		var wake time.Time

		for id, e := range q.pending {
			if _, inFlight := q.active[id]; inFlight {
				// Successor waits for the in-flight attempt.
				continue
			}
			if e.readyAt.After(now) {
				if wake.IsZero() || e.readyAt.Before(wake) {
					wake = e.readyAt
				}
				continue
			}
			if best == nil ||
				e.task.Priority > best.task.Priority ||
				(e.task.Priority == best.task.Priority && e.seq < best.seq) {
				best = e
			}
		}

		if best != nil {
			t := best.task
			delete(q.pending, t.ID)
			q.active[t.ID] = t
			t.Status = task.StatusProcessing
			t.UpdatedAt = now
			return t
		}

		// Nothing ready. Sleep until signalled, or until the soonest
		// delayed retry becomes eligible.
		if !wake.IsZero() {
			timer := time.AfterFunc(time.Until(wake), func() {
				q.mu.Lock()
				q.notEmpty.Broadcast()
				q.mu.Unlock()
			})
			q.notEmpty.Wait()
			timer.Stop()
		} else {
			q.notEmpty.Wait()
		}
	}
}

// finish settles an attempt: release the identity slot, then complete,
// retry with backoff, or fail terminally.
func (q *TaskQueue) finish(t *task.Task, writeErr error) {
	q.mu.Lock()

	delete(q.active, t.ID)
	now := time.Now()
	t.UpdatedAt = now

	if writeErr == nil {
		t.Status = task.StatusCompleted
		q.notEmpty.Signal()
		q.mu.Unlock()

		q.events.emitCompleted(Event{Task: t.Clone()})
		return
	}

	t.RetryCount++

	if _, hasSuccessor := q.pending[t.ID]; hasSuccessor {
		// A newer task for this identity arrived while we were writing;
		// it supersedes the retry.
		q.notEmpty.Signal()
		q.mu.Unlock()

		logging.Debug("retry superseded by newer task",
			map[string]interface{}{"id": t.ID, "retry_count": t.RetryCount})
		return
	}

	if t.RetryCount < q.maxRetriesFor(t) {
		t.Status = task.StatusQueued
		q.seqCounter++
		q.pending[t.ID] = &entry{
			task:    t,
			seq:     q.seqCounter,
			readyAt: now.Add(q.backoff(t.RetryCount)),
		}
		q.notEmpty.Signal()
		q.mu.Unlock()

		logging.Debug("task requeued with backoff",
			map[string]interface{}{"id": t.ID, "retry_count": t.RetryCount})
		return
	}

	t.Status = task.StatusFailed
	q.notEmpty.Signal()
	q.mu.Unlock()

	logging.ErrorWithCode("task failed terminally",
		string(errors.ErrWriteFailed), writeErr,
		map[string]interface{}{"id": t.ID, "retries": t.RetryCount})

	q.events.emitFailed(Event{Task: t.Clone(), Err: writeErr})
}

func (q *TaskQueue) maxRetriesFor(t *task.Task) int {
	if t.MaxRetries > 0 {
		return t.MaxRetries
	}
	return q.cfg.MaxRetries
}

// backoff returns base × 2^retryCount, capped.
func (q *TaskQueue) backoff(retryCount int) time.Duration {
	d := q.cfg.BackoffBase
	for i := 0; i < retryCount && d < q.cfg.BackoffCap; i++ {
		d *= 2
	}
	if d > q.cfg.BackoffCap {
		d = q.cfg.BackoffCap
	}
	return d
}

// Len returns the number of distinct identities currently live.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.distinctIdentities()
}

// Snapshot returns a copy of the live task for an identity, or nil.
func (q *TaskQueue) Snapshot(id string) *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.pending[id]; ok {
		return e.task.Clone()
	}
	if t, ok := q.active[id]; ok {
		return t.Clone()
	}
	return nil
}

// Stats returns queue statistics keyed by state.
func (q *TaskQueue) Stats() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]int{
		"pending":    len(q.pending),
		"processing": len(q.active),
		"identities": q.distinctIdentities(),
	}
	return stats
}
