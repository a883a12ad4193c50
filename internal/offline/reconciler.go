package offline

import (
	"context"
	"sync"
	"time"

	"github.com/kimvales/vaultsync/internal/logging"
)

// ReconcilerConfig holds reconciliation loop configuration.
type ReconcilerConfig struct {
	// Interval is how often to attempt a replay pass.
	Interval time.Duration
}

// DefaultReconcilerConfig returns default reconciler configuration.
func DefaultReconcilerConfig() *ReconcilerConfig {
	return &ReconcilerConfig{
		Interval: time.Minute,
	}
}

// Reconciler runs periodic replay passes over the durable queue and an
// immediate pass whenever connectivity returns.
type Reconciler struct {
	processor *Processor
	interval  time.Duration

	stopCh     chan struct{}
	triggerCh  chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	isRunning  bool
	inProgress bool
	lastPass   time.Time
}

// NewReconciler creates a reconciler over the given processor.
func NewReconciler(processor *Processor, config *ReconcilerConfig) *Reconciler {
	if config == nil {
		config = DefaultReconcilerConfig()
	}

	return &Reconciler{
		processor: processor,
		interval:  config.Interval,
		stopCh:    make(chan struct{}),
		triggerCh: make(chan struct{}, 1),
	}
}

// Start launches the reconciliation loop.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return
	}
	r.isRunning = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop(ctx)

	logging.Info("offline reconciler started",
		map[string]interface{}{"interval": r.interval.String()})
}

// Stop stops the reconciliation loop gracefully.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return
	}
	r.isRunning = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()

	logging.Info("offline reconciler stopped")
}

// Trigger requests an immediate replay pass. Used when connectivity
// returns; coalesces if a trigger is already queued.
func (r *Reconciler) Trigger() {
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runPass(ctx)
		case <-r.triggerCh:
			r.runPass(ctx)
		}
	}
}

func (r *Reconciler) runPass(ctx context.Context) {
	r.mu.Lock()
	if r.inProgress {
		r.mu.Unlock()
		return
	}
	r.inProgress = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inProgress = false
		r.lastPass = time.Now()
		r.mu.Unlock()
	}()

	settled, err := r.processor.ProcessQueue(ctx)
	if err != nil {
		logging.Error("replay pass failed", err)
		return
	}
	if settled > 0 {
		logging.Info("replay pass settled operations",
			map[string]interface{}{"settled": settled})
	}
}

// LastPass returns when the previous replay pass finished.
func (r *Reconciler) LastPass() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPass
}
