package bulk

import (
	"sync"
	"time"
)

// Progress is the snapshot handed to the notification collaborator.
type Progress struct {
	ProgressPercent float64 `json:"progressPercent"`
	ProcessedFiles  int     `json:"processedFiles"`
	TotalFiles      int     `json:"totalFiles"`
	ETAms           int64   `json:"etaMs"`
}

// Notifier receives rate-limited progress snapshots during a bulk run.
type Notifier interface {
	NotifyProgress(p Progress)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Progress)

func (f NotifierFunc) NotifyProgress(p Progress) { f(p) }

// syncProgress tracks one bulk run. ProcessedFiles counts files as they
// finish local processing and enqueueing, not as their tasks complete
// remotely; the ETA math below depends on that.
type syncProgress struct {
	mu             sync.Mutex
	totalFiles     int
	processedFiles int
	currentBatch   int
	totalBatches   int
	startTime      time.Time
}

func (p *syncProgress) reset(totalFiles, totalBatches int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalFiles = totalFiles
	p.processedFiles = 0
	p.currentBatch = 0
	p.totalBatches = totalBatches
	p.startTime = time.Now()
}

func (p *syncProgress) startBatch(totalBatches int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentBatch++
	if totalBatches > p.totalBatches {
		p.totalBatches = totalBatches
	}
	return p.currentBatch
}

func (p *syncProgress) fileDone() {
	p.mu.Lock()
	p.processedFiles++
	p.mu.Unlock()
}

// snapshot computes the externally visible progress at now.
func (p *syncProgress) snapshot(now time.Time) Progress {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Progress{
		ProcessedFiles: p.processedFiles,
		TotalFiles:     p.totalFiles,
	}
	if p.totalFiles > 0 {
		s.ProgressPercent = float64(p.processedFiles) / float64(p.totalFiles) * 100
	}
	s.ETAms = etaMillis(p.totalFiles, p.processedFiles, now.Sub(p.startTime))
	return s
}

// etaMillis estimates remaining time from the observed processing rate.
// Zero when nothing has been processed yet or elapsed time is non-positive.
func etaMillis(total, processed int, elapsed time.Duration) int64 {
	if processed <= 0 || elapsed <= 0 {
		return 0
	}
	rate := float64(processed) / float64(elapsed.Milliseconds())
	if rate <= 0 {
		return 0
	}
	return int64(float64(total-processed) / rate)
}

// progressNotifier coalesces bursts of per-file updates into at most one
// notification per interval, with an explicit final flush.
type progressNotifier struct {
	mu       sync.Mutex
	sink     Notifier
	interval time.Duration
	lastSent time.Time
}

func newProgressNotifier(sink Notifier, interval time.Duration) *progressNotifier {
	return &progressNotifier{sink: sink, interval: interval}
}

func (n *progressNotifier) maybeNotify(p *syncProgress) {
	if n.sink == nil {
		return
	}
	now := time.Now()

	n.mu.Lock()
	if now.Sub(n.lastSent) < n.interval {
		n.mu.Unlock()
		return
	}
	n.lastSent = now
	n.mu.Unlock()

	n.sink.NotifyProgress(p.snapshot(now))
}

// flush sends unconditionally so the final state is always delivered.
func (n *progressNotifier) flush(p *syncProgress) {
	if n.sink == nil {
		return
	}
	now := time.Now()
	n.mu.Lock()
	n.lastSent = now
	n.mu.Unlock()

	n.sink.NotifyProgress(p.snapshot(now))
}
