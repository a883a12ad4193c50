package main

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/kimvales/vaultsync/internal/bulk"
	"github.com/kimvales/vaultsync/internal/config"
	"github.com/kimvales/vaultsync/internal/errors"
	"github.com/kimvales/vaultsync/internal/logging"
	"github.com/kimvales/vaultsync/internal/offline"
	"github.com/kimvales/vaultsync/internal/pipeline"
	"github.com/kimvales/vaultsync/internal/queue"
	"github.com/kimvales/vaultsync/internal/store"
	"github.com/kimvales/vaultsync/internal/task"
	"github.com/kimvales/vaultsync/internal/vault"
	"github.com/kimvales/vaultsync/internal/watcher"
)

// app holds the assembled daemon.
type app struct {
	cfg       *config.Config
	vault     *vault.Vault
	records   store.RecordStore // nil without a configured endpoint
	syncFile  *store.SyncFile
	durable   *offline.Store
	online    *store.OnlineSignal
	queue     *queue.TaskQueue
	scheduler *bulk.Scheduler
	reconcile *offline.Reconciler
	reporter  errors.Reporter
}

// newApp wires every component from one config snapshot.
func newApp(cfg *config.Config) (*app, error) {
	logging.Init(logging.Config{
		Level:      logging.LogLevel(strings.ToUpper(cfg.Logging.Level)),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})

	v := vault.New(cfg.Vault.Root)

	durable, err := offline.OpenStore(cfg.Offline.DataDir)
	if err != nil {
		return nil, err
	}

	syncFile, err := store.OpenSyncFile(filepath.Join(cfg.Offline.DataDir, "sync.json"))
	if err != nil {
		durable.Close()
		return nil, err
	}

	var records store.RecordStore
	if cfg.Store.Endpoint != "" {
		records = store.NewHTTPRecordStore(&store.HTTPConfig{
			Endpoint: cfg.Store.Endpoint,
			APIKey:   cfg.Store.APIKey,
			Timeout:  time.Duration(cfg.Store.TimeoutMs) * time.Millisecond,
		})
	}

	online := store.NewOnlineSignal(records != nil)
	reporter := errors.NewLogReporter()

	resolver := pipeline.NewResolver(v, records, syncFile, durable, online)

	backoffBase, backoffCap := cfg.QueueTimeouts()
	q := queue.New(&queue.Config{
		MaxSize:     cfg.Queue.MaxSize,
		Concurrency: cfg.Queue.Concurrency,
		MaxRetries:  cfg.Queue.MaxRetries,
		BackoffBase: backoffBase,
		BackoffCap:  backoffCap,
	}, resolver)

	processor := offline.NewProcessor(durable, records, syncFile, reporter, online)
	reconcile := offline.NewReconciler(processor, &offline.ReconcilerConfig{
		Interval: time.Duration(cfg.Offline.ReconcileIntervalMs) * time.Millisecond,
	})

	scheduler := bulk.NewScheduler(bulkOptions(cfg), v, q, records, syncFile, reporter,
		bulk.NotifierFunc(logProgress))

	return &app{
		cfg:       cfg,
		vault:     v,
		records:   records,
		syncFile:  syncFile,
		durable:   durable,
		online:    online,
		queue:     q,
		scheduler: scheduler,
		reconcile: reconcile,
		reporter:  reporter,
	}, nil
}

func bulkOptions(cfg *config.Config) bulk.Options {
	rules := make([]bulk.PriorityRule, 0, len(cfg.Bulk.PriorityRules))
	for _, r := range cfg.Bulk.PriorityRules {
		rules = append(rules, bulk.PriorityRule{Pattern: r.Pattern, Priority: r.Priority})
	}

	return bulk.Options{
		Scope:                cfg.Store.Scope,
		DefaultBatchSize:     cfg.Bulk.DefaultBatchSize,
		MinBatchSize:         cfg.Bulk.MinBatchSize,
		MaxBatchSize:         cfg.Bulk.MaxBatchSize,
		TargetBatchDuration:  time.Duration(cfg.Bulk.TargetBatchDurationMs) * time.Millisecond,
		MaxConcurrentBatches: cfg.Bulk.MaxConcurrentBatches,
		ThrottleDelay:        time.Duration(cfg.Bulk.ThrottleDelayMs) * time.Millisecond,
		NotifyInterval:       time.Duration(cfg.Bulk.NotifyIntervalMs) * time.Millisecond,
		TaskMaxRetries:       cfg.Queue.MaxRetries,
		Exclusions: bulk.ExclusionRules{
			Folders:          cfg.Bulk.ExcludeFolders,
			Extensions:       cfg.Bulk.ExcludeExtensions,
			FilenamePrefixes: cfg.Bulk.ExcludePrefixes,
			Filenames:        cfg.Bulk.ExcludeFiles,
		},
		PriorityRules: rules,
	}
}

func logProgress(p bulk.Progress) {
	logging.Info("bulk progress", map[string]interface{}{
		"percent":   int(p.ProgressPercent),
		"processed": p.ProcessedFiles,
		"total":     p.TotalFiles,
		"etaMs":     p.ETAms,
	})
}

// start brings the background machinery up.
func (a *app) start(ctx context.Context) {
	a.queue.Start(ctx)
	a.reconcile.Start(ctx)

	if a.records != nil {
		go a.probeConnectivity(ctx)
	}
}

// close tears the daemon down in dependency order.
func (a *app) close() {
	a.scheduler.Stop()
	a.scheduler.Close()
	a.reconcile.Stop()
	a.queue.Stop()
	if err := a.durable.Close(); err != nil {
		logging.Error("failed to close durable queue", err)
	}
}

// probeConnectivity polls the record store and flips the shared signal. A
// reconnect triggers an immediate replay pass so deferred writes drain
// without waiting for the next tick.
func (a *app) probeConnectivity(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		_, err := a.records.RecordCount(ctx, a.cfg.Store.Scope)
		reachable := !errors.Is(err, errors.ErrStoreUnreachable)

		if a.online.Set(reachable) {
			if reachable {
				logging.Info("record store reachable again", nil)
				a.reconcile.Trigger()
			} else {
				logging.Warn("record store unreachable", nil)
			}
		}
	}
}

// watch consumes vault events and feeds them to the queue until ctx ends.
func (a *app) watch(ctx context.Context) error {
	w, err := watcher.New(a.cfg.Vault.Root, watcher.Config{
		Extensions: a.cfg.Vault.Extensions,
		Debounce:   time.Duration(a.cfg.Vault.DebounceMs) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			a.enqueueEvent(ev)
		}
	}
}

func (a *app) enqueueEvent(ev watcher.Event) {
	priority := task.PriorityNormal
	if ev.Type == task.TypeDelete {
		priority = task.PriorityHigh
	}

	t := task.New(ev.Path, ev.Type, priority, a.cfg.Queue.MaxRetries)
	if err := a.queue.Enqueue(t); err != nil {
		a.reporter.Report(err, map[string]interface{}{"file": ev.Path, "type": string(ev.Type)})
	}
}
