// Package config holds the daemon configuration as an immutable snapshot.
// Readers always see a complete, validated value; reloads swap the whole
// snapshot atomically rather than mutating fields in place.
package config

import (
	"sync/atomic"
	"time"

	"github.com/kimvales/vaultsync/internal/errors"
)

// Config is one immutable configuration snapshot.
type Config struct {
	Vault   VaultConfig   `mapstructure:"vault" yaml:"vault"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Queue   QueueConfig   `mapstructure:"queue" yaml:"queue"`
	Bulk    BulkConfig    `mapstructure:"bulk" yaml:"bulk"`
	Offline OfflineConfig `mapstructure:"offline" yaml:"offline"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

type VaultConfig struct {
	// Root is the vault directory to watch and sync.
	Root string `mapstructure:"root" yaml:"root"`
	// Extensions limits watching to these file extensions.
	Extensions []string `mapstructure:"extensions" yaml:"extensions"`
	// DebounceMs coalesces rapid editor saves into one event.
	DebounceMs int `mapstructure:"debounce_ms" yaml:"debounce_ms"`
}

type StoreConfig struct {
	// Endpoint of the remote record store. Empty disables the remote
	// store; the local sync file becomes the source of truth.
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	Scope     string `mapstructure:"scope" yaml:"scope"`
	TimeoutMs int    `mapstructure:"timeout_ms" yaml:"timeout_ms"`
}

type QueueConfig struct {
	MaxSize       int `mapstructure:"max_size" yaml:"max_size"`
	Concurrency   int `mapstructure:"concurrency" yaml:"concurrency"`
	MaxRetries    int `mapstructure:"max_retries" yaml:"max_retries"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms" yaml:"backoff_base_ms"`
	BackoffCapMs  int `mapstructure:"backoff_cap_ms" yaml:"backoff_cap_ms"`
}

type BulkConfig struct {
	DefaultBatchSize      int      `mapstructure:"default_batch_size" yaml:"default_batch_size"`
	MinBatchSize          int      `mapstructure:"min_batch_size" yaml:"min_batch_size"`
	MaxBatchSize          int      `mapstructure:"max_batch_size" yaml:"max_batch_size"`
	TargetBatchDurationMs int      `mapstructure:"target_batch_duration_ms" yaml:"target_batch_duration_ms"`
	MaxConcurrentBatches  int      `mapstructure:"max_concurrent_batches" yaml:"max_concurrent_batches"`
	ThrottleDelayMs       int      `mapstructure:"throttle_delay_ms" yaml:"throttle_delay_ms"`
	NotifyIntervalMs      int      `mapstructure:"notify_interval_ms" yaml:"notify_interval_ms"`
	ExcludeFolders        []string `mapstructure:"exclude_folders" yaml:"exclude_folders"`
	ExcludeExtensions     []string `mapstructure:"exclude_extensions" yaml:"exclude_extensions"`
	ExcludePrefixes       []string `mapstructure:"exclude_prefixes" yaml:"exclude_prefixes"`
	ExcludeFiles          []string `mapstructure:"exclude_files" yaml:"exclude_files"`

	// PriorityRules maps a path substring to a priority tier.
	PriorityRules []PriorityRuleConfig `mapstructure:"priority_rules" yaml:"priority_rules"`
}

type PriorityRuleConfig struct {
	Pattern  string `mapstructure:"pattern" yaml:"pattern"`
	Priority int    `mapstructure:"priority" yaml:"priority"`
}

type OfflineConfig struct {
	// DataDir holds the durable queue database.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// ReconcileIntervalMs is the period between replay passes.
	ReconcileIntervalMs int `mapstructure:"reconcile_interval_ms" yaml:"reconcile_interval_ms"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	// File enables rotated file output when set.
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// Default returns the production defaults. The vault root is the only
// field without a usable default.
func Default() *Config {
	return &Config{
		Vault: VaultConfig{
			Extensions: []string{".md"},
			DebounceMs: 400,
		},
		Store: StoreConfig{
			Scope:     "default",
			TimeoutMs: 10000,
		},
		Queue: QueueConfig{
			MaxSize:       1000,
			Concurrency:   4,
			MaxRetries:    3,
			BackoffBaseMs: 500,
			BackoffCapMs:  60000,
		},
		Bulk: BulkConfig{
			DefaultBatchSize:      50,
			MinBatchSize:          10,
			MaxBatchSize:          300,
			TargetBatchDurationMs: 2000,
			MaxConcurrentBatches:  2,
			NotifyIntervalMs:      250,
		},
		Offline: OfflineConfig{
			DataDir:             ".vaultsync",
			ReconcileIntervalMs: 60000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Validate checks invariants the rest of the daemon assumes.
func (c *Config) Validate() error {
	if c.Vault.Root == "" {
		return errors.New(errors.ErrConfigInvalid, "vault.root is required")
	}
	if c.Queue.MaxSize <= 0 {
		return errors.New(errors.ErrConfigInvalid, "queue.max_size must be positive")
	}
	if c.Queue.Concurrency <= 0 {
		return errors.New(errors.ErrConfigInvalid, "queue.concurrency must be positive")
	}
	if c.Bulk.MinBatchSize <= 0 {
		return errors.New(errors.ErrConfigInvalid, "bulk.min_batch_size must be positive")
	}
	if c.Bulk.MaxBatchSize < c.Bulk.MinBatchSize {
		return errors.Newf(errors.ErrConfigInvalid,
			"bulk.max_batch_size (%d) must be at least bulk.min_batch_size (%d)",
			c.Bulk.MaxBatchSize, c.Bulk.MinBatchSize)
	}
	if c.Bulk.DefaultBatchSize < c.Bulk.MinBatchSize ||
		c.Bulk.DefaultBatchSize > c.Bulk.MaxBatchSize {
		return errors.Newf(errors.ErrConfigInvalid,
			"bulk.default_batch_size (%d) must be within [%d, %d]",
			c.Bulk.DefaultBatchSize, c.Bulk.MinBatchSize, c.Bulk.MaxBatchSize)
	}
	if c.Bulk.TargetBatchDurationMs <= 0 {
		return errors.New(errors.ErrConfigInvalid, "bulk.target_batch_duration_ms must be positive")
	}
	if c.Store.Endpoint != "" && c.Store.Scope == "" {
		return errors.New(errors.ErrConfigInvalid, "store.scope is required with a store endpoint")
	}
	return nil
}

// QueueTimeouts converts the millisecond knobs to durations.
func (c *Config) QueueTimeouts() (base, limit time.Duration) {
	return time.Duration(c.Queue.BackoffBaseMs) * time.Millisecond,
		time.Duration(c.Queue.BackoffCapMs) * time.Millisecond
}

// Provider hands out the current snapshot and swaps in replacements
// atomically.
type Provider struct {
	current atomic.Pointer[Config]
}

// NewProvider creates a provider seeded with cfg.
func NewProvider(cfg *Config) *Provider {
	p := &Provider{}
	p.current.Store(cfg)
	return p
}

// Get returns the current snapshot. Callers must not mutate it.
func (p *Provider) Get() *Config {
	return p.current.Load()
}

// Replace validates the candidate and swaps it in. The previous snapshot
// stays visible to readers that already hold it.
func (p *Provider) Replace(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.current.Store(cfg)
	return nil
}
