// vaultsyncd keeps a document vault synchronized with a remote record
// store: it watches for changes, coalesces them through a bounded task
// queue, defers writes while offline, and bulk-resyncs new vaults in
// adaptively sized batches.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kimvales/vaultsync/internal/config"
	"github.com/kimvales/vaultsync/internal/errors"
	"github.com/kimvales/vaultsync/internal/logging"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:          "vaultsyncd",
		Short:        "Synchronize a document vault with a remote record store",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default vaultsync.yaml)")

	root.AddCommand(runCmd(), resyncCmd(), queueCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, and VAULTSYNC_* environment
// variables into one validated snapshot.
func loadConfig() (*config.Config, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("vaultsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/vaultsync")
	}
	v.SetEnvPrefix("VAULTSYNC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(errors.ErrConfigInvalid, "failed to read config file", err)
		}
	}

	cfg := config.Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(errors.ErrConfigInvalid, "failed to parse config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runCmd starts the long-running daemon: watcher, queue, reconciler, and
// an initial bulk run for empty scopes.
func runCmd() *cobra.Command {
	var skipBulk bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch the vault and sync changes continuously",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.start(ctx)

			if !skipBulk {
				go func() {
					files, err := a.vault.List()
					if err != nil {
						logging.Error("failed to list vault for bulk run", err)
						return
					}
					if err := a.scheduler.Run(ctx, files); err != nil {
						logging.Error("bulk run failed", err)
					}
				}()
			}

			err = a.watch(ctx)
			logging.Info("shutting down", nil)
			return err
		},
	}
	cmd.Flags().BoolVar(&skipBulk, "skip-bulk", false, "skip the initial bulk run")
	return cmd
}

// resyncCmd performs a one-shot bulk run and waits for the queue to drain.
func resyncCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Resynchronize the whole vault in adaptive batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.start(ctx)

			files, err := a.vault.List()
			if err != nil {
				return err
			}
			if err := a.scheduler.Run(ctx, files); err != nil {
				return err
			}

			// Enqueueing is done; wait for outcomes to drain.
			for a.scheduler.PendingExpectations() > 0 || a.queue.Len() > 0 {
				select {
				case <-ctx.Done():
					return errors.Wrap(errors.ErrBulkAborted,
						"resync interrupted with work outstanding", ctx.Err())
				case <-time.After(200 * time.Millisecond):
				}
			}

			p := a.scheduler.Progress()
			fmt.Fprintf(cmd.OutOrStdout(), "resynced %d of %d files\n",
				p.ProcessedFiles, p.TotalFiles)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "abort the resync after this long")
	return cmd
}

// queueCmd prints durable-queue statistics, useful when diagnosing a vault
// stuck offline.
func queueCmd() *cobra.Command {
	var retryFailed bool

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline durable queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if retryFailed {
				n, err := a.durable.RetryFailed()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %d failed operations\n", n)
			}

			stats, err := a.durable.Stats()
			if err != nil {
				return err
			}
			for _, status := range []string{"pending", "processing", "done", "failed"} {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %d\n", status, stats[status])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "reset failed operations to pending")
	return cmd
}
