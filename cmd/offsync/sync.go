// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rlazarev/go-offsync/offsync"
	"github.com/rlazarev/go-offsync/prommetrics"
)

var syncInterval time.Duration

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push queued local changes and pull remote state",
	Long: `Run sync cycles against the configured remote backend.

Each cycle pushes the pending change queue, then pulls every managed entity
type and merges remote records into the local database. With --interval the
command keeps cycling until interrupted; otherwise it runs one cycle and
exits non-zero if anything failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		syncCfg := offsync.DefaultConfig()
		if cfg.MetricsAddr != "" {
			registry := prometheus.NewRegistry()
			syncCfg.Metrics = prommetrics.New(registry)
			go serveMetrics(cfg.MetricsAddr, registry)
			logger.Info("metrics listener started", "addr", cfg.MetricsAddr)
		}

		a, err := newApp(ctx, cfg, logger, syncCfg)
		if err != nil {
			return err
		}
		defer a.Close()

		result := a.coordinator.Sync(ctx)
		printResult(result)

		if syncInterval <= 0 {
			if !result.Success {
				return fmt.Errorf("sync finished with %d failure(s)", result.Failed)
			}
			return nil
		}

		ticker := time.NewTicker(syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info("sync loop stopped")
				return nil
			case <-ticker.C:
				printResult(a.coordinator.Sync(ctx))
			}
		}
	},
}

func printResult(result offsync.SyncResult) {
	fmt.Printf("synced=%d failed=%d success=%v\n", result.Synced, result.Failed, result.Success)
	for _, msg := range result.Errors {
		fmt.Printf("  error: %s\n", msg)
	}
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "metrics listener failed: %v\n", err)
	}
}

func init() {
	syncCmd.Flags().DurationVar(&syncInterval, "interval", 0,
		"keep syncing at this interval until interrupted (0 runs a single cycle)")
	rootCmd.AddCommand(syncCmd)
}
