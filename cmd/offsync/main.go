// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rlazarev/go-offsync/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "offsync",
	Short: "Offline-first synchronization for a local SQLite dataset",
	Long: `offsync keeps a local SQLite dataset in sync with a remote backend.

Offline edits accumulate in a durable change queue. A sync cycle pushes the
queue to the remote, then pulls the remote state back and merges it with a
last-write-wins policy that never overwrites unsynced local edits.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := setupLogger(cfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToUpper(cfg.LogFormat) == "JSON" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
