// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending and dead-lettered change queue entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		pending, err := a.coordinator.PendingCount(ctx)
		if err != nil {
			return fmt.Errorf("count pending entries: %w", err)
		}
		dead, err := a.coordinator.DeadLetters(ctx)
		if err != nil {
			return fmt.Errorf("list dead letters: %w", err)
		}

		fmt.Printf("pending: %d\n", pending)
		fmt.Printf("dead-lettered: %d\n", len(dead))
		for _, entry := range dead {
			fmt.Printf("  [%d] %s %s uuid=%s retries=%d last_error=%s\n",
				entry.ID, entry.Op, entry.Entity, entry.UUID,
				entry.RetryCount, entry.LastError)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
