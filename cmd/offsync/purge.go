// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop dead-lettered change queue entries",
	Long: `Remove queue entries that exhausted their retry budget.

Dead-lettered entries are excluded from sync cycles but kept for inspection
until purged. Purging is irreversible: the local record stays as it is and
the change is never transmitted.`,
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

		n, err := a.coordinator.ClearDeadEntries(ctx)
		if err != nil {
			return fmt.Errorf("purge dead letters: %w", err)
		}
		fmt.Printf("purged %d dead-lettered entries\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}
