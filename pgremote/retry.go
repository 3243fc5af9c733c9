// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package pgremote

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	retryAttempts = 3
	retryBaseWait = 50 * time.Millisecond
)

// withRetry re-runs fn on transient Postgres failures (serialization,
// deadlock, lock timeout). Anything else surfaces immediately.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	wait := retryBaseWait
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= retryAttempts || !isRetryablePGError(err) {
			return err
		}
		c.logger.Debug("retrying transient postgres failure", "attempt", attempt, "error", err)
		if err := sleepWithContext(ctx, wait); err != nil {
			return err
		}
		wait *= 2
	}
}

func isRetryablePGError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available (incl. lock_timeout)
		return true
	default:
		return false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
