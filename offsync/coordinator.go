// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Config holds coordinator configuration.
type Config struct {
	Logger  *slog.Logger    // defaults to slog.Default()
	Metrics MetricsRecorder // nil disables recording

	// OnSyncResult, when set, receives the result of every cycle started by
	// a connectivity transition. Explicit Sync calls return their result
	// directly and do not go through the callback.
	OnSyncResult func(SyncResult)
}

// DefaultConfig returns a configuration with library defaults.
func DefaultConfig() *Config {
	return &Config{}
}

// SyncResult aggregates one full sync cycle. Nothing escapes a cycle as an
// error: every failure is represented here.
type SyncResult struct {
	Success bool
	Synced  int
	Failed  int
	Errors  []string
}

// Coordinator owns connectivity state and single-flight execution of sync
// cycles: push first, then pull per entity type in registration order. One
// explicitly constructed Coordinator owns all sync state; share it by handle.
type Coordinator struct {
	store  *Store
	queue  *Queue
	remote Remote
	config *Config

	logger  *slog.Logger
	metrics MetricsRecorder

	syncing atomic.Bool
	online  atomic.Bool
}

// NewCoordinator wires the store and the remote backend into a coordinator.
func NewCoordinator(store *Store, remote Remote, config *Config) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Coordinator{
		store:   store,
		queue:   store.Queue(),
		remote:  remote,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// IsSyncing reports whether a sync cycle is currently running.
func (c *Coordinator) IsSyncing() bool { return c.syncing.Load() }

// IsConnected reports the last connectivity state fed to the coordinator.
func (c *Coordinator) IsConnected() bool { return c.online.Load() }

// ConnectivityChanged feeds a connectivity monitor event. Only the
// offline-to-online edge triggers a sync attempt, exactly one, in the
// background. The result is delivered through Config.OnSyncResult.
func (c *Coordinator) ConnectivityChanged(isOnline bool) {
	wasOnline := c.online.Swap(isOnline)
	if wasOnline || !isOnline {
		return
	}
	c.logger.Info("connectivity restored, starting sync")
	go func() {
		result := c.Sync(context.Background())
		if c.config.OnSyncResult != nil {
			c.config.OnSyncResult(result)
		}
	}()
}

// Sync runs one cycle: drain the change queue, then pull every registered
// entity type in deterministic order. A call made while another cycle is in
// flight is rejected immediately as a no-op failure; nothing is queued.
func (c *Coordinator) Sync(ctx context.Context) SyncResult {
	if !c.syncing.CompareAndSwap(false, true) {
		return SyncResult{Success: false, Errors: []string{ErrSyncInProgress.Error()}}
	}
	defer c.syncing.Store(false)

	start := time.Now()
	push := c.PushAll(ctx)
	result := SyncResult{
		Synced: push.Synced,
		Failed: push.Failed,
		Errors: push.Errors,
	}

	for _, entity := range c.store.reg.Names() {
		if err := c.PullEntity(ctx, entity); err != nil {
			// One entity type's fetch failure never blocks the others.
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("pull %s: %v", entity, err))
			c.logger.Warn("pull failed", "entity", entity, "error", err)
		}
	}

	result.Success = result.Failed == 0
	c.metrics.ObserveCycle(result, time.Since(start))
	c.recordQueueDepth(ctx)
	c.logger.Info("sync cycle finished",
		"success", result.Success, "synced", result.Synced, "failed", result.Failed,
		"duration_ms", time.Since(start).Milliseconds())
	return result
}

// PendingCount returns the number of queue entries still eligible for
// automatic push.
func (c *Coordinator) PendingCount(ctx context.Context) (int, error) {
	return c.queue.PendingCount(ctx)
}

// DeadLetters returns the entries that exhausted their retry budget and
// await an explicit purge.
func (c *Coordinator) DeadLetters(ctx context.Context) ([]QueueEntry, error) {
	return c.queue.DeadLetters(ctx)
}

// ClearDeadEntries purges dead-letter entries and returns how many were
// removed.
func (c *Coordinator) ClearDeadEntries(ctx context.Context) (int, error) {
	n, err := c.queue.PurgeDead(ctx)
	if err == nil {
		c.recordQueueDepth(ctx)
	}
	return n, err
}

func (c *Coordinator) recordQueueDepth(ctx context.Context) {
	pending, err := c.queue.PendingCount(ctx)
	if err != nil {
		return
	}
	dead, err := c.queue.DeadLetters(ctx)
	if err != nil {
		return
	}
	c.metrics.SetQueueDepth(pending, len(dead))
}
