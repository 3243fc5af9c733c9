// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"fmt"
)

// PushResult aggregates one queue drain.
type PushResult struct {
	Synced int
	Failed int
	Errors []string
}

// PushAll drains the change queue against the remote backend. Entries are
// taken in enqueue order and processed strictly sequentially to preserve
// causal order per record. One entry's failure never aborts the batch: the
// failure is recorded on the entry and processing continues. Entries that
// exhaust their retry budget stay queued as dead letters.
func (c *Coordinator) PushAll(ctx context.Context) PushResult {
	var result PushResult

	entries, err := c.queue.Pending(ctx)
	if err != nil {
		result.Failed++
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	for _, entry := range entries {
		if err := c.pushEntry(ctx, entry); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s %s %s: %v", entry.Entity, entry.Op, entry.UUID, err))
			c.metrics.ObservePushEntry(entry.Entity, entry.Op, MetricsStatusFailed)
			c.logger.Warn("push entry failed",
				"entity", entry.Entity, "op", entry.Op, "uuid", entry.UUID,
				"retry_count", entry.RetryCount+1, "error", err)
			if markErr := c.queue.MarkFailed(ctx, entry.ID, err); markErr != nil {
				c.logger.Error("failed to record push failure", "entry_id", entry.ID, "error", markErr)
			}
			continue
		}
		result.Synced++
		c.metrics.ObservePushEntry(entry.Entity, entry.Op, MetricsStatusSynced)
	}

	return result
}

func (c *Coordinator) pushEntry(ctx context.Context, entry QueueEntry) error {
	et, err := c.store.entityType(entry.Entity)
	if err != nil {
		return err
	}

	// The record's current remote identity may have been assigned by an
	// earlier entry in this same drain, so re-read it instead of trusting
	// the snapshot taken at enqueue time.
	rec, err := c.store.GetByUUID(ctx, entry.Entity, entry.UUID)
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}

	switch entry.Op {
	case OpInsert:
		return c.pushInsert(ctx, et, entry, rec)
	case OpUpdate:
		return c.pushUpdate(ctx, et, entry, rec)
	case OpDelete:
		return c.pushDelete(ctx, et, entry, rec)
	default:
		return fmt.Errorf("unknown queue operation %q", entry.Op)
	}
}

func (c *Coordinator) pushInsert(ctx context.Context, et EntityType, entry QueueEntry, rec Record) error {
	payload, err := decodePayload(entry.Payload)
	if err != nil {
		return err
	}
	remoteID, err := c.remote.Create(ctx, et.Name, payload)
	if err != nil {
		return err
	}
	return c.acknowledge(ctx, et, entry, rec.LocalID, remoteID)
}

func (c *Coordinator) pushUpdate(ctx context.Context, et EntityType, entry QueueEntry, rec Record) error {
	if rec.RemoteID == "" {
		// The originating insert has not been pushed yet. Retryable: a later
		// drain may find the remote id assigned.
		return &MissingRemoteIDError{Entity: et.Name, UUID: entry.UUID}
	}
	payload, err := decodePayload(entry.Payload)
	if err != nil {
		return err
	}
	if err := c.remote.Update(ctx, et.Name, rec.RemoteID, payload); err != nil {
		return err
	}
	return c.acknowledge(ctx, et, entry, rec.LocalID, "")
}

func (c *Coordinator) pushDelete(ctx context.Context, et EntityType, entry QueueEntry, rec Record) error {
	if rec.RemoteID != "" {
		deletedAt := rec.UpdatedAt
		if rec.DeletedAt != nil {
			deletedAt = *rec.DeletedAt
		}
		if err := c.remote.SoftDelete(ctx, et.Name, rec.RemoteID, deletedAt); err != nil {
			return err
		}
	}
	// No remote id means the remote side never saw this record; the local
	// tombstone alone settles it.
	return c.acknowledge(ctx, et, entry, rec.LocalID, "")
}

// acknowledge finalizes a pushed entry: local sync metadata update and queue
// entry removal commit together, so the entry survives any partial failure.
// The record settles only with its last queued entry: when a later entry for
// the same uuid is still pending, only a newly assigned remote id is stored
// and the record keeps reading as unsynced.
func (c *Coordinator) acknowledge(ctx context.Context, et EntityType, entry QueueEntry, localID int64, remoteID string) error {
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	later, err := hasLaterQueueEntryTx(ctx, tx, entry.UUID, entry.ID)
	if err != nil {
		return err
	}
	if err := c.store.markPushedTx(ctx, tx, et, localID, remoteID, !later); err != nil {
		return err
	}
	if err := c.queue.deleteTx(ctx, tx, entry.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit push acknowledgement: %w", err)
	}
	return nil
}
