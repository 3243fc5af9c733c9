// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"fmt"
	"sort"
)

// PullEntity fetches remote state for one entity type and merges it into the
// local store. The network fetch happens before the merge transaction so no
// SQLite transaction spans a blocked network call; the merge itself is
// applied atomically.
//
// Merge policy per remote record, keyed by uuid:
//   - local records with a pending operation are never touched: an unsynced
//     local edit must be pushed (or fail permanently) before any remote value
//     is allowed to win;
//   - a remote tombstone is applied to a live local record, and materialized
//     locally when the uuid is unknown;
//   - an unknown uuid is inserted locally as synced, remote being the origin;
//   - otherwise the remote version wins only if strictly newer than the local
//     update timestamp (ties keep local).
func (c *Coordinator) PullEntity(ctx context.Context, entity string) error {
	et, err := c.store.entityType(entity)
	if err != nil {
		return err
	}

	remoteRecords, err := c.remote.List(ctx, et.Name)
	if err != nil {
		return err
	}
	// The backend contract orders by update time ascending; keep it stable
	// even against sloppy implementations.
	sort.SliceStable(remoteRecords, func(i, j int) bool {
		return remoteRecords[i].UpdatedAt.Before(remoteRecords[j].UpdatedAt)
	})

	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	local, err := c.store.listAllTx(ctx, tx, et)
	if err != nil {
		return err
	}

	for _, rr := range remoteRecords {
		if rr.UUID == "" {
			c.logger.Warn("skipping remote record without uuid", "entity", et.Name, "remote_id", rr.RemoteID)
			continue
		}

		loc, exists := local[rr.UUID]
		if exists && loc.PendingOp != OpNone {
			// Locally originated, not yet pushed. Reconciled after the
			// pending push succeeds and a later pull re-fetches.
			c.metrics.ObservePullMerge(et.Name, MetricsMergeSkipLocal)
			c.logger.Debug("pull skipped: local record has pending operation",
				"entity", et.Name, "uuid", rr.UUID, "pending_op", loc.PendingOp)
			continue
		}

		switch {
		case rr.DeletedAt != nil:
			if !exists {
				// Materialize the tombstone locally so the merge key exists
				// for later pulls and a possible remote resurrection.
				if err := c.store.insertFromRemoteTx(ctx, tx, et, rr); err != nil {
					return err
				}
				c.metrics.ObservePullMerge(et.Name, MetricsMergeTombstone)
			} else if !loc.Deleted() {
				if err := c.store.applyRemoteTombstoneTx(ctx, tx, et, loc.LocalID, *rr.DeletedAt); err != nil {
					return err
				}
				c.metrics.ObservePullMerge(et.Name, MetricsMergeTombstone)
			}

		case !exists:
			if err := c.store.insertFromRemoteTx(ctx, tx, et, rr); err != nil {
				return err
			}
			c.metrics.ObservePullMerge(et.Name, MetricsMergeInsert)

		case rr.UpdatedAt.After(loc.UpdatedAt) && loc.IsSynced:
			if err := c.store.overwriteFromRemoteTx(ctx, tx, et, loc.LocalID, rr); err != nil {
				return err
			}
			c.metrics.ObservePullMerge(et.Name, MetricsMergeOverwrite)

		default:
			c.metrics.ObservePullMerge(et.Name, MetricsMergeSkipStale)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pull merge: %w", err)
	}
	return nil
}
