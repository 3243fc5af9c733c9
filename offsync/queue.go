// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// MaxRetries is the fixed retry budget per queue entry. An entry that reaches
// it becomes a dead letter: excluded from automatic pushes, kept queryable
// until explicitly purged.
const MaxRetries = 3

const queueSchema = `CREATE TABLE IF NOT EXISTS _sync_queue (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_type TEXT NOT NULL,
	local_id    INTEGER NOT NULL,
	uuid        TEXT NOT NULL,
	remote_id   TEXT,
	op          TEXT NOT NULL CHECK (op IN ('INSERT','UPDATE','DELETE')),
	payload     TEXT NOT NULL,
	enqueued_at TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT
);
CREATE INDEX IF NOT EXISTS idx_sync_queue_order ON _sync_queue (entity_type, enqueued_at);
CREATE INDEX IF NOT EXISTS idx_sync_queue_retry ON _sync_queue (retry_count);`

// QueueEntry is one durable record of a not-yet-acknowledged local mutation.
type QueueEntry struct {
	ID         int64
	Entity     string
	LocalID    int64
	UUID       string
	RemoteID   string // snapshot at enqueue time; may be empty
	Op         Op
	Payload    json.RawMessage
	EnqueuedAt time.Time
	RetryCount int
	LastError  string
}

// Queue is the durable, ordered log of local mutations awaiting transmission.
// Pure storage: entries are created inside store mutation transactions and
// mutated only by the push reconciler.
type Queue struct {
	db *sql.DB
}

func insertQueueEntryTx(ctx context.Context, tx *sql.Tx, e QueueEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO _sync_queue (entity_type, local_id, uuid, remote_id, op, payload, enqueued_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`, e.Entity, e.LocalID, e.UUID, nullString(e.RemoteID), string(e.Op), string(e.Payload), formatTime(e.EnqueuedAt))
	if err != nil {
		return fmt.Errorf("failed to enqueue %s %s: %w", e.Entity, e.UUID, err)
	}
	return nil
}

// Pending returns all entries still inside the retry budget, ordered by
// enqueue time ascending. This is the snapshot a push cycle drains.
func (q *Queue) Pending(ctx context.Context) ([]QueueEntry, error) {
	return q.list(ctx, `WHERE retry_count < ? ORDER BY enqueued_at, id`, MaxRetries)
}

// DeadLetters returns the entries that exhausted their retry budget.
func (q *Queue) DeadLetters(ctx context.Context) ([]QueueEntry, error) {
	return q.list(ctx, `WHERE retry_count >= ? ORDER BY enqueued_at, id`, MaxRetries)
}

func (q *Queue) list(ctx context.Context, tail string, args ...any) ([]QueueEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, entity_type, local_id, uuid, remote_id, op, payload, enqueued_at, retry_count, last_error
		FROM _sync_queue `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	defer rows.Close()

	var out []QueueEntry
	for rows.Next() {
		var (
			e          QueueEntry
			remoteID   sql.NullString
			op         string
			payload    string
			enqueuedAt string
			lastError  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Entity, &e.LocalID, &e.UUID, &remoteID, &op, &payload, &enqueuedAt, &e.RetryCount, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		e.RemoteID = remoteID.String
		e.Op = Op(op)
		e.Payload = json.RawMessage(payload)
		e.LastError = lastError.String
		if e.EnqueuedAt, err = parseTime(enqueuedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue entries: %w", err)
	}
	return out, nil
}

// PendingCount counts entries still inside the retry budget.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM _sync_queue WHERE retry_count < ?`, MaxRetries).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return n, nil
}

// hasLaterQueueEntryTx reports whether the record identified by uuid has a
// queue entry newer than the given one.
func hasLaterQueueEntryTx(ctx context.Context, tx *sql.Tx, uuid string, afterID int64) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM _sync_queue WHERE uuid = ? AND id > ?)`, uuid, afterID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check queue for later entries: %w", err)
	}
	return exists, nil
}

func (q *Queue) deleteTx(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM _sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete queue entry %d: %w", id, err)
	}
	return nil
}

// MarkFailed increments the entry's retry count and records the error text.
func (q *Queue) MarkFailed(ctx context.Context, id int64, cause error) error {
	msg := cause.Error()
	if _, err := q.db.ExecContext(ctx, `
		UPDATE _sync_queue SET retry_count = retry_count + 1, last_error = ? WHERE id = ?
	`, msg, id); err != nil {
		return fmt.Errorf("failed to mark queue entry %d failed: %w", id, err)
	}
	return nil
}

// PurgeDead removes all dead-letter entries and returns how many were purged.
func (q *Queue) PurgeDead(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM _sync_queue WHERE retry_count >= ?`, MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge count: %w", err)
	}
	return int(n), nil
}
