// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueOrderedByEnqueueTime(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	clock := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	a, err := store.Create(ctx, "office", FieldMap{"name": "A"})
	require.NoError(t, err)
	b, err := store.Create(ctx, "office", FieldMap{"name": "B"})
	require.NoError(t, err)
	_, err = store.Update(ctx, "office", a.LocalID, FieldMap{"city": "Lisbon"})
	require.NoError(t, err)

	entries, err := store.Queue().Pending(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, a.UUID, entries[0].UUID)
	require.Equal(t, b.UUID, entries[1].UUID)
	require.Equal(t, a.UUID, entries[2].UUID)
	require.Equal(t, OpUpdate, entries[2].Op)
	require.True(t, entries[0].EnqueuedAt.Before(entries[1].EnqueuedAt))
	require.True(t, entries[1].EnqueuedAt.Before(entries[2].EnqueuedAt))
}

func TestQueueRetryBookkeeping(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	queue := store.Queue()

	_, err := store.Create(ctx, "office", FieldMap{"name": "A"})
	require.NoError(t, err)

	entries, err := queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	id := entries[0].ID

	require.NoError(t, queue.MarkFailed(ctx, id, errors.New("connection refused")))
	entries, err = queue.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, entries[0].RetryCount)
	require.Equal(t, "connection refused", entries[0].LastError)

	// Exhaust the budget: the entry becomes a dead letter but is not lost.
	require.NoError(t, queue.MarkFailed(ctx, id, errors.New("timeout")))
	require.NoError(t, queue.MarkFailed(ctx, id, errors.New("timeout")))

	entries, err = queue.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)

	n, err := queue.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	dead, err := queue.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, MaxRetries, dead[0].RetryCount)
	require.Equal(t, "timeout", dead[0].LastError)

	purged, err := queue.PurgeDead(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	dead, err = queue.DeadLetters(ctx)
	require.NoError(t, err)
	require.Empty(t, dead)
}
