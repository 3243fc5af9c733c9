// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package pgremote

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rlazarev/go-offsync/offsync"
)

// newTestClient starts a throwaway Postgres container and returns a client
// with the schema initialized for the office entity type.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("offsync_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	client := New(pool, "offsync", nil)
	require.NoError(t, client.InitSchema(ctx, []string{"office"}))
	return client
}

func payloadAt(uuid string, fields offsync.FieldMap, ts time.Time) offsync.Payload {
	return offsync.Payload{UUID: uuid, UpdatedAt: offsync.ISOTime(ts), Fields: fields}
}

func TestCreateIsIdempotentPerUUID(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	first := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	id1, err := client.Create(ctx, "office", payloadAt("u-1", offsync.FieldMap{"name": "HQ", "city": "Lisbon"}, first))
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	// A retried push of the same insert lands on the same row.
	second := first.Add(5 * time.Minute)
	id2, err := client.Create(ctx, "office", payloadAt("u-1", offsync.FieldMap{"name": "HQ", "city": "Porto"}, second))
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	records, err := client.List(ctx, "office")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, id1, records[0].RemoteID)
	require.Equal(t, "u-1", records[0].UUID)
	require.Equal(t, "Porto", records[0].Fields["city"])
	require.True(t, records[0].UpdatedAt.Equal(second))
}

func TestUpdateRequiresLiveRow(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	id, err := client.Create(ctx, "office", payloadAt("u-1", offsync.FieldMap{"name": "HQ"}, ts))
	require.NoError(t, err)

	require.NoError(t, client.Update(ctx, "office", id,
		payloadAt("u-1", offsync.FieldMap{"name": "HQ North"}, ts.Add(time.Minute))))

	err = client.Update(ctx, "office", "999999",
		payloadAt("u-1", offsync.FieldMap{"name": "HQ"}, ts))
	var rce *offsync.RemoteCallError
	require.ErrorAs(t, err, &rce)
	require.Contains(t, rce.Error(), "missing or deleted")

	// Tombstoned rows reject updates the same way.
	require.NoError(t, client.SoftDelete(ctx, "office", id, ts.Add(2*time.Minute)))
	err = client.Update(ctx, "office", id,
		payloadAt("u-1", offsync.FieldMap{"name": "HQ South"}, ts.Add(3*time.Minute)))
	require.ErrorAs(t, err, &rce)
}

func TestListOrdersByUpdateTimeWithTombstones(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	early := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	idLate, err := client.Create(ctx, "office", payloadAt("u-1", offsync.FieldMap{"name": "HQ"}, late))
	require.NoError(t, err)
	_, err = client.Create(ctx, "office", payloadAt("u-2", offsync.FieldMap{"name": "Branch"}, early))
	require.NoError(t, err)

	deletedAt := late.Add(time.Hour)
	require.NoError(t, client.SoftDelete(ctx, "office", idLate, deletedAt))

	records, err := client.List(ctx, "office")
	require.NoError(t, err)
	require.Len(t, records, 2)

	// The soft-delete moved u-1's update time past u-2's.
	require.Equal(t, "u-2", records[0].UUID)
	require.Nil(t, records[0].DeletedAt)
	require.Equal(t, "u-1", records[1].UUID)
	require.NotNil(t, records[1].DeletedAt)
	require.True(t, records[1].DeletedAt.Equal(deletedAt))
	require.True(t, records[1].UpdatedAt.Equal(deletedAt))
}
