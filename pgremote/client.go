// Package pgremote implements the offsync remote backend contract directly
// against an authoritative Postgres store, for deployments that sync without
// an HTTP tier in between.
//
// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package pgremote

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rlazarev/go-offsync/offsync"
)

// Client implements offsync.Remote on a pgx connection pool. One table per
// entity type, keyed by a backend-assigned bigserial id with a unique uuid
// merge key and a timestamptz tombstone.
type Client struct {
	pool   *pgxpool.Pool
	schema string
	logger *slog.Logger
}

// New creates a Postgres remote over the given pool. Entity tables live in
// the given schema.
func New(pool *pgxpool.Pool, schema string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{pool: pool, schema: schema, logger: logger}
}

var _ offsync.Remote = (*Client)(nil)

// InitSchema creates the schema and one table per entity type. Safe to call
// repeatedly.
func (c *Client) InitSchema(ctx context.Context, entities []string) error {
	if _, err := c.pool.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgx.Identifier{c.schema}.Sanitize())); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", c.schema, err)
	}
	for _, entity := range entities {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id         BIGSERIAL PRIMARY KEY,
			uuid       TEXT NOT NULL UNIQUE,
			fields     JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			deleted_at TIMESTAMPTZ
		)`, c.table(entity))
		if _, err := c.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table for %s: %w", entity, err)
		}
		idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (updated_at)`,
			pgx.Identifier{entity + "_updated_at_idx"}.Sanitize(), c.table(entity))
		if _, err := c.pool.Exec(ctx, idx); err != nil {
			return fmt.Errorf("failed to index table for %s: %w", entity, err)
		}
	}
	return nil
}

func (c *Client) table(entity string) string {
	return pgx.Identifier{c.schema, entity}.Sanitize()
}

// Create inserts the record and returns its backend id. Upserting by uuid
// keeps a retried push of the same insert idempotent.
func (c *Client) Create(ctx context.Context, entity string, payload offsync.Payload) (string, error) {
	var id int64
	err := c.withRetry(ctx, func() error {
		return c.pool.QueryRow(ctx, fmt.Sprintf(`
			INSERT INTO %s (uuid, fields, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (uuid) DO UPDATE
				SET fields = EXCLUDED.fields, updated_at = EXCLUDED.updated_at
			RETURNING id
		`, c.table(entity)), payload.UUID, payload.Fields, payload.UpdatedAt.Time()).Scan(&id)
	})
	if err != nil {
		return "", &offsync.RemoteCallError{Entity: entity, Op: "create", Err: err}
	}
	return strconv.FormatInt(id, 10), nil
}

// Update overwrites the record unless it is remote-deleted.
func (c *Client) Update(ctx context.Context, entity, remoteID string, payload offsync.Payload) error {
	id, err := parseRemoteID(remoteID)
	if err != nil {
		return &offsync.RemoteCallError{Entity: entity, Op: "update", Err: err}
	}
	var tag int64
	err = c.withRetry(ctx, func() error {
		res, err := c.pool.Exec(ctx, fmt.Sprintf(`
			UPDATE %s SET fields = $2, updated_at = $3
			WHERE id = $1 AND deleted_at IS NULL
		`, c.table(entity)), id, payload.Fields, payload.UpdatedAt.Time())
		if err != nil {
			return err
		}
		tag = res.RowsAffected()
		return nil
	})
	if err != nil {
		return &offsync.RemoteCallError{Entity: entity, Op: "update", Err: err}
	}
	if tag == 0 {
		return &offsync.RemoteCallError{Entity: entity, Op: "update",
			Err: fmt.Errorf("row %s missing or deleted", remoteID)}
	}
	return nil
}

// SoftDelete stamps the remote tombstone.
func (c *Client) SoftDelete(ctx context.Context, entity, remoteID string, deletedAt time.Time) error {
	id, err := parseRemoteID(remoteID)
	if err != nil {
		return &offsync.RemoteCallError{Entity: entity, Op: "soft-delete", Err: err}
	}
	err = c.withRetry(ctx, func() error {
		_, err := c.pool.Exec(ctx, fmt.Sprintf(`
			UPDATE %s SET deleted_at = $2, updated_at = $2 WHERE id = $1
		`, c.table(entity)), id, deletedAt.UTC())
		return err
	})
	if err != nil {
		return &offsync.RemoteCallError{Entity: entity, Op: "soft-delete", Err: err}
	}
	return nil
}

// List returns all records of the entity type ordered by update time
// ascending, tombstoned rows included.
func (c *Client) List(ctx context.Context, entity string) ([]offsync.RemoteRecord, error) {
	rows, err := c.pool.Query(ctx, fmt.Sprintf(`
		SELECT id::text, uuid, fields, created_at, updated_at, deleted_at
		FROM %s ORDER BY updated_at, id
	`, c.table(entity)))
	if err != nil {
		return nil, &offsync.RemoteCallError{Entity: entity, Op: "list", Err: err}
	}
	defer rows.Close()

	var out []offsync.RemoteRecord
	for rows.Next() {
		var (
			rr        offsync.RemoteRecord
			fields    map[string]any
			deletedAt *time.Time
		)
		if err := rows.Scan(&rr.RemoteID, &rr.UUID, &fields, &rr.CreatedAt, &rr.UpdatedAt, &deletedAt); err != nil {
			return nil, &offsync.RemoteCallError{Entity: entity, Op: "list", Err: err}
		}
		rr.Fields = fields
		rr.CreatedAt = rr.CreatedAt.UTC()
		rr.UpdatedAt = rr.UpdatedAt.UTC()
		if deletedAt != nil {
			t := deletedAt.UTC()
			rr.DeletedAt = &t
		}
		out = append(out, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, &offsync.RemoteCallError{Entity: entity, Op: "list", Err: err}
	}
	return out, nil
}

func parseRemoteID(remoteID string) (int64, error) {
	id, err := strconv.ParseInt(remoteID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid remote id %q: %w", remoteID, err)
	}
	return id, nil
}
