// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rlazarev/go-offsync/httpremote"
	"github.com/rlazarev/go-offsync/internal/config"
	"github.com/rlazarev/go-offsync/offsync"
	"github.com/rlazarev/go-offsync/pgremote"
)

// managedRegistry declares the entity types the CLI synchronizes.
// Registration order is pull order.
func managedRegistry() *offsync.Registry {
	reg := offsync.NewRegistry()
	reg.MustRegister(offsync.EntityType{
		Name:       "office",
		Columns:    []string{"name", "city"},
		NaturalKey: []string{"name"},
	})
	reg.MustRegister(offsync.EntityType{
		Name:       "category",
		Columns:    []string{"name"},
		NaturalKey: []string{"name"},
	})
	reg.MustRegister(offsync.EntityType{
		Name:       "group",
		Table:      "groups",
		Columns:    []string{"name", "category_uuid"},
		NaturalKey: []string{"name"},
	})
	reg.MustRegister(offsync.EntityType{
		Name:       "subject",
		Columns:    []string{"name", "group_uuid"},
		NaturalKey: []string{"name"},
	})
	return reg
}

type app struct {
	db          *sql.DB
	pool        *pgxpool.Pool
	coordinator *offsync.Coordinator
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// newApp opens the local database and wires the configured remote backend
// into a coordinator. Callers must Close the returned app.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, syncCfg *offsync.Config) (*app, error) {
	reg := managedRegistry()

	db, err := sql.Open("sqlite3", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open local database: %w", err)
	}

	store, err := offsync.NewStore(db, reg, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init local database: %w", err)
	}

	a := &app{db: db}

	var remote offsync.Remote
	switch cfg.RemoteKind {
	case config.RemotePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.pool = pool
		client := pgremote.New(pool, cfg.PostgresSchema, logger)
		if err := client.InitSchema(ctx, reg.Names()); err != nil {
			a.Close()
			return nil, fmt.Errorf("init remote schema: %w", err)
		}
		remote = client
	default:
		remote = httpremote.New(cfg.RemoteURL, tokenSource(cfg))
	}

	if syncCfg == nil {
		syncCfg = offsync.DefaultConfig()
	}
	syncCfg.Logger = logger

	coordinator, err := offsync.NewCoordinator(store, remote, syncCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.coordinator = coordinator
	return a, nil
}

func tokenSource(cfg *config.Config) httpremote.TokenFunc {
	if cfg.AuthToken != "" {
		return httpremote.StaticToken(cfg.AuthToken)
	}
	if cfg.DevSecret != "" {
		return httpremote.HS256DevToken([]byte(cfg.DevSecret), cfg.DevSubject, cfg.DevTokenTTL)
	}
	return nil
}
