// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

// Package config loads environment-driven settings for the offsync CLI.
// A local .env file is honored when present so development setups do not
// need to export variables by hand.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RemoteHTTP     = "http"
	RemotePostgres = "postgres"
)

type Config struct {
	// Local SQLite database file.
	DatabasePath string

	// Remote backend selection: "http" or "postgres".
	RemoteKind string

	// HTTP backend.
	RemoteURL   string
	AuthToken   string
	DevSecret   string
	DevSubject  string
	DevTokenTTL time.Duration

	// Postgres backend.
	PostgresURL    string
	PostgresSchema string

	LogLevel  string
	LogFormat string

	// Address for the Prometheus /metrics listener, empty disables it.
	MetricsAddr string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath:   getEnv("OFFSYNC_DB_PATH", "offsync.db"),
		RemoteKind:     strings.ToLower(getEnv("OFFSYNC_REMOTE", RemoteHTTP)),
		RemoteURL:      getEnv("OFFSYNC_REMOTE_URL", "http://localhost:8080/api"),
		AuthToken:      getEnv("OFFSYNC_TOKEN", ""),
		DevSecret:      getEnv("OFFSYNC_DEV_SECRET", ""),
		DevSubject:     getEnv("OFFSYNC_DEV_SUBJECT", "offsync-cli"),
		DevTokenTTL:    time.Duration(getEnvInt("OFFSYNC_DEV_TOKEN_TTL_MIN", 60)) * time.Minute,
		PostgresURL:    getEnv("OFFSYNC_POSTGRES_URL", ""),
		PostgresSchema: getEnv("OFFSYNC_POSTGRES_SCHEMA", "offsync"),
		LogLevel:       getEnv("OFFSYNC_LOG_LEVEL", "INFO"),
		LogFormat:      getEnv("OFFSYNC_LOG_FORMAT", "TEXT"),
		MetricsAddr:    getEnv("OFFSYNC_METRICS_ADDR", ""),
	}

	switch cfg.RemoteKind {
	case RemoteHTTP:
		if cfg.RemoteURL == "" {
			return nil, fmt.Errorf("OFFSYNC_REMOTE_URL is required for the http remote")
		}
	case RemotePostgres:
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("OFFSYNC_POSTGRES_URL is required for the postgres remote")
		}
	default:
		return nil, fmt.Errorf("unknown OFFSYNC_REMOTE %q (expected %q or %q)",
			cfg.RemoteKind, RemoteHTTP, RemotePostgres)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
