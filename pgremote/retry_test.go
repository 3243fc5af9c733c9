// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package pgremote

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsRetryablePGError(t *testing.T) {
	cases := []struct {
		code      string
		retryable bool
	}{
		{"40001", true},
		{"40P01", true},
		{"55P03", true},
		{"23505", false}, // unique_violation
		{"42P01", false}, // undefined_table
	}
	for _, tc := range cases {
		err := fmt.Errorf("exec: %w", &pgconn.PgError{Code: tc.code})
		require.Equal(t, tc.retryable, isRetryablePGError(err), "code %s", tc.code)
	}
	require.False(t, isRetryablePGError(errors.New("plain failure")))
}

func TestParseRemoteID(t *testing.T) {
	id, err := parseRemoteID("42")
	require.NoError(t, err)
	require.Equal(t, int64(42), id)

	_, err = parseRemoteID("not-a-number")
	require.Error(t, err)
}
