// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package httpremote

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("abc")(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc", tok)
}

func TestHS256DevTokenMintsValidClaims(t *testing.T) {
	secret := []byte("dev-secret")
	source := HS256DevToken(secret, "device-42", time.Hour)

	raw, err := source(context.Background())
	require.NoError(t, err)

	parsed, err := jwt.Parse(raw, func(tok *jwt.Token) (any, error) {
		require.Equal(t, jwt.SigningMethodHS256, tok.Method)
		return secret, nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	claims := parsed.Claims.(jwt.MapClaims)
	sub, err := claims.GetSubject()
	require.NoError(t, err)
	require.Equal(t, "device-42", sub)

	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	require.True(t, exp.After(time.Now()))
}
