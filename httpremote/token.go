// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package httpremote

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StaticToken returns a TokenFunc that always yields the given token.
func StaticToken(token string) TokenFunc {
	return func(ctx context.Context) (string, error) { return token, nil }
}

// HS256DevToken returns a TokenFunc minting short-lived HS256 tokens for the
// given subject. Intended for development and test backends; production
// deployments inject their own TokenFunc backed by a real auth flow.
func HS256DevToken(secret []byte, subject string, ttl time.Duration) TokenFunc {
	return func(ctx context.Context) (string, error) {
		now := time.Now()
		claims := jwt.MapClaims{
			"sub": subject,
			"iat": now.Unix(),
			"exp": now.Add(ttl).Unix(),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		if err != nil {
			return "", fmt.Errorf("failed to sign token: %w", err)
		}
		return token, nil
	}
}
