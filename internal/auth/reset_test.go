// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credkeeper/internal/auth"
	"github.com/holomush/credkeeper/pkg/errutil"
)

func TestNewResetToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	accountID := ulid.Make()
	req := auth.RequestContext{IPAddress: "203.0.113.7", UserAgent: "curl/8.0"}

	t.Run("sets expiry from lifetime", func(t *testing.T) {
		token, err := auth.NewResetToken(accountID, "a@example.com", "hash", req, now, auth.DefaultResetTokenLifetime)
		require.NoError(t, err)
		assert.False(t, token.ID.IsZero())
		assert.Equal(t, accountID, token.AccountID)
		assert.Equal(t, now.Add(30*time.Minute), token.ExpiresAt)
		assert.Equal(t, "203.0.113.7", token.IPAddress)
		assert.Equal(t, "curl/8.0", token.UserAgent)
		assert.Nil(t, token.UsedAt)
	})

	t.Run("rejects zero account", func(t *testing.T) {
		_, err := auth.NewResetToken(ulid.ULID{}, "a@example.com", "hash", req, now, time.Minute)
		errutil.AssertErrorCode(t, err, "RESET_TOKEN_INVALID_ACCOUNT")
	})

	t.Run("rejects empty hash", func(t *testing.T) {
		_, err := auth.NewResetToken(accountID, "a@example.com", "", req, now, time.Minute)
		errutil.AssertErrorCode(t, err, "RESET_TOKEN_INVALID_HASH")
	})

	t.Run("rejects non-positive lifetime", func(t *testing.T) {
		_, err := auth.NewResetToken(accountID, "a@example.com", "hash", req, now, 0)
		errutil.AssertErrorCode(t, err, "RESET_TOKEN_INVALID_EXPIRY")
	})
}

func TestResetToken_Validity(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	newToken := func(t *testing.T) *auth.ResetToken {
		t.Helper()
		token, err := auth.NewResetToken(ulid.Make(), "a@example.com", "hash", auth.RequestContext{}, now, time.Hour)
		require.NoError(t, err)
		return token
	}

	t.Run("valid before expiry while unused", func(t *testing.T) {
		token := newToken(t)
		assert.True(t, token.IsValid(now.Add(59*time.Minute)))
	})

	t.Run("invalid exactly at expiry", func(t *testing.T) {
		token := newToken(t)
		assert.True(t, token.IsExpired(now.Add(time.Hour)))
		assert.False(t, token.IsValid(now.Add(time.Hour)))
	})

	t.Run("invalid once used even if unexpired", func(t *testing.T) {
		token := newToken(t)
		usedAt := now
		token.UsedAt = &usedAt
		assert.True(t, token.IsUsed())
		assert.False(t, token.IsValid(now))
	})
}
