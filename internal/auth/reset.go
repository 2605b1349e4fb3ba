// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultResetTokenLifetime is how long a reset token stays redeemable.
const DefaultResetTokenLifetime = 30 * time.Minute

// RequestContext carries opaque requester metadata recorded with a token and
// echoed in notifications.
type RequestContext struct {
	IPAddress string
	UserAgent string
}

// ResetToken is a single-use, time-bounded password reset grant.
//
// A token is valid iff UsedAt is nil and the clock is before ExpiresAt.
// Consumed and superseded tokens both have UsedAt set; expiry is derived
// from the clock and never stored. UsedAt is never cleared once set.
type ResetToken struct {
	ID        ulid.ULID
	AccountID ulid.ULID
	TokenHash string
	Email     string
	IPAddress string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// NewResetToken creates a ResetToken with validated fields.
func NewResetToken(accountID ulid.ULID, email, tokenHash string, req RequestContext, now time.Time, lifetime time.Duration) (*ResetToken, error) {
	if accountID.IsZero() {
		return nil, oops.Code("RESET_TOKEN_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_TOKEN_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if lifetime <= 0 {
		return nil, oops.Code("RESET_TOKEN_INVALID_EXPIRY").
			With("lifetime", lifetime.String()).
			Errorf("token lifetime must be positive")
	}

	return &ResetToken{
		ID:        ulid.Make(),
		AccountID: accountID,
		TokenHash: tokenHash,
		Email:     email,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(lifetime),
	}, nil
}

// IsExpired returns true once now has reached ExpiresAt.
func (t *ResetToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsUsed returns true if the token was consumed or superseded.
func (t *ResetToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsValid returns true if the token can still be redeemed at now.
func (t *ResetToken) IsValid(now time.Time) bool {
	return !t.IsUsed() && !t.IsExpired(now)
}

// ResetTokenRepository manages reset token persistence.
type ResetTokenRepository interface {
	// Create stores a new reset token. token_hash is unique.
	Create(ctx context.Context, token *ResetToken) error

	// FindValid retrieves an unused, unexpired token by its hash.
	// Returns ErrNotFound otherwise.
	FindValid(ctx context.Context, tokenHash string, now time.Time) (*ResetToken, error)

	// CountRecent counts tokens issued to email since the given time.
	CountRecent(ctx context.Context, email string, since time.Time) (int, error)

	// MarkUsed sets used_at on the token only if it is still unused and
	// unexpired. Returns false when another caller got there first.
	MarkUsed(ctx context.Context, id ulid.ULID, now time.Time) (bool, error)

	// InvalidateAllExcept marks every other unused token of the account as used.
	InvalidateAllExcept(ctx context.Context, accountID, keep ulid.ULID, now time.Time) (int64, error)

	// DeleteExpiredOrUsed removes tokens already in a terminal state.
	DeleteExpiredOrUsed(ctx context.Context, now time.Time) (int64, error)
}
