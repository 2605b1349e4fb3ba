// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Password history retention defaults.
const (
	DefaultHistoryRetentionCount = 10
	DefaultHistoryMaxAge         = 365 * 24 * time.Hour
)

// PasswordHistoryEntry is one prior password hash of an account.
type PasswordHistoryEntry struct {
	ID           ulid.ULID
	AccountID    ulid.ULID
	PasswordHash string
	CreatedAt    time.Time
}

// NewPasswordHistoryEntry creates a PasswordHistoryEntry with validated fields.
func NewPasswordHistoryEntry(accountID ulid.ULID, passwordHash string, now time.Time) (*PasswordHistoryEntry, error) {
	if accountID.IsZero() {
		return nil, oops.Code("HISTORY_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if passwordHash == "" {
		return nil, oops.Code("HISTORY_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	return &PasswordHistoryEntry{
		ID:           ulid.Make(),
		AccountID:    accountID,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}, nil
}

// PasswordHistoryRepository manages the bounded per-account history.
type PasswordHistoryRepository interface {
	// FindRecent returns up to limit entries, most recent first.
	FindRecent(ctx context.Context, accountID ulid.ULID, limit int) ([]*PasswordHistoryEntry, error)

	// Append inserts entry and then deletes all but the keep most recent
	// entries of the account.
	Append(ctx context.Context, entry *PasswordHistoryEntry, keep int) error

	// PurgeOlderThan deletes the account's entries created before cutoff.
	PurgeOlderThan(ctx context.Context, accountID ulid.ULID, cutoff time.Time) (int64, error)

	// PurgeAllOlderThan deletes every entry created before cutoff.
	PurgeAllOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Count returns the number of entries held for the account.
	Count(ctx context.Context, accountID ulid.ULID) (int, error)
}
