// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Account is the credential-bearing part of a user record. The record itself
// is owned by the surrounding application; this package only reads the
// email and current hash and updates the password fields.
type Account struct {
	ID                ulid.ULID
	Email             string
	PasswordHash      string
	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasPassword returns true once the account has had a password set. Accounts
// without one are still being created and are exempt from change rate limits.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// SetPasswordHash replaces the stored hash and stamps the change time.
func (a *Account) SetPasswordHash(hash string, at time.Time) {
	a.PasswordHash = hash
	a.PasswordChangedAt = &at
	a.UpdatedAt = at
}

// NormalizeEmail lower-cases and trims an email address so that lookups and
// rate-limit keys agree on one spelling.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AccountRepository is the slice of account persistence this package needs.
type AccountRepository interface {
	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by normalized email.
	// Returns ErrNotFound if no account has the given email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// UpdatePassword stores a new password hash and its change timestamp.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, changedAt time.Time) error

	// LockForUpdate holds a row lock on the account until the enclosing
	// transaction ends. Returns ErrNotFound if the account does not exist.
	LockForUpdate(ctx context.Context, id ulid.ULID) error
}

// Transactor runs fn inside a single atomic unit of work. Repositories called
// with the context passed to fn participate in the same transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
