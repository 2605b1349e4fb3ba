// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credkeeper/internal/auth"
)

const accountColumns = `id, email, password_hash, password_changed_at, created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool poolIface
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool poolIface) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Create inserts an account. It exists for provisioning and tests; account
// records are otherwise owned by the surrounding application.
func (r *AccountRepository) Create(ctx context.Context, acct *auth.Account) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO accounts (id, email, password_hash, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, acct.ID.String(), auth.NormalizeEmail(acct.Email), acct.PasswordHash, acct.PasswordChangedAt, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("ACCOUNT_EMAIL_TAKEN").With("account_id", acct.ID.String()).Wrap(err)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("account_id", acct.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.String())
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return acct, err
}

// GetByEmail retrieves an account by email, case-insensitively.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE LOWER(email) = LOWER($1)`, email)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return acct, err
}

// UpdatePassword stores a new hash and stamps password_changed_at.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, changedAt time.Time) error {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE accounts
		SET password_hash = $2, password_changed_at = $3, updated_at = $3
		WHERE id = $1
	`, id.String(), passwordHash, changedAt)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update password").
			With("account_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// LockForUpdate takes a FOR UPDATE lock on the account row. Outside a
// transaction the lock is released as soon as the statement completes.
func (r *AccountRepository) LockForUpdate(ctx context.Context, id ulid.ULID) error {
	var idStr string
	err := conn(ctx, r.pool).QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, id.String()).Scan(&idStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id.String()).Wrap(auth.ErrNotFound)
		}
		return oops.Code("ACCOUNT_LOCK_FAILED").
			With("operation", "lock account").
			With("account_id", id.String()).
			Wrap(err)
	}
	return nil
}

// scanAccount scans one account row. pgx.ErrNoRows is returned unwrapped.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr string
		acct  auth.Account
	)
	err := row.Scan(&idStr, &acct.Email, &acct.PasswordHash, &acct.PasswordChangedAt, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers map to ErrNotFound
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").Wrap(err)
	}
	if acct.ID, err = parseULID(idStr, "account_id"); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
