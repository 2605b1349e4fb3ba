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

const resetTokenColumns = `id, account_id, token_hash, email, ip_address, user_agent, created_at, expires_at, used_at`

// ResetTokenRepository implements auth.ResetTokenRepository using PostgreSQL.
type ResetTokenRepository struct {
	pool poolIface
}

// NewResetTokenRepository creates a new ResetTokenRepository.
func NewResetTokenRepository(pool poolIface) *ResetTokenRepository {
	return &ResetTokenRepository{pool: pool}
}

// Create stores a new reset token. A duplicate token_hash fails with
// RESET_TOKEN_COLLISION.
func (r *ResetTokenRepository) Create(ctx context.Context, token *auth.ResetToken) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO reset_tokens (`+resetTokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, token.ID.String(), token.AccountID.String(), token.TokenHash, token.Email,
		token.IPAddress, token.UserAgent, token.CreatedAt, token.ExpiresAt, token.UsedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("RESET_TOKEN_COLLISION").
				With("account_id", token.AccountID.String()).
				Wrap(err)
		}
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert reset_token").
			With("account_id", token.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// FindValid retrieves an unused, unexpired token by hash.
func (r *ResetTokenRepository) FindValid(ctx context.Context, tokenHash string, now time.Time) (*auth.ResetToken, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+resetTokenColumns+`
		FROM reset_tokens
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
	`, tokenHash, now)

	token, err := scanResetToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return token, err
}

// CountRecent counts tokens issued to email at or after since.
func (r *ResetTokenRepository) CountRecent(ctx context.Context, email string, since time.Time) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM reset_tokens WHERE email = $1 AND created_at >= $2
	`, email, since).Scan(&n)
	if err != nil {
		return 0, oops.Code("RESET_COUNT_FAILED").
			With("operation", "count recent reset_tokens").
			Wrap(err)
	}
	return n, nil
}

// MarkUsed consumes the token with a conditional update. Exactly one of any
// number of concurrent callers sees true.
func (r *ResetTokenRepository) MarkUsed(ctx context.Context, id ulid.ULID, now time.Time) (bool, error) {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE reset_tokens SET used_at = $2
		WHERE id = $1 AND used_at IS NULL AND expires_at > $2
	`, id.String(), now)
	if err != nil {
		return false, oops.Code("RESET_MARK_USED_FAILED").
			With("operation", "mark reset_token used").
			With("id", id.String()).
			Wrap(err)
	}
	return result.RowsAffected() == 1, nil
}

// InvalidateAllExcept marks every other unused token of the account as used.
func (r *ResetTokenRepository) InvalidateAllExcept(ctx context.Context, accountID, keep ulid.ULID, now time.Time) (int64, error) {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE reset_tokens SET used_at = $3
		WHERE account_id = $1 AND id <> $2 AND used_at IS NULL
	`, accountID.String(), keep.String(), now)
	if err != nil {
		return 0, oops.Code("RESET_INVALIDATE_FAILED").
			With("operation", "invalidate sibling reset_tokens").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpiredOrUsed removes tokens that are used or past expiry.
func (r *ResetTokenRepository) DeleteExpiredOrUsed(ctx context.Context, now time.Time) (int64, error) {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM reset_tokens WHERE used_at IS NOT NULL OR expires_at <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").
			With("operation", "delete terminal reset_tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanResetToken scans one token row. pgx.ErrNoRows is returned unwrapped.
func scanResetToken(row pgx.Row) (*auth.ResetToken, error) {
	var (
		idStr, accountIDStr string
		t                   auth.ResetToken
	)
	err := row.Scan(&idStr, &accountIDStr, &t.TokenHash, &t.Email, &t.IPAddress, &t.UserAgent,
		&t.CreatedAt, &t.ExpiresAt, &t.UsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers map to ErrNotFound
		}
		return nil, oops.Code("RESET_SCAN_FAILED").
			With("operation", "scan reset_token").
			Wrap(err)
	}
	if t.ID, err = parseULID(idStr, "id"); err != nil {
		return nil, err
	}
	if t.AccountID, err = parseULID(accountIDStr, "account_id"); err != nil {
		return nil, err
	}
	return &t, nil
}

// Compile-time interface check.
var _ auth.ResetTokenRepository = (*ResetTokenRepository)(nil)
