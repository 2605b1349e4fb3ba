// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credkeeper/internal/auth"
)

// PasswordHistoryRepository implements auth.PasswordHistoryRepository using PostgreSQL.
type PasswordHistoryRepository struct {
	pool poolIface
}

// NewPasswordHistoryRepository creates a new PasswordHistoryRepository.
func NewPasswordHistoryRepository(pool poolIface) *PasswordHistoryRepository {
	return &PasswordHistoryRepository{pool: pool}
}

// FindRecent returns up to limit entries for the account, newest first.
func (r *PasswordHistoryRepository) FindRecent(ctx context.Context, accountID ulid.ULID, limit int) ([]*auth.PasswordHistoryEntry, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, password_hash, created_at
		FROM password_history
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, accountID.String(), limit)
	if err != nil {
		return nil, oops.Code("HISTORY_QUERY_FAILED").
			With("operation", "query password_history").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var entries []*auth.PasswordHistoryEntry
	for rows.Next() {
		var (
			idStr string
			e     = auth.PasswordHistoryEntry{AccountID: accountID}
		)
		if err := rows.Scan(&idStr, &e.PasswordHash, &e.CreatedAt); err != nil {
			return nil, oops.Code("HISTORY_SCAN_FAILED").Wrap(err)
		}
		if e.ID, err = parseULID(idStr, "id"); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("HISTORY_QUERY_FAILED").
			With("operation", "iterate password_history").
			Wrap(err)
	}
	return entries, nil
}

// Append inserts entry and trims the account to its keep newest entries.
// Both statements run in one transaction, the caller's if there is one.
func (r *PasswordHistoryRepository) Append(ctx context.Context, entry *auth.PasswordHistoryEntry, keep int) error {
	return inTx(ctx, r.pool, func(ctx context.Context) error {
		q := conn(ctx, r.pool)
		_, err := q.Exec(ctx, `
			INSERT INTO password_history (id, account_id, password_hash, created_at)
			VALUES ($1, $2, $3, $4)
		`, entry.ID.String(), entry.AccountID.String(), entry.PasswordHash, entry.CreatedAt)
		if err != nil {
			return oops.Code("HISTORY_APPEND_FAILED").
				With("operation", "insert password_history").
				With("account_id", entry.AccountID.String()).
				Wrap(err)
		}

		if keep <= 0 {
			return nil
		}
		_, err = q.Exec(ctx, `
			DELETE FROM password_history
			WHERE account_id = $1 AND id NOT IN (
				SELECT id FROM password_history
				WHERE account_id = $1
				ORDER BY created_at DESC, id DESC
				LIMIT $2
			)
		`, entry.AccountID.String(), keep)
		if err != nil {
			return oops.Code("HISTORY_TRIM_FAILED").
				With("operation", "trim password_history").
				With("account_id", entry.AccountID.String()).
				Wrap(err)
		}
		return nil
	})
}

// PurgeOlderThan deletes the account's entries created before cutoff.
func (r *PasswordHistoryRepository) PurgeOlderThan(ctx context.Context, accountID ulid.ULID, cutoff time.Time) (int64, error) {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM password_history WHERE account_id = $1 AND created_at < $2
	`, accountID.String(), cutoff)
	if err != nil {
		return 0, oops.Code("HISTORY_PURGE_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// PurgeAllOlderThan deletes every entry created before cutoff.
func (r *PasswordHistoryRepository) PurgeAllOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM password_history WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, oops.Code("HISTORY_PURGE_FAILED").Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Count returns the number of entries held for the account.
func (r *PasswordHistoryRepository) Count(ctx context.Context, accountID ulid.ULID) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM password_history WHERE account_id = $1
	`, accountID.String()).Scan(&n)
	if err != nil {
		return 0, oops.Code("HISTORY_COUNT_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return n, nil
}

// Compile-time interface check.
var _ auth.PasswordHistoryRepository = (*PasswordHistoryRepository)(nil)
