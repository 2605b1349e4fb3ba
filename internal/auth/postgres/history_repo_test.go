// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credkeeper/internal/auth"
	"github.com/holomush/credkeeper/pkg/errutil"
)

func TestPasswordHistoryRepository_FindRecent(t *testing.T) {
	mock := newMock(t)
	accountID := ulid.Make()
	newer, older := ulid.Make(), ulid.Make()
	now := time.Now().UTC()

	mock.ExpectQuery(q("ORDER BY created_at DESC, id DESC")).
		WithArgs(accountID.String(), 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "password_hash", "created_at"}).
			AddRow(newer.String(), "h2", now).
			AddRow(older.String(), "h1", now.Add(-time.Hour)))

	entries, err := NewPasswordHistoryRepository(mock).FindRecent(context.Background(), accountID, 5)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, newer, entries[0].ID)
	assert.Equal(t, "h2", entries[0].PasswordHash)
	assert.Equal(t, accountID, entries[1].AccountID)
}

func TestPasswordHistoryRepository_Append(t *testing.T) {
	now := time.Now().UTC()
	entry, err := auth.NewPasswordHistoryEntry(ulid.Make(), "hash", now)
	require.NoError(t, err)

	tests := []struct {
		name      string
		keep      int
		setupMock func(mock pgxmock.PgxPoolIface)
		wantCode  string
	}{
		{
			name: "insert and trim in one transaction",
			keep: 10,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(q("INSERT INTO password_history")).
					WithArgs(entry.ID.String(), entry.AccountID.String(), "hash", now).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectExec(q("DELETE FROM password_history")).
					WithArgs(entry.AccountID.String(), 10).
					WillReturnResult(pgxmock.NewResult("DELETE", 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "keep zero skips trim",
			keep: 0,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(q("INSERT INTO password_history")).
					WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "trim failure rolls back",
			keep: 3,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(q("INSERT INTO password_history")).
					WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectExec(q("DELETE FROM password_history")).
					WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnError(errors.New("lock timeout"))
				mock.ExpectRollback()
			},
			wantCode: "HISTORY_TRIM_FAILED",
		},
		{
			name: "begin failure",
			keep: 3,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin().WillReturnError(errors.New("pool closed"))
			},
			wantCode: "TX_BEGIN_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setupMock(mock)

			err := NewPasswordHistoryRepository(mock).Append(context.Background(), entry, tt.keep)
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestPasswordHistoryRepository_Purge(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Now().Add(-365 * 24 * time.Hour)
	accountID := ulid.Make()

	t.Run("per account", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(q("WHERE account_id = $1 AND created_at < $2")).
			WithArgs(accountID.String(), cutoff).
			WillReturnResult(pgxmock.NewResult("DELETE", 2))

		n, err := NewPasswordHistoryRepository(mock).PurgeOlderThan(ctx, accountID, cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("all accounts", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(q("DELETE FROM password_history WHERE created_at < $1")).
			WithArgs(cutoff).
			WillReturnResult(pgxmock.NewResult("DELETE", 9))

		n, err := NewPasswordHistoryRepository(mock).PurgeAllOlderThan(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(9), n)
	})
}

func TestPasswordHistoryRepository_Count(t *testing.T) {
	mock := newMock(t)
	accountID := ulid.Make()
	mock.ExpectQuery(q("SELECT COUNT(*) FROM password_history")).
		WithArgs(accountID.String()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

	n, err := NewPasswordHistoryRepository(mock).Count(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
