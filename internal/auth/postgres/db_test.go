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

	"github.com/holomush/credkeeper/pkg/errutil"
)

func TestTransactor_RepositoriesJoinTransaction(t *testing.T) {
	mock := newMock(t)
	id, keep := ulid.Make(), ulid.Make()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE reset_tokens SET used_at")).
		WithArgs(id.String(), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(q("WHERE account_id = $1 AND id <> $2")).
		WithArgs(id.String(), keep.String(), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectCommit()

	tokens := NewResetTokenRepository(mock)
	err := NewTransactor(mock).InTransaction(context.Background(), func(ctx context.Context) error {
		ok, err := tokens.MarkUsed(ctx, id, now)
		if err != nil {
			return err
		}
		assert.True(t, ok)
		_, err = tokens.InvalidateAllExcept(ctx, id, keep, now)
		return err
	})
	require.NoError(t, err)
}

func TestTransactor_RollsBackOnError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	sentinel := errors.New("abort")
	err := NewTransactor(mock).InTransaction(context.Background(), func(context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestTransactor_NestedCallsShareTransaction(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	tx := NewTransactor(mock)
	calls := 0
	err := tx.InTransaction(context.Background(), func(ctx context.Context) error {
		return tx.InTransaction(ctx, func(context.Context) error {
			calls++
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestTransactor_CommitFailure(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	err := NewTransactor(mock).InTransaction(context.Background(), func(context.Context) error { return nil })
	errutil.AssertErrorCode(t, err, "TX_COMMIT_FAILED")
}

func TestParseULID_Corrupt(t *testing.T) {
	_, err := parseULID("nope", "id")
	errutil.AssertErrorCode(t, err, "DB_CORRUPT_ID")
	errutil.AssertErrorContext(t, err, "id", "nope")
}
