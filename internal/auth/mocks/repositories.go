// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mocks holds testify mocks of the auth interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/credkeeper/internal/auth"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// MockAccountRepository is a testify mock of auth.AccountRepository.
type MockAccountRepository struct {
	mock.Mock
}

var _ auth.AccountRepository = (*MockAccountRepository)(nil)

// NewMockAccountRepository creates a mock whose expectations are asserted on cleanup.
func NewMockAccountRepository(t testingT) *MockAccountRepository {
	m := &MockAccountRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// GetByID provides a mock function.
func (m *MockAccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	args := m.Called(ctx, id)
	acct, _ := args.Get(0).(*auth.Account)
	return acct, args.Error(1)
}

// GetByEmail provides a mock function.
func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	args := m.Called(ctx, email)
	acct, _ := args.Get(0).(*auth.Account)
	return acct, args.Error(1)
}

// UpdatePassword provides a mock function.
func (m *MockAccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, changedAt time.Time) error {
	args := m.Called(ctx, id, passwordHash, changedAt)
	return args.Error(0)
}

// LockForUpdate provides a mock function.
func (m *MockAccountRepository) LockForUpdate(ctx context.Context, id ulid.ULID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockResetTokenRepository is a testify mock of auth.ResetTokenRepository.
type MockResetTokenRepository struct {
	mock.Mock
}

var _ auth.ResetTokenRepository = (*MockResetTokenRepository)(nil)

// NewMockResetTokenRepository creates a mock whose expectations are asserted on cleanup.
func NewMockResetTokenRepository(t testingT) *MockResetTokenRepository {
	m := &MockResetTokenRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Create provides a mock function.
func (m *MockResetTokenRepository) Create(ctx context.Context, token *auth.ResetToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// FindValid provides a mock function.
func (m *MockResetTokenRepository) FindValid(ctx context.Context, tokenHash string, now time.Time) (*auth.ResetToken, error) {
	args := m.Called(ctx, tokenHash, now)
	token, _ := args.Get(0).(*auth.ResetToken)
	return token, args.Error(1)
}

// CountRecent provides a mock function.
func (m *MockResetTokenRepository) CountRecent(ctx context.Context, email string, since time.Time) (int, error) {
	args := m.Called(ctx, email, since)
	return args.Int(0), args.Error(1)
}

// MarkUsed provides a mock function.
func (m *MockResetTokenRepository) MarkUsed(ctx context.Context, id ulid.ULID, now time.Time) (bool, error) {
	args := m.Called(ctx, id, now)
	return args.Bool(0), args.Error(1)
}

// InvalidateAllExcept provides a mock function.
func (m *MockResetTokenRepository) InvalidateAllExcept(ctx context.Context, accountID, keep ulid.ULID, now time.Time) (int64, error) {
	args := m.Called(ctx, accountID, keep, now)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// DeleteExpiredOrUsed provides a mock function.
func (m *MockResetTokenRepository) DeleteExpiredOrUsed(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// MockPasswordHistoryRepository is a testify mock of auth.PasswordHistoryRepository.
type MockPasswordHistoryRepository struct {
	mock.Mock
}

var _ auth.PasswordHistoryRepository = (*MockPasswordHistoryRepository)(nil)

// NewMockPasswordHistoryRepository creates a mock whose expectations are asserted on cleanup.
func NewMockPasswordHistoryRepository(t testingT) *MockPasswordHistoryRepository {
	m := &MockPasswordHistoryRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// FindRecent provides a mock function.
func (m *MockPasswordHistoryRepository) FindRecent(ctx context.Context, accountID ulid.ULID, limit int) ([]*auth.PasswordHistoryEntry, error) {
	args := m.Called(ctx, accountID, limit)
	entries, _ := args.Get(0).([]*auth.PasswordHistoryEntry)
	return entries, args.Error(1)
}

// Append provides a mock function.
func (m *MockPasswordHistoryRepository) Append(ctx context.Context, entry *auth.PasswordHistoryEntry, keep int) error {
	args := m.Called(ctx, entry, keep)
	return args.Error(0)
}

// PurgeOlderThan provides a mock function.
func (m *MockPasswordHistoryRepository) PurgeOlderThan(ctx context.Context, accountID ulid.ULID, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, accountID, cutoff)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// PurgeAllOlderThan provides a mock function.
func (m *MockPasswordHistoryRepository) PurgeAllOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// Count provides a mock function.
func (m *MockPasswordHistoryRepository) Count(ctx context.Context, accountID ulid.ULID) (int, error) {
	args := m.Called(ctx, accountID)
	return args.Int(0), args.Error(1)
}

// MockRateLimiter is a testify mock of auth.RateLimiter.
type MockRateLimiter struct {
	mock.Mock
}

var _ auth.RateLimiter = (*MockRateLimiter)(nil)

// NewMockRateLimiter creates a mock whose expectations are asserted on cleanup.
func NewMockRateLimiter(t testingT) *MockRateLimiter {
	m := &MockRateLimiter{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// TryConsume provides a mock function.
func (m *MockRateLimiter) TryConsume(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}
