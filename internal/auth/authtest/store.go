// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authtest provides in-memory implementations of the auth
// repositories for tests.
package authtest

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credkeeper/internal/auth"
)

// Store is an in-memory account, reset token and password history store.
// InTransaction serializes transactions and restores a snapshot when fn
// fails, which is enough atomicity for single-process tests.
type Store struct {
	txMu sync.Mutex

	mu       sync.Mutex
	accounts map[ulid.ULID]*auth.Account
	tokens   map[ulid.ULID]*auth.ResetToken
	history  map[ulid.ULID][]*auth.PasswordHistoryEntry
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[ulid.ULID]*auth.Account),
		tokens:   make(map[ulid.ULID]*auth.ResetToken),
		history:  make(map[ulid.ULID][]*auth.PasswordHistoryEntry),
	}
}

var (
	_ auth.AccountRepository         = (*Store)(nil)
	_ auth.ResetTokenRepository      = (*Store)(nil)
	_ auth.PasswordHistoryRepository = (*Store)(nil)
	_ auth.Transactor                = (*Store)(nil)
)

// AddAccount registers an account with the given email and password hash.
func (s *Store) AddAccount(email, passwordHash string) *auth.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	acct := &auth.Account{
		ID:           ulid.Make(),
		Email:        auth.NormalizeEmail(email),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.accounts[acct.ID] = acct
	return copyAccount(acct)
}

// TokensFor returns copies of every token issued to the account, oldest first.
func (s *Store) TokensFor(accountID ulid.ULID) []*auth.ResetToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*auth.ResetToken
	for _, t := range s.tokens {
		if t.AccountID == accountID {
			out = append(out, copyToken(t))
		}
	}
	slices.SortFunc(out, func(a, b *auth.ResetToken) int {
		return a.ID.Compare(b.ID)
	})
	return out
}

// TokenCount returns the number of stored tokens.
func (s *Store) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// InTransaction implements auth.Transactor.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	accounts map[ulid.ULID]*auth.Account
	tokens   map[ulid.ULID]*auth.ResetToken
	history  map[ulid.ULID][]*auth.PasswordHistoryEntry
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		accounts: make(map[ulid.ULID]*auth.Account, len(s.accounts)),
		tokens:   make(map[ulid.ULID]*auth.ResetToken, len(s.tokens)),
		history:  make(map[ulid.ULID][]*auth.PasswordHistoryEntry, len(s.history)),
	}
	for id, a := range s.accounts {
		snap.accounts[id] = copyAccount(a)
	}
	for id, t := range s.tokens {
		snap.tokens[id] = copyToken(t)
	}
	for id, entries := range s.history {
		snap.history[id] = slices.Clone(entries)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = snap.accounts
	s.tokens = snap.tokens
	s.history = snap.history
}

// GetByID implements auth.AccountRepository.
func (s *Store) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return copyAccount(acct), nil
}

// GetByEmail implements auth.AccountRepository.
func (s *Store) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acct := range s.accounts {
		if strings.EqualFold(acct.Email, email) {
			return copyAccount(acct), nil
		}
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// UpdatePassword implements auth.AccountRepository.
func (s *Store) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string, changedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	acct.SetPasswordHash(passwordHash, changedAt)
	return nil
}

// LockForUpdate implements auth.AccountRepository. InTransaction already
// serializes writers, so only existence is checked.
func (s *Store) LockForUpdate(_ context.Context, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// Create implements auth.ResetTokenRepository.
func (s *Store) Create(_ context.Context, token *auth.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tokens {
		if t.TokenHash == token.TokenHash {
			return oops.Code("RESET_TOKEN_COLLISION").Errorf("token hash already exists")
		}
	}
	s.tokens[token.ID] = copyToken(token)
	return nil
}

// FindValid implements auth.ResetTokenRepository.
func (s *Store) FindValid(_ context.Context, tokenHash string, now time.Time) (*auth.ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tokens {
		if t.TokenHash == tokenHash && t.IsValid(now) {
			return copyToken(t), nil
		}
	}
	return nil, oops.Code("RESET_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// CountRecent implements auth.ResetTokenRepository.
func (s *Store) CountRecent(_ context.Context, email string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.tokens {
		if t.Email == email && !t.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// MarkUsed implements auth.ResetTokenRepository.
func (s *Store) MarkUsed(_ context.Context, id ulid.ULID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok || !t.IsValid(now) {
		return false, nil
	}
	usedAt := now
	t.UsedAt = &usedAt
	return true, nil
}

// InvalidateAllExcept implements auth.ResetTokenRepository.
func (s *Store) InvalidateAllExcept(_ context.Context, accountID, keep ulid.ULID, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tokens {
		if t.AccountID != accountID || id == keep || t.UsedAt != nil {
			continue
		}
		usedAt := now
		t.UsedAt = &usedAt
		n++
	}
	return n, nil
}

// DeleteExpiredOrUsed implements auth.ResetTokenRepository.
func (s *Store) DeleteExpiredOrUsed(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tokens {
		if !t.IsValid(now) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// FindRecent implements auth.PasswordHistoryRepository.
func (s *Store) FindRecent(_ context.Context, accountID ulid.ULID, limit int) ([]*auth.PasswordHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.history[accountID]
	if limit > len(entries) {
		limit = len(entries)
	}
	out := make([]*auth.PasswordHistoryEntry, 0, limit)
	for _, e := range entries[:limit] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// Append implements auth.PasswordHistoryRepository.
func (s *Store) Append(_ context.Context, entry *auth.PasswordHistoryEntry, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	// Newest first.
	entries := append([]*auth.PasswordHistoryEntry{&cp}, s.history[entry.AccountID]...)
	if keep > 0 && len(entries) > keep {
		entries = entries[:keep]
	}
	s.history[entry.AccountID] = entries
	return nil
}

// PurgeOlderThan implements auth.PasswordHistoryRepository.
func (s *Store) PurgeOlderThan(_ context.Context, accountID ulid.ULID, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked(accountID, cutoff), nil
}

// PurgeAllOlderThan implements auth.PasswordHistoryRepository.
func (s *Store) PurgeAllOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id := range s.history {
		n += s.purgeLocked(id, cutoff)
	}
	return n, nil
}

func (s *Store) purgeLocked(accountID ulid.ULID, cutoff time.Time) int64 {
	entries := s.history[accountID]
	kept := slices.DeleteFunc(slices.Clone(entries), func(e *auth.PasswordHistoryEntry) bool {
		return e.CreatedAt.Before(cutoff)
	})
	s.history[accountID] = kept
	return int64(len(entries) - len(kept))
}

// Count implements auth.PasswordHistoryRepository.
func (s *Store) Count(_ context.Context, accountID ulid.ULID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history[accountID]), nil
}

func copyAccount(a *auth.Account) *auth.Account {
	cp := *a
	if a.PasswordChangedAt != nil {
		at := *a.PasswordChangedAt
		cp.PasswordChangedAt = &at
	}
	return &cp
}

func copyToken(t *auth.ResetToken) *auth.ResetToken {
	cp := *t
	if t.UsedAt != nil {
		at := *t.UsedAt
		cp.UsedAt = &at
	}
	return &cp
}
