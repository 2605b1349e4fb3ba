// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holomush/credkeeper/internal/auth"
	"github.com/holomush/credkeeper/internal/auth/authtest"
)

// fixture wires the services over the in-memory store.
type fixture struct {
	store    *authtest.Store
	clock    *authtest.Clock
	limiter  *auth.MemoryRateLimiter
	notifier *authtest.RecordingNotifier
	hasher   auth.PasswordHasher
	guard    *auth.PasswordChangeGuard
	resets   *auth.PasswordResetService
}

type fixtureConfig struct {
	guard  auth.ChangeGuardConfig
	reset  auth.ResetServiceConfig
	logger *slog.Logger
}

func newFixture(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()

	f := &fixture{
		store:    authtest.NewStore(),
		clock:    authtest.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		notifier: &authtest.RecordingNotifier{},
		hasher:   authtest.FastHasher{},
	}
	f.limiter = auth.NewMemoryRateLimiter(auth.MemoryRateLimiterConfig{
		CleanupInterval: time.Hour,
		Clock:           f.clock.Now,
	})
	t.Cleanup(f.limiter.Close)

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts := []auth.Option{auth.WithClock(f.clock.Now), auth.WithLogger(logger)}

	var err error
	f.guard, err = auth.NewPasswordChangeGuard(auth.ChangeGuardDeps{
		Accounts:   f.store,
		History:    f.store,
		Hasher:     f.hasher,
		Limiter:    f.limiter,
		Transactor: f.store,
		Notifier:   f.notifier,
	}, cfg.guard, opts...)
	require.NoError(t, err)

	f.resets, err = auth.NewPasswordResetService(auth.ResetServiceDeps{
		Accounts:   f.store,
		Tokens:     f.store,
		Guard:      f.guard,
		Limiter:    f.limiter,
		Transactor: f.store,
		Notifier:   f.notifier,
	}, cfg.reset, opts...)
	require.NoError(t, err)

	return f
}

// addAccountWithPassword registers an account and sets its first password
// through the guard so that history is populated.
func (f *fixture) addAccountWithPassword(t *testing.T, email string, password auth.PlainPassword) *auth.Account {
	t.Helper()
	acct := f.store.AddAccount(email, "")
	require.NoError(t, f.guard.ChangePassword(t.Context(), auth.ChangeRequest{
		AccountID: acct.ID,
		Password:  password,
	}))
	got, err := f.store.GetByID(t.Context(), acct.ID)
	require.NoError(t, err)
	return got
}
