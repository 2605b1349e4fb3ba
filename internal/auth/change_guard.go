// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
)

// ChangeGuardConfig configures a PasswordChangeGuard.
type ChangeGuardConfig struct {
	// HistoryLimit is how many prior hashes are kept and checked for reuse.
	// Defaults to DefaultHistoryRetentionCount.
	HistoryLimit int

	// RateLimit bounds change attempts per account.
	// Defaults to DefaultChangeRateLimit per DefaultChangeRateWindow.
	RateLimit RateLimitPolicy
}

func (c ChangeGuardConfig) withDefaults() ChangeGuardConfig {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryRetentionCount
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = DefaultChangeRateLimit
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = DefaultChangeRateWindow
	}
	return c
}

// ChangeGuardDeps are the collaborators of a PasswordChangeGuard.
type ChangeGuardDeps struct {
	Accounts   AccountRepository
	History    PasswordHistoryRepository
	Hasher     PasswordHasher
	Limiter    RateLimiter
	Transactor Transactor
	Notifier   Notifier // optional
}

// PasswordChangeGuard applies direct password changes: rate limiting, reuse
// prevention against history, hashing and history recording. Its
// Prepare/Commit steps are shared with the reset flow.
type PasswordChangeGuard struct {
	accounts AccountRepository
	history  PasswordHistoryRepository
	hasher   PasswordHasher
	limiter  RateLimiter
	tx       Transactor
	notifier Notifier
	cfg      ChangeGuardConfig
	opts     serviceOptions
}

// NewPasswordChangeGuard creates a new PasswordChangeGuard.
func NewPasswordChangeGuard(deps ChangeGuardDeps, cfg ChangeGuardConfig, opts ...Option) (*PasswordChangeGuard, error) {
	if deps.Accounts == nil {
		return nil, oops.Code("CHANGE_GUARD_INVALID").Errorf("account repository is required")
	}
	if deps.History == nil {
		return nil, oops.Code("CHANGE_GUARD_INVALID").Errorf("history repository is required")
	}
	if deps.Hasher == nil {
		return nil, oops.Code("CHANGE_GUARD_INVALID").Errorf("password hasher is required")
	}
	if deps.Limiter == nil {
		return nil, oops.Code("CHANGE_GUARD_INVALID").Errorf("rate limiter is required")
	}
	if deps.Transactor == nil {
		return nil, oops.Code("CHANGE_GUARD_INVALID").Errorf("transactor is required")
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &PasswordChangeGuard{
		accounts: deps.Accounts,
		history:  deps.History,
		hasher:   deps.Hasher,
		limiter:  deps.Limiter,
		tx:       deps.Transactor,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		opts:     applyOptions(opts),
	}, nil
}

// PreparedChange is a checked and hashed password ready to be committed.
type PreparedChange struct {
	AccountID    ulid.ULID
	PreviousHash string
	NewHash      string
}

// Changed reports whether the account had a password before this change.
// A first-time set is not a change worth notifying about.
func (p *PreparedChange) Changed() bool {
	return p.PreviousHash != "" && p.PreviousHash != p.NewHash
}

// Prepare validates the password, rejects it if it matches any of the
// account's recent history, and hashes it. It has no side effects.
func (g *PasswordChangeGuard) Prepare(ctx context.Context, account *Account, password PlainPassword) (*PreparedChange, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	entries, err := g.history.FindRecent(ctx, account.ID, g.cfg.HistoryLimit)
	if err != nil {
		return nil, oops.Code("PASSWORD_CHANGE_FAILED").
			With("operation", "FindRecent").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	for _, entry := range entries {
		match, verifyErr := g.hasher.Verify(string(password), entry.PasswordHash)
		if verifyErr != nil {
			// An unreadable history row cannot prove reuse; skip it.
			g.opts.logger.WarnContext(ctx, "skipping unverifiable password history entry",
				"account_id", account.ID.String(),
				"entry_id", entry.ID.String(),
				"error", verifyErr,
			)
			continue
		}
		if match {
			return nil, errPasswordReused()
		}
	}

	hash, err := g.hasher.Hash(string(password))
	if err != nil {
		return nil, oops.Code("PASSWORD_CHANGE_FAILED").
			With("operation", "Hash").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	return &PreparedChange{
		AccountID:    account.ID,
		PreviousHash: account.PasswordHash,
		NewHash:      hash,
	}, nil
}

// Commit records the prepared hash in history, trims history to the
// configured size, and stores the hash on the account. Callers run it inside
// a transaction together with any other writes of the same operation.
func (g *PasswordChangeGuard) Commit(ctx context.Context, account *Account, prepared *PreparedChange, now time.Time) error {
	entry, err := NewPasswordHistoryEntry(account.ID, prepared.NewHash, now)
	if err != nil {
		return oops.Code("PASSWORD_CHANGE_FAILED").
			With("operation", "NewPasswordHistoryEntry").
			Wrap(err)
	}

	if err := g.history.Append(ctx, entry, g.cfg.HistoryLimit); err != nil {
		return oops.Code("PASSWORD_CHANGE_FAILED").
			With("operation", "Append").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	if err := g.accounts.UpdatePassword(ctx, account.ID, prepared.NewHash, now); err != nil {
		return oops.Code("PASSWORD_CHANGE_FAILED").
			With("operation", "UpdatePassword").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	account.SetPasswordHash(prepared.NewHash, now)
	return nil
}

// ChangeRequest describes a direct password change.
type ChangeRequest struct {
	AccountID ulid.ULID
	Password  PasswordInput
	Initiator ChangeInitiator
	Request   RequestContext
}

// ChangePassword applies a direct password change to an existing account.
//
// A HashedPassword is stored as-is with no checks. For a PlainPassword the
// account's change rate limit is consumed (unless this is its first
// password), reuse against history is rejected, and the new hash and history
// entry are written in one transaction. The change notification is sent
// after the commit.
func (g *PasswordChangeGuard) ChangePassword(ctx context.Context, req ChangeRequest) error {
	ctx, span := g.opts.tracer.Start(ctx, "auth.ChangePassword")
	defer span.End()
	span.SetAttributes(attribute.String("account_id", req.AccountID.String()))

	account, err := g.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("ACCOUNT_NOT_FOUND").
				With("account_id", req.AccountID.String()).
				Wrap(err)
		}
		return oops.Code("PASSWORD_CHANGE_FAILED").
			With("operation", "GetByID").
			With("account_id", req.AccountID.String()).
			Wrap(err)
	}

	var password PlainPassword
	switch pw := req.Password.(type) {
	case HashedPassword:
		return g.resave(ctx, account, pw)
	case PlainPassword:
		password = pw
	default:
		return oops.Code("PASSWORD_INPUT_INVALID").Errorf("password input is required")
	}

	if account.HasPassword() {
		if err := consumeSlot(ctx, g.opts, g.limiter, "change", changeKeyPrefix+account.ID.String(), g.cfg.RateLimit); err != nil {
			g.opts.metrics.passwordChange("rate_limited")
			return err
		}
	}

	prepared, err := g.Prepare(ctx, account, password)
	if err != nil {
		if IsPasswordReused(err) {
			g.opts.metrics.passwordChange("reused")
		}
		return err
	}

	now := g.opts.clock()
	if err := g.tx.InTransaction(ctx, func(txCtx context.Context) error {
		return g.Commit(txCtx, account, prepared, now)
	}); err != nil {
		g.opts.metrics.passwordChange("error")
		return err
	}

	g.opts.metrics.passwordChange("changed")
	g.opts.logger.InfoContext(ctx, "password changed", "account_id", account.ID.String())

	if prepared.Changed() {
		g.notifier.PasswordChanged(ctx, account, newNotificationContext(req.Request, req.Initiator, now))
	}
	return nil
}

// ChangePasswordRaw is ChangePassword for callers that hold an untyped
// password string, such as bulk re-saves. The form is guessed with
// LooksHashed.
func (g *PasswordChangeGuard) ChangePasswordRaw(ctx context.Context, accountID ulid.ULID, raw string, initiator ChangeInitiator) error {
	return g.ChangePassword(ctx, ChangeRequest{
		AccountID: accountID,
		Password:  ClassifyPassword(raw),
		Initiator: initiator,
	})
}

// resave stores an already-hashed password without checks.
func (g *PasswordChangeGuard) resave(ctx context.Context, account *Account, hash HashedPassword) error {
	if string(hash) == account.PasswordHash {
		return nil
	}
	now := g.opts.clock()
	if err := g.accounts.UpdatePassword(ctx, account.ID, string(hash), now); err != nil {
		return oops.Code("PASSWORD_CHANGE_FAILED").
			With("operation", "UpdatePassword").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	account.SetPasswordHash(string(hash), now)
	g.opts.metrics.passwordChange("resaved")
	return nil
}
