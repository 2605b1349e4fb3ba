// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
)

// ResetServiceConfig configures a PasswordResetService.
type ResetServiceConfig struct {
	// TokenLifetime is how long an issued token stays redeemable.
	// Defaults to DefaultResetTokenLifetime.
	TokenLifetime time.Duration

	// RateLimit bounds reset requests per email.
	// Defaults to DefaultResetRateLimit per DefaultResetRateWindow.
	RateLimit RateLimitPolicy
}

func (c ResetServiceConfig) withDefaults() ResetServiceConfig {
	if c.TokenLifetime <= 0 {
		c.TokenLifetime = DefaultResetTokenLifetime
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = DefaultResetRateLimit
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = DefaultResetRateWindow
	}
	return c
}

// ResetServiceDeps are the collaborators of a PasswordResetService.
type ResetServiceDeps struct {
	Accounts   AccountRepository
	Tokens     ResetTokenRepository
	Guard      *PasswordChangeGuard
	Limiter    RateLimiter
	Transactor Transactor
	Notifier   Notifier // optional
}

// PasswordResetService owns the reset token lifecycle:
// issued, then consumed, superseded or expired.
type PasswordResetService struct {
	accounts AccountRepository
	tokens   ResetTokenRepository
	guard    *PasswordChangeGuard
	limiter  RateLimiter
	tx       Transactor
	notifier Notifier
	cfg      ResetServiceConfig
	opts     serviceOptions
}

// NewPasswordResetService creates a new PasswordResetService.
func NewPasswordResetService(deps ResetServiceDeps, cfg ResetServiceConfig, opts ...Option) (*PasswordResetService, error) {
	if deps.Accounts == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("account repository is required")
	}
	if deps.Tokens == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("reset token repository is required")
	}
	if deps.Guard == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("password change guard is required")
	}
	if deps.Limiter == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("rate limiter is required")
	}
	if deps.Transactor == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("transactor is required")
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &PasswordResetService{
		accounts: deps.Accounts,
		tokens:   deps.Tokens,
		guard:    deps.Guard,
		limiter:  deps.Limiter,
		tx:       deps.Transactor,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		opts:     applyOptions(opts),
	}, nil
}

// TokenLifetime returns the configured token lifetime.
func (s *PasswordResetService) TokenLifetime() time.Duration {
	return s.cfg.TokenLifetime
}

// RequestReset issues a reset token for the account registered under email
// and hands the plaintext to the notifier. The returned message is the same
// whether or not the account exists. Only a rate limit rejection or an
// internal failure produces an error.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string, req RequestContext) (string, error) {
	ctx, span := s.opts.tracer.Start(ctx, "auth.RequestReset")
	defer span.End()

	email = NormalizeEmail(email)
	now := s.opts.clock()

	if err := consumeSlot(ctx, s.opts, s.limiter, "reset", resetKeyPrefix+email, s.cfg.RateLimit); err != nil {
		s.opts.metrics.resetRequest("rate_limited")
		return "", err
	}

	recent, err := s.tokens.CountRecent(ctx, email, now.Add(-s.cfg.RateLimit.Window))
	if err != nil {
		s.opts.metrics.resetRequest("error")
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "CountRecent").
			Wrap(err)
	}
	if recent >= s.cfg.RateLimit.Limit {
		s.opts.metrics.resetRequest("rate_limited")
		s.opts.metrics.rateLimited("reset")
		return "", errRateLimited("reset")
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.opts.logger.DebugContext(ctx, "password reset requested for unknown email")
			s.opts.metrics.resetRequest("unknown_email")
			return MsgResetRequested, nil
		}
		s.opts.metrics.resetRequest("error")
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "GetByEmail").
			Wrap(err)
	}
	span.SetAttributes(attribute.String("account_id", account.ID.String()))

	plaintext, hash, err := GenerateResetToken()
	if err != nil {
		s.opts.metrics.resetRequest("error")
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "GenerateResetToken").
			Wrap(err)
	}

	token, err := NewResetToken(account.ID, email, hash, req, now, s.cfg.TokenLifetime)
	if err != nil {
		s.opts.metrics.resetRequest("error")
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "NewResetToken").
			Wrap(err)
	}

	var superseded int64
	err = s.tx.InTransaction(ctx, func(txCtx context.Context) error {
		// Concurrent requests for one account queue here so each one's
		// invalidation sees the token the previous one inserted.
		if err := s.accounts.LockForUpdate(txCtx, account.ID); err != nil {
			return oops.With("operation", "LockForUpdate").Wrap(err)
		}
		if err := s.tokens.Create(txCtx, token); err != nil {
			return oops.With("operation", "Create").Wrap(err)
		}
		n, err := s.tokens.InvalidateAllExcept(txCtx, account.ID, token.ID, now)
		if err != nil {
			return oops.With("operation", "InvalidateAllExcept").Wrap(err)
		}
		superseded = n
		return nil
	})
	if err != nil {
		s.opts.metrics.resetRequest("error")
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	s.opts.metrics.resetRequest("issued")
	s.opts.logger.InfoContext(ctx, "password reset token issued",
		"account_id", account.ID.String(),
		"token_id", token.ID.String(),
		"superseded", superseded,
		"expires_at", token.ExpiresAt,
	)

	s.notifier.ResetRequested(ctx, account, plaintext, s.cfg.TokenLifetime,
		newNotificationContext(req, SelfInitiated{}, now))

	return MsgResetRequested, nil
}

// ValidateToken returns the token for plaintext if it is still redeemable.
// Unknown, expired and used tokens are indistinguishable to the caller.
func (s *PasswordResetService) ValidateToken(ctx context.Context, plaintext string) (*ResetToken, error) {
	if plaintext == "" {
		return nil, errInvalidToken()
	}

	token, err := s.tokens.FindValid(ctx, HashResetToken(plaintext), s.opts.clock())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errInvalidToken()
		}
		return nil, oops.Code("RESET_VALIDATE_FAILED").
			With("operation", "FindValid").
			Wrap(err)
	}

	// The repository filters on time; re-check so a lagging store cannot
	// hand back a terminal token.
	if !token.IsValid(s.opts.clock()) {
		return nil, errInvalidToken()
	}
	return token, nil
}

// Confirm redeems a reset token and sets a new password. Marking the token
// used, superseding its siblings, recording history and updating the account
// happen in one transaction; of two concurrent confirms on the same token
// exactly one succeeds.
func (s *PasswordResetService) Confirm(ctx context.Context, plaintext string, newPassword PlainPassword, req RequestContext) (string, error) {
	ctx, span := s.opts.tracer.Start(ctx, "auth.ConfirmReset")
	defer span.End()

	token, err := s.ValidateToken(ctx, plaintext)
	if err != nil {
		s.opts.metrics.resetConfirm("invalid_token")
		return "", err
	}
	span.SetAttributes(attribute.String("account_id", token.AccountID.String()))

	account, err := s.accounts.GetByID(ctx, token.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Account deleted after issuance.
			s.opts.metrics.resetConfirm("invalid_token")
			return "", errInvalidToken()
		}
		s.opts.metrics.resetConfirm("error")
		return "", oops.Code("RESET_CONFIRM_FAILED").
			With("operation", "GetByID").
			Wrap(err)
	}

	prepared, err := s.guard.Prepare(ctx, account, newPassword)
	if err != nil {
		if IsPolicyViolation(err) {
			s.opts.metrics.resetConfirm("rejected")
		} else {
			s.opts.metrics.resetConfirm("error")
		}
		return "", err
	}

	now := s.opts.clock()
	err = s.tx.InTransaction(ctx, func(txCtx context.Context) error {
		if err := s.accounts.LockForUpdate(txCtx, account.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return errInvalidToken()
			}
			return oops.Code("RESET_CONFIRM_FAILED").
				With("operation", "LockForUpdate").
				Wrap(err)
		}
		marked, err := s.tokens.MarkUsed(txCtx, token.ID, now)
		if err != nil {
			return oops.Code("RESET_CONFIRM_FAILED").
				With("operation", "MarkUsed").
				Wrap(err)
		}
		if !marked {
			return errInvalidToken()
		}
		if _, err := s.tokens.InvalidateAllExcept(txCtx, account.ID, token.ID, now); err != nil {
			return oops.Code("RESET_CONFIRM_FAILED").
				With("operation", "InvalidateAllExcept").
				Wrap(err)
		}
		return s.guard.Commit(txCtx, account, prepared, now)
	})
	if err != nil {
		if IsInvalidToken(err) {
			s.opts.metrics.resetConfirm("invalid_token")
			return "", err
		}
		s.opts.metrics.resetConfirm("error")
		s.opts.logger.ErrorContext(ctx, "password reset confirm failed",
			"account_id", account.ID.String(),
			"token_id", token.ID.String(),
			"error", err,
		)
		return "", err
	}

	s.opts.metrics.resetConfirm("confirmed")
	s.opts.logger.InfoContext(ctx, "password reset confirmed",
		"account_id", account.ID.String(),
		"token_id", token.ID.String(),
	)

	s.notifier.ResetSucceeded(ctx, account, newNotificationContext(req, SelfInitiated{}, now))
	return MsgResetConfirmed, nil
}
