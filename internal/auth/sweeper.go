// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the sweeper runs by default.
const DefaultSweepInterval = 24 * time.Hour

// SweepConfig configures a TokenSweeper.
type SweepConfig struct {
	Interval      time.Duration // How often to run a sweep cycle
	HistoryMaxAge time.Duration // History entries older than this are purged
}

// DefaultSweepConfig returns the default sweep configuration.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:      DefaultSweepInterval,
		HistoryMaxAge: DefaultHistoryMaxAge,
	}
}

// SweepResult reports what a sweep cycle removed.
type SweepResult struct {
	Tokens  int64
	History int64
}

// TokenSweeper periodically deletes terminal reset tokens and password
// history entries past their retention age. Both deletes only touch rows no
// live request can still use, so sweeping runs alongside normal traffic.
type TokenSweeper struct {
	cfg     SweepConfig
	tokens  ResetTokenRepository
	history PasswordHistoryRepository
	opts    serviceOptions

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTokenSweeper creates a new sweeper.
func NewTokenSweeper(cfg SweepConfig, tokens ResetTokenRepository, history PasswordHistoryRepository, opts ...Option) *TokenSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.HistoryMaxAge <= 0 {
		cfg.HistoryMaxAge = DefaultHistoryMaxAge
	}
	return &TokenSweeper{
		cfg:     cfg,
		tokens:  tokens,
		history: history,
		opts:    applyOptions(opts),
	}
}

// RunOnce executes a single sweep cycle. Both deletes are attempted even if
// the first fails; errors are combined.
func (w *TokenSweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	now := w.opts.clock()
	var (
		res  SweepResult
		errs []error
	)

	tokens, err := w.tokens.DeleteExpiredOrUsed(ctx, now)
	if err != nil {
		w.opts.logger.ErrorContext(ctx, "delete terminal reset tokens failed", "error", err)
		errs = append(errs, err)
	} else {
		res.Tokens = tokens
		w.opts.metrics.swept("reset_tokens", tokens)
		if tokens > 0 {
			w.opts.logger.InfoContext(ctx, "deleted terminal reset tokens", "count", tokens)
		}
	}

	history, err := w.history.PurgeAllOlderThan(ctx, now.Add(-w.cfg.HistoryMaxAge))
	if err != nil {
		w.opts.logger.ErrorContext(ctx, "purge password history failed", "error", err)
		errs = append(errs, err)
	} else {
		res.History = history
		w.opts.metrics.swept("password_history", history)
		if history > 0 {
			w.opts.logger.InfoContext(ctx, "purged password history", "count", history)
		}
	}

	return res, errors.Join(errs...)
}

// Start begins periodic sweeping. The first cycle runs immediately.
func (w *TokenSweeper) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the sweeper and waits for an in-flight cycle to finish.
func (w *TokenSweeper) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *TokenSweeper) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

func (w *TokenSweeper) cycle(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil {
		w.opts.logger.ErrorContext(ctx, "sweep cycle failed", "error", err)
	}
}
