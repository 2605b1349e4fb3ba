// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/credkeeper/internal/auth"
	"github.com/holomush/credkeeper/internal/auth/postgres"
	"github.com/holomush/credkeeper/internal/store"
)

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	return newSweepCmdWithDeps(nil)
}

func newSweepCmdWithDeps(deps *SweepDeps) *cobra.Command {
	if deps == nil {
		deps = &SweepDeps{}
	}
	if deps.OpenDatabase == nil {
		deps.OpenDatabase = openDatabase
	}

	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired reset tokens and aged password history once",
		Long: `Run one housekeeping cycle: delete used or expired reset tokens and
password history entries older than history.max_age, then exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd.Context(), cmd, deps)
		},
	}
}

func runSweep(ctx context.Context, cmd *cobra.Command, deps *SweepDeps) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	logger, err := setupLogging(cmd, cfg)
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	db, err := deps.OpenDatabase(connectCtx, cfg.Database.URL, store.PoolConfig{MaxConns: 2})
	cancel()
	if err != nil {
		return oops.With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()

	sweeper := auth.NewTokenSweeper(cfg.Sweeper(),
		postgres.NewResetTokenRepository(db),
		postgres.NewPasswordHistoryRepository(db),
		auth.WithLogger(logger),
	)
	res, err := sweeper.RunOnce(ctx)
	cmd.Printf("Deleted %d reset token(s) and %d history entries\n", res.Tokens, res.History)
	if err != nil {
		return oops.With("operation", "sweep").Wrap(err)
	}
	return nil
}
