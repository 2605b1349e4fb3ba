// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/credkeeper/internal/config"
	"github.com/holomush/credkeeper/internal/logging"
)

const serviceName = "credkeeper"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the credkeeper CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(NewServeCmd(), NewMigrateCmd(), NewSweepCmd(), NewVersionCmd())
}

// newRootCmd builds the root command around the given subcommands.
func newRootCmd(subcommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credkeeper",
		Short: "credkeeper - password reset and credential lifecycle service",
		Long: `credkeeper issues and redeems password reset tokens, enforces
password history and rate limits, and sends security notifications.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/credkeeper/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(subcommands...)

	return cmd
}

// loadConfig resolves the layered configuration for cmd and validates it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := config.ResolvePath(configFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging installs the default logger writing to the command's stderr.
func setupLogging(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("key", "log.level").Wrap(err)
	}
	return logging.SetDefault(serviceName, version, cfg.Log.Format, level, cmd.ErrOrStderr()), nil
}
