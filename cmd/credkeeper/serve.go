// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/credkeeper/internal/auth"
	"github.com/holomush/credkeeper/internal/auth/postgres"
	"github.com/holomush/credkeeper/internal/auth/redislimit"
	"github.com/holomush/credkeeper/internal/config"
	"github.com/holomush/credkeeper/internal/httpapi"
	"github.com/holomush/credkeeper/internal/notify"
	"github.com/holomush/credkeeper/internal/observability"
	"github.com/holomush/credkeeper/internal/store"
)

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return newServeCmdWithDeps(nil)
}

func newServeCmdWithDeps(deps *ServeDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the credential service",
		Long: `Start the HTTP API for password resets and password changes,
the notification dispatcher, the token sweeper and the metrics server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, deps)
		},
	}
}

// runServeWithDeps starts the service with injectable dependencies and
// blocks until a signal arrives, ctx is cancelled or a server fails.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.OpenDatabase == nil {
		deps.OpenDatabase = openDatabase
	}
	if deps.RedisClientFactory == nil {
		deps.RedisClientFactory = newRedisClient
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr, buildVersion string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, buildVersion, readinessChecker)
		}
	}

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

	logger.Info("starting credkeeper",
		"http_addr", cfg.HTTP.Addr,
		"metrics_addr", cfg.Metrics.Addr,
		"ratelimit_backend", cfg.RateLimit.Backend,
	)
	logger.Debug("effective configuration", "config", cfg.String())

	connectCtx, connectCancel := context.WithTimeout(ctx, connectTimeout)
	db, err := deps.OpenDatabase(connectCtx, cfg.Database.URL, store.PoolConfig{MaxConns: cfg.Database.MaxConns})
	connectCancel()
	if err != nil {
		return oops.With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()
	logger.Info("connected to database")

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var redisClient RedisClient
	if cfg.RateLimit.Backend == config.BackendRedis {
		redisClient = deps.RedisClientFactory(cfg.Redis)
		defer func() {
			if closeErr := redisClient.Close(); closeErr != nil {
				logger.Debug("error closing redis client", "error", closeErr)
			}
		}()
	}

	readiness := func(ctx context.Context) error {
		if err := db.Ping(ctx); err != nil {
			return oops.With("dependency", "postgres").Wrap(err)
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return oops.With("dependency", "redis").Wrap(err)
			}
		}
		return nil
	}

	var obsServer ObservabilityServer
	registerer := prometheus.Registerer(prometheus.NewRegistry())
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, version, readiness)
		if withReg, ok := obsServer.(interface{ Registerer() prometheus.Registerer }); ok {
			registerer = withReg.Registerer()
		}
	}

	limiter, closeLimiter, err := buildLimiter(ctx, cfg, redisClient, registerer)
	if err != nil {
		return err
	}
	defer closeLimiter()

	dispatcher, err := buildDispatcher(cfg, logger, registerer)
	if err != nil {
		return err
	}
	// Drain pending notifications after the API has stopped accepting requests.
	defer dispatcher.Close()

	opts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithMetrics(auth.NewMetrics(registerer)),
	}
	accounts := postgres.NewAccountRepository(db)
	tokens := postgres.NewResetTokenRepository(db)
	history := postgres.NewPasswordHistoryRepository(db)
	tx := postgres.NewTransactor(db)

	guard, err := auth.NewPasswordChangeGuard(auth.ChangeGuardDeps{
		Accounts:   accounts,
		History:    history,
		Hasher:     auth.NewArgon2idHasher(),
		Limiter:    limiter,
		Transactor: tx,
		Notifier:   dispatcher,
	}, cfg.ChangeGuard(), opts...)
	if err != nil {
		return err
	}
	resets, err := auth.NewPasswordResetService(auth.ResetServiceDeps{
		Accounts:   accounts,
		Tokens:     tokens,
		Guard:      guard,
		Limiter:    limiter,
		Transactor: tx,
		Notifier:   dispatcher,
	}, cfg.ResetService(), opts...)
	if err != nil {
		return err
	}

	sweeper := auth.NewTokenSweeper(cfg.Sweeper(), tokens, history, opts...)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	apiServer := httpapi.NewServer(cfg.HTTP.Addr, httpapi.NewHandler(resets, guard, logger).Routes())
	apiErrChan, err := apiServer.Start()
	if err != nil {
		return oops.With("operation", "start api server").Wrap(err)
	}
	// Monitor API server errors in background - cancel context on error
	go monitorServerErrors(ctx, cancel, apiErrChan, "api")

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			stopServer(apiServer.Stop, "api")
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("credkeeper started")
	logger.Info("credkeeper ready", "http_addr", apiServer.Addr())

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	stopServer(apiServer.Stop, "api")
	if obsServer != nil {
		stopServer(obsServer.Stop, "observability")
	}
	logger.Info("shutdown complete")
	return nil
}

// buildLimiter returns the configured rate limiter and a function releasing it.
func buildLimiter(ctx context.Context, cfg *config.Config, client RedisClient, reg prometheus.Registerer) (auth.RateLimiter, func(), error) {
	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		if client == nil {
			return nil, nil, oops.Code("CONFIG_INVALID").Errorf("redis backend selected without a redis client")
		}
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.Redis.Addr).Wrap(err)
		}
		return redislimit.New(client, redislimit.DefaultPrefix), func() {}, nil
	default:
		limiter := auth.NewMemoryRateLimiter(auth.MemoryRateLimiterConfig{Registerer: reg})
		return limiter, limiter.Close, nil
	}
}

// buildDispatcher wires the notification pipeline. Without an SMTP host the
// messages are rendered and discarded with a log line.
func buildDispatcher(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*notify.Dispatcher, error) {
	renderer, err := notify.NewTemplateRenderer(cfg.TemplateOverrides())
	if err != nil {
		return nil, err
	}

	var sender notify.Sender
	if cfg.Notify.SMTP.Host != "" {
		smtpSender, err := notify.NewSMTPSender(cfg.SMTP())
		if err != nil {
			return nil, err
		}
		sender = smtpSender
	} else {
		logger.Warn("notify.smtp.host not set, notifications will be discarded")
		sender = notify.LogSender{Logger: logger}
	}

	return notify.NewDispatcher(renderer, sender, notify.DispatcherConfig{
		ResetLinkBase: cfg.Notify.ResetLinkBase,
		QueueSize:     cfg.Notify.QueueSize,
		Logger:        logger,
		Registerer:    reg,
	})
}

// stopServer stops a server with a bounded timeout, logging failures.
func stopServer(stop func(context.Context) error, name string) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := stop(shutdownCtx); err != nil {
		slog.Warn("error stopping server", "server", name, "error", err)
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// This ensures that server failures trigger graceful shutdown of the entire process.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
