// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/holomush/credkeeper/internal/config"
	"github.com/holomush/credkeeper/internal/observability"
	"github.com/holomush/credkeeper/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// OpenDatabase connects to PostgreSQL.
	// Default: store.Open
	OpenDatabase func(ctx context.Context, url string, cfg store.PoolConfig) (Database, error)

	// RedisClientFactory creates the client for the redis rate limiter.
	// Default: redis.NewClient
	RedisClientFactory func(cfg config.RedisConfig) RedisClient

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr, buildVersion string, readinessChecker observability.ReadinessChecker) ObservabilityServer
}

// SweepDeps contains injectable dependencies for the sweep command.
type SweepDeps struct {
	// OpenDatabase connects to PostgreSQL.
	// Default: store.Open
	OpenDatabase func(ctx context.Context, url string, cfg store.PoolConfig) (Database, error)
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// MigratorFactory creates a migrator for the database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

// Database is the connection pool surface the repositories and probes use.
// *pgxpool.Pool satisfies it.
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// RedisClient wraps the methods used from *redis.Client.
type RedisClient interface {
	redis.Scripter
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Pending() ([]uint, error)
	Close() error
}

func openDatabase(ctx context.Context, url string, cfg store.PoolConfig) (Database, error) {
	pool, err := store.Open(ctx, url, cfg)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func newRedisClient(cfg config.RedisConfig) RedisClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func newMigrator(databaseURL string) (Migrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	return m, nil
}
