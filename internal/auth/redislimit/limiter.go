// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redislimit provides a RateLimiter backed by Redis, so that every
// instance of the service shares one set of counters.
package redislimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/credkeeper/internal/auth"
)

// DefaultPrefix namespaces limiter keys.
const DefaultPrefix = "credkeeper:ratelimit:"

// incrScript increments the window counter and arms its expiry on the first
// hit, so the window is fixed from the first request.
var incrScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// Limiter implements auth.RateLimiter with one Redis counter per key.
type Limiter struct {
	client redis.Scripter
	prefix string
}

// New creates a Limiter. An empty prefix uses DefaultPrefix.
func New(client redis.Scripter, prefix string) *Limiter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Limiter{client: client, prefix: prefix}
}

// TryConsume implements auth.RateLimiter. Redis errors are returned so the
// caller rejects the request.
func (l *Limiter) TryConsume(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window <= 0 {
		return false, oops.Code("RATE_LIMIT_POLICY_INVALID").
			With("window", window).
			Errorf("rate limit window must be positive")
	}

	count, err := incrScript.Run(ctx, l.client, []string{l.prefix + key}, window.Milliseconds()).Int64()
	if err != nil {
		return false, oops.Code("RATE_LIMIT_BACKEND_FAILED").
			With("operation", "increment window counter").
			Wrap(err)
	}
	return count <= int64(limit), nil
}

// Compile-time interface check.
var _ auth.RateLimiter = (*Limiter)(nil)
