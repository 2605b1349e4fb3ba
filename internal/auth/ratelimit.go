// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
)

// Default rate limiting policies.
const (
	DefaultResetRateLimit   = 3
	DefaultResetRateWindow  = time.Hour
	DefaultChangeRateLimit  = 5
	DefaultChangeRateWindow = time.Hour

	// DefaultLimiterCleanupInterval is how often the in-memory limiter drops
	// windows that have fully elapsed.
	DefaultLimiterCleanupInterval = 5 * time.Minute
)

// Rate limit key prefixes keep the reset and change counters apart.
const (
	resetKeyPrefix  = "reset:"
	changeKeyPrefix = "change:"
)

// RateLimitPolicy bounds requests per subject within a window.
type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

// RateLimiter counts security-sensitive requests per subject.
type RateLimiter interface {
	// TryConsume atomically increments the counter for key in the current
	// window and reports whether the post-increment count is within limit.
	// The increment always happens; rejection is a read of the result.
	// A non-nil error means the backend is unavailable and callers must
	// reject the request.
	TryConsume(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// fixedWindow tracks the counter for one subject key.
type fixedWindow struct {
	start  time.Time
	window time.Duration
	count  int
}

// MemoryRateLimiter implements RateLimiter with per-key fixed windows held in
// process memory. A window opens on the first request for a key and closes
// window later; the next request after that opens a fresh one.
// It is safe for concurrent use and suits single-instance deployments.
//
// A background goroutine drops elapsed windows. Call Close() to stop it.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*fixedWindow
	clock   func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	keyGauge prometheus.Gauge
}

// MemoryRateLimiterConfig configures a MemoryRateLimiter.
type MemoryRateLimiterConfig struct {
	// CleanupInterval defaults to DefaultLimiterCleanupInterval if zero.
	CleanupInterval time.Duration

	// Clock defaults to time.Now.
	Clock func() time.Time

	// Registerer, when set, receives a gauge of tracked keys.
	Registerer prometheus.Registerer
}

// NewMemoryRateLimiter creates a MemoryRateLimiter and starts its cleanup loop.
func NewMemoryRateLimiter(cfg MemoryRateLimiterConfig) *MemoryRateLimiter {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultLimiterCleanupInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	rl := &MemoryRateLimiter{
		windows:  make(map[string]*fixedWindow),
		clock:    clock,
		stopChan: make(chan struct{}),
	}

	if cfg.Registerer != nil {
		rl.keyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "credkeeper_ratelimiter_keys",
			Help: "Current number of tracked rate limiter subject keys",
		})
		cfg.Registerer.MustRegister(rl.keyGauge)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(interval)

	return rl
}

// TryConsume implements RateLimiter. It never returns an error.
func (rl *MemoryRateLimiter) TryConsume(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()

	w, exists := rl.windows[key]
	if !exists || !now.Before(w.start.Add(w.window)) {
		w = &fixedWindow{start: now, window: window}
		rl.windows[key] = w
	}

	w.count++
	return w.count <= limit, nil
}

// KeyCount returns the number of tracked keys.
func (rl *MemoryRateLimiter) KeyCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

// Cleanup removes windows that have fully elapsed.
func (rl *MemoryRateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()
	for key, w := range rl.windows {
		if !now.Before(w.start.Add(w.window)) {
			delete(rl.windows, key)
		}
	}

	if rl.keyGauge != nil {
		rl.keyGauge.Set(float64(len(rl.windows)))
	}
}

func (rl *MemoryRateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// Close stops the background cleanup goroutine. It blocks until the
// goroutine has stopped and is safe to call more than once.
func (rl *MemoryRateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
	rl.wg.Wait()
}

// Compile-time interface check.
var _ RateLimiter = (*MemoryRateLimiter)(nil)

// consumeSlot takes one slot for key under policy and maps the outcome to
// the rate limit error taxonomy. A limiter error fails closed.
func consumeSlot(ctx context.Context, o serviceOptions, limiter RateLimiter, operation, key string, policy RateLimitPolicy) error {
	allowed, err := limiter.TryConsume(ctx, key, policy.Limit, policy.Window)
	if err != nil {
		o.logger.ErrorContext(ctx, "rate limiter unavailable, rejecting request",
			"operation", operation,
			"error", err,
		)
		o.metrics.rateLimited(operation)
		return oops.Code(CodeRateLimitUnavailable).
			With("operation", operation).
			Wrap(err)
	}
	if !allowed {
		o.metrics.rateLimited(operation)
		return errRateLimited(operation)
	}
	return nil
}
