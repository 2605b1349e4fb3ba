// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/credkeeper/internal/auth"
)

// Dispatcher defaults.
const (
	DefaultQueueSize  = 128
	DefaultRetryDelay = 2 * time.Second
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// ResetLinkBase is the page that accepts reset tokens, e.g.
	// https://example.com/reset. The token is added as the "token" query
	// parameter. When empty the bare token is sent.
	ResetLinkBase string

	// QueueSize defaults to DefaultQueueSize.
	QueueSize int

	// RetryDelay is the pause before the single retry. Defaults to DefaultRetryDelay.
	RetryDelay time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Registerer, when set, receives the delivery counter.
	Registerer prometheus.Registerer
}

type task struct {
	ctx       context.Context
	kind      Kind
	accountID ulid.ULID
	to        string
	data      TemplateData
}

// Dispatcher implements auth.Notifier on top of a Renderer and a Sender.
// Notifications are queued and delivered by one background worker, so the
// auth.Notifier methods never block on the network. A full or closed queue
// drops the notification with a warning.
type Dispatcher struct {
	renderer Renderer
	sender   Sender
	linkBase *url.URL
	delay    time.Duration
	logger   *slog.Logger
	outcomes *prometheus.CounterVec

	mu     sync.RWMutex
	closed bool
	queue  chan task
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher and starts its worker. Call Close to
// drain the queue and stop it.
func NewDispatcher(renderer Renderer, sender Sender, cfg DispatcherConfig) (*Dispatcher, error) {
	if renderer == nil {
		return nil, oops.Code("DISPATCHER_INVALID").Errorf("renderer is required")
	}
	if sender == nil {
		return nil, oops.Code("DISPATCHER_INVALID").Errorf("sender is required")
	}

	d := &Dispatcher{
		renderer: renderer,
		sender:   sender,
		delay:    cfg.RetryDelay,
		logger:   cfg.Logger,
	}
	if cfg.ResetLinkBase != "" {
		u, err := url.Parse(cfg.ResetLinkBase)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, oops.Code("DISPATCHER_INVALID").
				With("reset_link_base", cfg.ResetLinkBase).
				Errorf("reset link base must be an absolute URL")
		}
		d.linkBase = u
	}
	if d.delay <= 0 {
		d.delay = DefaultRetryDelay
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	d.queue = make(chan task, size)

	if cfg.Registerer != nil {
		d.outcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credkeeper_notifications_total",
				Help: "Total security notifications by kind and outcome",
			},
			[]string{"kind", "outcome"},
		)
		cfg.Registerer.MustRegister(d.outcomes)
	}

	d.wg.Add(1)
	go d.run()

	return d, nil
}

// PasswordChanged implements auth.Notifier.
func (d *Dispatcher) PasswordChanged(ctx context.Context, account *auth.Account, nc auth.NotificationContext) {
	data := d.baseData(account, nc)
	if actor, ok := nc.Initiator.(auth.ActorInitiated); ok {
		data.ChangedBy = "account " + actor.ActorID.String()
	}
	d.enqueue(ctx, KindPasswordChanged, account, data)
}

// ResetRequested implements auth.Notifier.
func (d *Dispatcher) ResetRequested(ctx context.Context, account *auth.Account, token string, lifetime time.Duration, nc auth.NotificationContext) {
	data := d.baseData(account, nc)
	data.ResetLink = d.resetLink(token)
	data.ExpiresIn = humanDuration(lifetime)
	d.enqueue(ctx, KindResetRequested, account, data)
}

// ResetSucceeded implements auth.Notifier.
func (d *Dispatcher) ResetSucceeded(ctx context.Context, account *auth.Account, nc auth.NotificationContext) {
	d.enqueue(ctx, KindResetSucceeded, account, d.baseData(account, nc))
}

// Close stops accepting notifications, delivers everything already queued
// and waits for the worker to exit. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) baseData(account *auth.Account, nc auth.NotificationContext) TemplateData {
	return TemplateData{
		Email:     account.Email,
		AccountID: account.ID,
		IPAddress: nc.IPAddress,
		UserAgent: nc.UserAgent,
		Timestamp: nc.Timestamp,
	}
}

func (d *Dispatcher) resetLink(token string) string {
	if d.linkBase == nil {
		return token
	}
	u := *d.linkBase
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (d *Dispatcher) enqueue(ctx context.Context, kind Kind, account *auth.Account, data TemplateData) {
	t := task{
		ctx:       context.WithoutCancel(ctx),
		kind:      kind,
		accountID: account.ID,
		to:        account.Email,
		data:      data,
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(t, "dispatcher closed")
		return
	}
	select {
	case d.queue <- t:
	default:
		d.drop(t, "queue full")
	}
}

func (d *Dispatcher) drop(t task, reason string) {
	d.record(t.kind, "dropped")
	d.logger.WarnContext(t.ctx, "notification dropped",
		"code", auth.CodeNotificationFailed,
		"kind", string(t.kind),
		"account_id", t.accountID.String(),
		"reason", reason,
	)
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for t := range d.queue {
		d.deliver(t)
	}
}

// deliver renders and sends one notification with a single retry on send
// failure. Render failures are not retried.
func (d *Dispatcher) deliver(t task) {
	msg, err := d.renderer.Render(t.kind, t.to, t.data)
	if err != nil {
		d.fail(t, 0, err)
		return
	}

	attempts := 0
	backoff := retry.WithMaxRetries(1, retry.NewConstant(d.delay))
	err = retry.Do(t.ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := d.sender.Send(ctx, msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		d.fail(t, attempts, err)
		return
	}

	d.record(t.kind, "sent")
	d.logger.DebugContext(t.ctx, "notification sent",
		"kind", string(t.kind),
		"account_id", t.accountID.String(),
		"attempts", attempts,
	)
}

func (d *Dispatcher) fail(t task, attempts int, err error) {
	d.record(t.kind, "failed")
	d.logger.WarnContext(t.ctx, "notification failed",
		"code", auth.CodeNotificationFailed,
		"kind", string(t.kind),
		"account_id", t.accountID.String(),
		"attempts", attempts,
		"error", err,
	)
}

func (d *Dispatcher) record(kind Kind, outcome string) {
	if d.outcomes != nil {
		d.outcomes.WithLabelValues(string(kind), outcome).Inc()
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short time"
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Compile-time interface check.
var _ auth.Notifier = (*Dispatcher)(nil)
