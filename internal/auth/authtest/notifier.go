// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/holomush/credkeeper/internal/auth"
)

// Notification is one call captured by RecordingNotifier.
type Notification struct {
	Kind     string // password_changed, reset_requested or reset_succeeded
	Account  auth.Account
	Token    string
	Lifetime time.Duration
	Context  auth.NotificationContext
}

// RecordingNotifier records every notification it is asked to send.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

var _ auth.Notifier = (*RecordingNotifier)(nil)

// PasswordChanged implements auth.Notifier.
func (r *RecordingNotifier) PasswordChanged(_ context.Context, account *auth.Account, nc auth.NotificationContext) {
	r.record(Notification{Kind: "password_changed", Account: *account, Context: nc})
}

// ResetRequested implements auth.Notifier.
func (r *RecordingNotifier) ResetRequested(_ context.Context, account *auth.Account, token string, lifetime time.Duration, nc auth.NotificationContext) {
	r.record(Notification{Kind: "reset_requested", Account: *account, Token: token, Lifetime: lifetime, Context: nc})
}

// ResetSucceeded implements auth.Notifier.
func (r *RecordingNotifier) ResetSucceeded(_ context.Context, account *auth.Account, nc auth.NotificationContext) {
	r.record(Notification{Kind: "reset_succeeded", Account: *account, Context: nc})
}

func (r *RecordingNotifier) record(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// Sent returns a copy of the recorded notifications in call order.
func (r *RecordingNotifier) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// Last returns the most recent notification of kind, if any.
func (r *RecordingNotifier) Last(kind string) (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Kind == kind {
			return r.sent[i], true
		}
	}
	return Notification{}, false
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
