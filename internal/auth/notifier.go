// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// ChangeInitiator identifies who changed a password. It is either
// SelfInitiated or ActorInitiated.
type ChangeInitiator interface {
	isChangeInitiator()
}

// SelfInitiated marks a change made by the account holder.
type SelfInitiated struct{}

// ActorInitiated marks a change made by another account, e.g. an administrator.
type ActorInitiated struct {
	ActorID ulid.ULID
}

func (SelfInitiated) isChangeInitiator()  {}
func (ActorInitiated) isChangeInitiator() {}

// NotificationContext describes the circumstances of a security event.
type NotificationContext struct {
	IPAddress string
	UserAgent string
	Timestamp time.Time
	Initiator ChangeInitiator
}

func newNotificationContext(req RequestContext, initiator ChangeInitiator, at time.Time) NotificationContext {
	if initiator == nil {
		initiator = SelfInitiated{}
	}
	return NotificationContext{
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Timestamp: at,
		Initiator: initiator,
	}
}

// Notifier delivers security notifications. Implementations are best-effort:
// they must not block on network I/O and must swallow and log their own
// failures, so the methods return nothing.
type Notifier interface {
	// PasswordChanged tells the account holder their password changed.
	PasswordChanged(ctx context.Context, account *Account, nc NotificationContext)

	// ResetRequested delivers the plaintext reset token, e.g. embedded in a link.
	ResetRequested(ctx context.Context, account *Account, token string, lifetime time.Duration, nc NotificationContext)

	// ResetSucceeded confirms a completed reset.
	ResetSucceeded(ctx context.Context, account *Account, nc NotificationContext)
}

// NopNotifier discards every notification.
type NopNotifier struct{}

// PasswordChanged implements Notifier.
func (NopNotifier) PasswordChanged(context.Context, *Account, NotificationContext) {}

// ResetRequested implements Notifier.
func (NopNotifier) ResetRequested(context.Context, *Account, string, time.Duration, NotificationContext) {
}

// ResetSucceeded implements Notifier.
func (NopNotifier) ResetSucceeded(context.Context, *Account, NotificationContext) {}
