// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package notify delivers credential security notifications by email.
//
// The Dispatcher implements auth.Notifier. Services hand it events after
// their transaction commits; it renders them through a Renderer, queues them
// on a bounded channel, and a single worker submits them to a Sender. Each
// delivery gets exactly one retry. Failures are logged, never returned.
package notify

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind names a notification template.
type Kind string

// Notification kinds.
const (
	KindPasswordChanged Kind = "password_changed"
	KindResetRequested  Kind = "reset_requested"
	KindResetSucceeded  Kind = "reset_succeeded"
)

// Kinds lists every kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindPasswordChanged, KindResetRequested, KindResetSucceeded}
}

// Message is a rendered email ready for a Sender.
type Message struct {
	ToAddress string
	Subject   string
	PlainBody string
	HTMLBody  string
}

// TemplateData is what templates see.
type TemplateData struct {
	Email     string
	AccountID ulid.ULID

	// ResetLink and ExpiresIn are only set for reset requests.
	ResetLink string
	ExpiresIn string

	IPAddress string
	UserAgent string
	Timestamp time.Time

	// ChangedBy is empty for changes the account holder made.
	ChangedBy string
}
