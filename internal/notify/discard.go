// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"log/slog"
)

// LogSender records that a message would have been sent. It never logs the
// body, which may carry a reset link. Used when no SMTP server is configured.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements Sender.
func (s LogSender) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "smtp not configured, notification discarded", "subject", msg.Subject)
	return nil
}

// Compile-time interface check.
var _ Sender = LogSender{}
