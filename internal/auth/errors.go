// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Stable error codes surfaced to callers. User-facing codes carry generic
// messages; everything else is an internal failure.
const (
	CodeRateLimited          = "RATE_LIMIT_EXCEEDED"
	CodeRateLimitUnavailable = "RATE_LIMIT_UNAVAILABLE"
	CodeInvalidToken         = "RESET_TOKEN_INVALID"
	CodePasswordReused       = "PASSWORD_REUSED"
	CodePasswordTooShort     = "PASSWORD_TOO_SHORT"
	CodeNotificationFailed   = "NOTIFICATION_FAILED"
)

// User-facing messages. They never reveal whether an account or token exists.
const (
	MsgResetRequested   = "If this email exists you will receive instructions."
	MsgResetConfirmed   = "Your password has been reset."
	MsgRateLimited      = "Too many attempts. Please try again later."
	MsgInvalidToken     = "This reset link is invalid or has expired."
	MsgPasswordReused   = "This password was used recently. Please choose a different password."
	MsgPasswordTooShort = "Password is too short."
)

func errRateLimited(operation string) error {
	return oops.Code(CodeRateLimited).
		With("operation", operation).
		Errorf("%s", MsgRateLimited)
}

func errInvalidToken() error {
	return oops.Code(CodeInvalidToken).Errorf("%s", MsgInvalidToken)
}

func errPasswordReused() error {
	return oops.Code(CodePasswordReused).Errorf("%s", MsgPasswordReused)
}

func hasCode(err error, codes ...string) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	for _, code := range codes {
		if oopsErr.Code() == code {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether err rejects an operation for exceeding a rate
// limit. A limiter outage also counts: rate limiting fails closed.
func IsRateLimited(err error) bool {
	return hasCode(err, CodeRateLimited, CodeRateLimitUnavailable)
}

// IsInvalidToken reports whether err rejects a reset token. Unknown, expired
// and already-used tokens are indistinguishable.
func IsInvalidToken(err error) bool {
	return hasCode(err, CodeInvalidToken)
}

// IsPasswordReused reports whether err rejects a password found in history.
func IsPasswordReused(err error) bool {
	return hasCode(err, CodePasswordReused)
}

// IsPolicyViolation reports whether err rejects the chosen password itself:
// too short, empty, or found in history.
func IsPolicyViolation(err error) bool {
	return hasCode(err, CodePasswordTooShort, CodeEmptyPassword, CodePasswordReused)
}
