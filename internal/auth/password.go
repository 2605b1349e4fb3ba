// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"unicode/utf8"

	"github.com/samber/oops"
)

// MinPasswordLength is the minimum number of characters in a new password.
const MinPasswordLength = 8

// PasswordInput is a new password handed to PasswordChangeGuard. It is either
// a PlainPassword that must be checked and hashed, or a HashedPassword that is
// stored as-is.
type PasswordInput interface {
	isPasswordInput()
}

// PlainPassword is a password in plaintext form.
type PlainPassword string

// HashedPassword is a password already in hashed form, e.g. from a bulk import.
type HashedPassword string

func (PlainPassword) isPasswordInput()  {}
func (HashedPassword) isPasswordInput() {}

// String redacts the plaintext so it cannot leak through %v formatting.
func (PlainPassword) String() string { return "[REDACTED]" }

// ClassifyPassword turns an untyped password into a PasswordInput using
// LooksHashed. Only entry points that cannot know the form of their input
// (bulk re-saves) should use it.
func ClassifyPassword(raw string) PasswordInput {
	if LooksHashed(raw) {
		return HashedPassword(raw)
	}
	return PlainPassword(raw)
}

// ValidatePassword checks a plaintext password against the minimum policy.
func ValidatePassword(password PlainPassword) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if utf8.RuneCountInString(string(password)) < MinPasswordLength {
		return oops.Code(CodePasswordTooShort).
			With("min", MinPasswordLength).
			Errorf("%s", MsgPasswordTooShort)
	}
	return nil
}
