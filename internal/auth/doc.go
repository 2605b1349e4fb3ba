// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides credential lifecycle primitives for credkeeper.
//
// # Domain Types
//
// Domain types (ResetToken, PasswordHistoryEntry) should be created
// using their respective constructors:
//   - NewResetToken - creates a ResetToken with validated account, hash and expiry
//   - NewPasswordHistoryEntry - creates a history entry with validated account and hash
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Services
//
// Service types coordinate domain operations:
//   - PasswordResetService - request, validate and confirm password resets
//   - PasswordChangeGuard - rate limiting, reuse prevention and history for password changes
//   - TokenSweeper - periodic removal of terminal reset tokens and aged history
//
// Services are created with New* constructors that validate dependencies.
// Notifications are delivered through the Notifier contract after the
// owning transaction commits and never affect the outcome of the operation.
package auth
