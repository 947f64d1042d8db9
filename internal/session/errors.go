// Package session issues, verifies, and expires OTP-gated ephemeral
// sessions. This file centralizes the sentinel errors returned by the Gate
// so handlers can map them to HTTP results consistently.
package session

import "errors"

var (
	// ErrInvalidEmail is returned when the supplied address fails the
	// basic shape check.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrActiveSessionExists is returned when the email already owns a
	// verified, non-expired session.
	ErrActiveSessionExists = errors.New("an active session already exists for this email")

	// ErrSessionNotFound is returned when no pending session matches the
	// given id (including a session already consumed by verification).
	ErrSessionNotFound = errors.New("session not found or expired")

	// ErrOTPExpired is returned when the OTP window has elapsed; the
	// pending session is evicted as a side effect.
	ErrOTPExpired = errors.New("verification code has expired")

	// ErrInvalidOTP is returned on a code mismatch with attempts left.
	ErrInvalidOTP = errors.New("invalid verification code")

	// ErrTooManyAttempts is returned once the attempt budget is spent;
	// the pending session is evicted and a new one must be requested.
	ErrTooManyAttempts = errors.New("too many failed verification attempts")
)
