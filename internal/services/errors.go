// Package services implements the business logic of the submission pipeline:
// accepting analyses, dispatching them to the queue, and answering polls.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

var (
	// ErrAuth indicates the bearer token does not belong to a verified,
	// unexpired session.
	ErrAuth = errors.New("invalid or expired session")

	// ErrEmptyPayload is returned when a submission carries no code.
	ErrEmptyPayload = errors.New("code payload is empty")

	// ErrPayloadTooLarge is returned when a submission exceeds the
	// configured intake ceiling.
	ErrPayloadTooLarge = errors.New("code payload too large")

	// ErrRateLimited indicates the request was refused by a rate scope.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrUpstreamUnavailable indicates the AI backend's circuit breaker is
	// open and no call was attempted.
	ErrUpstreamUnavailable = errors.New("analysis backend temporarily unavailable")

	// ErrPersistence indicates the durable status store refused a write or
	// read for reasons other than a missing record.
	ErrPersistence = errors.New("status storage unavailable")

	// ErrAnalysisNotFound indicates no record exists for the analysis id in
	// either the local cache or the durable store.
	ErrAnalysisNotFound = errors.New("analysis not found")
)
