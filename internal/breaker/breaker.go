// Package breaker implements the circuit breaker that guards calls to the
// AI backend. It tracks failures inside a sliding window using atomic
// counters and short-circuits callers once a threshold is breached.
//
// States: CLOSED (default) → OPEN (threshold reached) → CLOSED (cooldown
// elapsed). The breaker closes unconditionally after the cooldown; no
// half-open probe call is required. This trades a blind resumption of
// traffic for simplicity and keeps Allow lock-free.
package breaker

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Defaults match the production tuning of the AI dispatch path.
const (
	DefaultFailureThreshold = 5
	DefaultFailureWindow    = 5 * time.Minute
	DefaultCooldown         = time.Minute
)

// Breaker is a lock-free circuit breaker. The zero value is not usable;
// construct with New. All methods are safe for concurrent use.
type Breaker struct {
	threshold int64
	window    time.Duration
	cooldown  time.Duration

	failures    atomic.Int64
	lastFailure atomic.Int64 // unix millis of most recent failure
	openedAt    atomic.Int64 // unix millis when the circuit opened; 0 = closed

	now func() time.Time
}

// New constructs a Breaker. Non-positive arguments fall back to the
// package defaults.
func New(threshold int, window, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if window <= 0 {
		window = DefaultFailureWindow
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{
		threshold: int64(threshold),
		window:    window,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a request may proceed.
//
// If the circuit is OPEN and the cooldown has not elapsed, the request is
// rejected. Once the cooldown elapses the breaker resets to CLOSED and the
// request is allowed. While CLOSED, a failure count older than the failure
// window is discarded before allowing the request.
func (b *Breaker) Allow() bool {
	now := b.now().UnixMilli()

	if opened := b.openedAt.Load(); opened > 0 {
		if now-opened < b.cooldown.Milliseconds() {
			return false
		}
		log.Info().Msg("circuit breaker cooldown complete, closing circuit")
		b.reset()
	}

	// Stale failures outside the window no longer count toward the threshold.
	if now-b.lastFailure.Load() > b.window.Milliseconds() {
		b.failures.Store(0)
	}
	return true
}

// RecordSuccess resets the failure count and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.failures.Store(0)
	b.openedAt.Store(0)
}

// RecordFailure notes a failed call. Reaching the threshold opens the
// circuit for the cooldown duration.
func (b *Breaker) RecordFailure() {
	now := b.now().UnixMilli()
	b.lastFailure.Store(now)
	if b.failures.Add(1) >= b.threshold {
		b.openedAt.Store(now)
		log.Error().
			Dur("cooldown", b.cooldown).
			Msg("circuit breaker threshold reached, opening circuit")
	}
}

// Open reports whether the circuit is currently open. Used for metrics and
// operational visibility; Allow remains the authoritative gate.
func (b *Breaker) Open() bool {
	opened := b.openedAt.Load()
	return opened > 0 && b.now().UnixMilli()-opened < b.cooldown.Milliseconds()
}

func (b *Breaker) reset() {
	b.failures.Store(0)
	b.lastFailure.Store(0)
	b.openedAt.Store(0)
}
