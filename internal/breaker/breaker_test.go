package breaker

import (
	"testing"
	"time"
)

// fixedClock returns a controllable now() func and a setter.
func fixedClock(start time.Time) (func() time.Time, func(time.Time)) {
	cur := start
	return func() time.Time { return cur }, func(t time.Time) { cur = t }
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := New(3, 5*time.Minute, time.Minute)
	now, _ := fixedClock(time.Unix(1_700_000_000, 0))
	b.now = now

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatalf("breaker opened after %d failures, threshold is 3", i+1)
		}
	}
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("expected breaker to reject after reaching threshold")
	}
	if !b.Open() {
		t.Fatal("Open() should report true while circuit is open")
	}
}

func TestBreaker_ClosesAfterCooldown_NoProbeNeeded(t *testing.T) {
	b := New(1, 5*time.Minute, time.Minute)
	start := time.Unix(1_700_000_000, 0)
	now, set := fixedClock(start)
	b.now = now

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("expected open circuit")
	}

	// Just before cooldown expiry: still rejecting.
	set(start.Add(59 * time.Second))
	if b.Allow() {
		t.Fatal("cooldown not elapsed, request should be rejected")
	}

	// After cooldown: closes unconditionally, no success probe required.
	set(start.Add(61 * time.Second))
	if !b.Allow() {
		t.Fatal("cooldown elapsed, breaker should close and allow")
	}
	if b.Open() {
		t.Fatal("breaker should report closed after cooldown reset")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(2, 5*time.Minute, time.Minute)
	now, _ := fixedClock(time.Unix(1_700_000_000, 0))
	b.now = now

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if !b.Allow() {
		t.Fatal("single failure after success must not open a threshold-2 breaker")
	}
}

func TestBreaker_FailureWindowExpiry(t *testing.T) {
	b := New(2, time.Minute, time.Minute)
	start := time.Unix(1_700_000_000, 0)
	now, set := fixedClock(start)
	b.now = now

	b.RecordFailure()

	// The first failure ages out of the window before the second arrives.
	set(start.Add(2 * time.Minute))
	if !b.Allow() {
		t.Fatal("stale failure should have been discarded")
	}
	b.RecordFailure()
	if !b.Allow() {
		t.Fatal("one in-window failure must not open a threshold-2 breaker")
	}
}
