// Package ratelimit implements the multi-scope token-bucket limiter bank
// protecting the submission pipeline.
//
// The bank maintains three named buckets (session creation, general API,
// analysis submission) refilled continuously via golang.org/x/time/rate,
// plus per-client-address buckets created lazily on first use. Address
// buckets carry a last-access timestamp and are evicted by a periodic
// janitor sweep once idle past a threshold, bounding memory regardless of
// distinct-address churn. Lookups additionally perform opportunistic
// eviction so a stale bucket can be removed even between sweeps.
//
// Limiter exhaustion is not an error: TryAcquire is non-blocking and a
// false return is a first-class rejection outcome the HTTP layer translates
// into a 429 with retry guidance.
//
// The bank is process-local. Horizontally scaled deployments get
// independent, non-coordinated limits per instance.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Scope names a shared token bucket.
type Scope string

const (
	// ScopeSessionCreate throttles session creation requests.
	ScopeSessionCreate Scope = "session_create"
	// ScopeAPI throttles all authenticated API calls.
	ScopeAPI Scope = "api"
	// ScopeAnalysis throttles analysis submissions, which are the most
	// resource-intensive operation.
	ScopeAnalysis Scope = "analysis"
)

// Config carries the per-minute rates and eviction tuning for a Bank.
type Config struct {
	SessionPerMinute  float64 // default 10
	APIPerMinute      float64 // default 60
	AnalysisPerMinute float64 // default 5

	// AddressIdleTTL is how long an address bucket may sit unused before
	// the janitor evicts it.
	AddressIdleTTL time.Duration // default 1h
	// SweepInterval is the janitor cadence.
	SweepInterval time.Duration // default 5m
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.SessionPerMinute <= 0 {
		out.SessionPerMinute = 10
	}
	if out.APIPerMinute <= 0 {
		out.APIPerMinute = 60
	}
	if out.AnalysisPerMinute <= 0 {
		out.AnalysisPerMinute = 5
	}
	if out.AddressIdleTTL <= 0 {
		out.AddressIdleTTL = time.Hour
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = 5 * time.Minute
	}
	return out
}

// addrBucket pairs an address limiter with its last access time.
type addrBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Bank owns the named scope buckets and the per-address bucket map.
// Safe for concurrent use.
type Bank struct {
	cfg    Config
	scopes map[Scope]*rate.Limiter

	mu       sync.Mutex
	addrs    map[string]*addrBucket
	lookupN  uint64
	stopOnce sync.Once
	stop     chan struct{}

	now func() time.Time
}

// NewBank constructs a Bank and starts its janitor goroutine. Call Close
// when the bank is no longer needed.
func NewBank(cfg Config) *Bank {
	cfg = cfg.withDefaults()
	b := &Bank{
		cfg: cfg,
		scopes: map[Scope]*rate.Limiter{
			ScopeSessionCreate: newMinuteLimiter(cfg.SessionPerMinute),
			ScopeAPI:           newMinuteLimiter(cfg.APIPerMinute),
			ScopeAnalysis:      newMinuteLimiter(cfg.AnalysisPerMinute),
		},
		addrs: make(map[string]*addrBucket),
		stop:  make(chan struct{}),
		now:   time.Now,
	}
	go b.janitor()
	return b
}

// newMinuteLimiter builds a continuously refilled bucket granting perMinute
// permits per minute with a burst equal to one minute's allowance.
func newMinuteLimiter(perMinute float64) *rate.Limiter {
	burst := int(math.Ceil(perMinute))
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perMinute/60.0), burst)
}

// TryAcquire attempts to take one permit from the named scope bucket. It
// never blocks and never queues; on false the caller must reject the
// request immediately.
func (b *Bank) TryAcquire(scope Scope) bool {
	lim, ok := b.scopes[scope]
	if !ok {
		return false
	}
	return lim.AllowN(b.now(), 1)
}

// TryAcquireAddr attempts to take one permit from the per-address bucket
// for addr, creating the bucket on first use at the session-creation rate.
func (b *Bank) TryAcquireAddr(addr string) bool {
	now := b.now()

	b.mu.Lock()
	// Opportunistic eviction after a threshold of lookups, before touching
	// the requested bucket so a stale entry can be dropped even when it is
	// the one being fetched.
	b.lookupN++
	if b.lookupN >= 5000 {
		b.evictIdleLocked(now)
		b.lookupN = 0
	}

	bk, ok := b.addrs[addr]
	if !ok {
		bk = &addrBucket{limiter: newMinuteLimiter(b.cfg.SessionPerMinute)}
		b.addrs[addr] = bk
	}
	bk.lastSeen = now
	lim := bk.limiter
	b.mu.Unlock()

	return lim.AllowN(now, 1)
}

// PerMinute returns the configured requests-per-minute rate for a scope,
// used for X-RateLimit-Limit advisory headers.
func (b *Bank) PerMinute(scope Scope) float64 {
	switch scope {
	case ScopeSessionCreate:
		return b.cfg.SessionPerMinute
	case ScopeAPI:
		return b.cfg.APIPerMinute
	case ScopeAnalysis:
		return b.cfg.AnalysisPerMinute
	default:
		return 0
	}
}

// Remaining returns the whole permits currently available in a scope
// bucket, floored at zero. Advisory only.
func (b *Bank) Remaining(scope Scope) int {
	lim, ok := b.scopes[scope]
	if !ok {
		return 0
	}
	n := int(lim.TokensAt(b.now()))
	if n < 0 {
		n = 0
	}
	return n
}

// AddressBuckets reports the current number of tracked address buckets.
// Operational visibility only.
func (b *Bank) AddressBuckets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.addrs)
}

// Close stops the janitor. The bank remains usable afterward; only the
// periodic sweep stops.
func (b *Bank) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *Bank) janitor() {
	t := time.NewTicker(b.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-t.C:
			b.mu.Lock()
			b.evictIdleLocked(b.now())
			b.mu.Unlock()
		}
	}
}

// evictIdleLocked removes address buckets idle for at least AddressIdleTTL.
// Caller holds b.mu.
func (b *Bank) evictIdleLocked(now time.Time) {
	for addr, bk := range b.addrs {
		if now.Sub(bk.lastSeen) >= b.cfg.AddressIdleTTL {
			delete(b.addrs, addr)
		}
	}
}
