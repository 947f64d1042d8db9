// Per-token usage accounting.
//
// The usage cache tracks request counts per session token (total and
// analysis-specific) with its own idle expiry. It feeds reporting surfaces
// only; limiting decisions are made exclusively by the Bank's buckets.
package ratelimit

import (
	"sync"
	"time"
)

// UsageStats is a snapshot of one token's request activity.
type UsageStats struct {
	TotalRequests    int
	AnalysisRequests int
	FirstSeen        time.Time
	LastSeen         time.Time
}

// UsageCache accumulates UsageStats per session token. Entries idle past
// the TTL are evicted opportunistically on writes. Safe for concurrent use.
type UsageCache struct {
	mu      sync.Mutex
	entries map[string]*UsageStats
	ttl     time.Duration
	writeN  uint64

	now func() time.Time
}

// NewUsageCache constructs a UsageCache with the given idle TTL
// (non-positive defaults to 10 minutes).
func NewUsageCache(ttl time.Duration) *UsageCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &UsageCache{
		entries: make(map[string]*UsageStats),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Record notes one request attributed to token. analysis marks it as an
// analysis submission. Empty tokens are ignored.
func (u *UsageCache) Record(token string, analysis bool) {
	if token == "" {
		return
	}
	now := u.now()

	u.mu.Lock()
	defer u.mu.Unlock()

	u.writeN++
	if u.writeN >= 1000 {
		for k, e := range u.entries {
			if now.Sub(e.LastSeen) >= u.ttl {
				delete(u.entries, k)
			}
		}
		u.writeN = 0
	}

	e, ok := u.entries[token]
	if !ok {
		e = &UsageStats{FirstSeen: now}
		u.entries[token] = e
	}
	e.TotalRequests++
	if analysis {
		e.AnalysisRequests++
	}
	e.LastSeen = now
}

// Snapshot returns a copy of the stats for token, expiring it first when
// idle past the TTL.
func (u *UsageCache) Snapshot(token string) (UsageStats, bool) {
	now := u.now()

	u.mu.Lock()
	defer u.mu.Unlock()

	e, ok := u.entries[token]
	if !ok {
		return UsageStats{}, false
	}
	if now.Sub(e.LastSeen) >= u.ttl {
		delete(u.entries, token)
		return UsageStats{}, false
	}
	return *e, true
}
