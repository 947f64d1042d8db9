// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file translates the rate-limit Bank's non-blocking verdicts into HTTP
// responses. Every 429 carries a Retry-After hint plus the advisory
// X-RateLimit-Limit and X-RateLimit-Remaining headers, so well-behaved
// clients can pace themselves instead of hammering the API.
//
// Notes:
//   - The Bank is process-local. For horizontally scaled deployments,
//     prefer a distributed limiter (e.g., Redis-backed) to enforce global limits.
//   - The limiter is intended for edge-level abuse control and cost protection;
//     it is not an authorization mechanism.
package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/somdiproy/smartcode-review/internal/ratelimit"
)

// ScopeLimit returns a Gin middleware enforcing one named Bank scope.
//
// Behavior:
//   - The request is checked against the scope's shared token bucket. If
//     allowed, the request proceeds with advisory X-RateLimit-* headers set;
//     if not, a 429 response is returned with a Retry-After hint.
//
// The middleware emits:
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: 6
//	X-RateLimit-Limit: 10
//	X-RateLimit-Remaining: 0
//	{
//	  "request_id": "<uuid>",
//	  "code":       "too_many_requests",
//	  "message":    "rate limit exceeded"
//	}
func ScopeLimit(bank *ratelimit.Bank, scope ratelimit.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed := bank.TryAcquire(scope)
		writeAdvisory(c, bank, scope)
		if allowed {
			c.Next()
			return
		}
		reject(c, bank, scope)
	}
}

// AddressLimit returns a Gin middleware enforcing the per-client-address
// bucket on top of a shared scope. Used on session creation so a single
// address cannot drain the shared budget alone.
func AddressLimit(bank *ratelimit.Bank, scope ratelimit.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopeOK := bank.TryAcquire(scope)
		addrOK := bank.TryAcquireAddr(c.ClientIP())
		writeAdvisory(c, bank, scope)
		if scopeOK && addrOK {
			c.Next()
			return
		}
		reject(c, bank, scope)
	}
}

func writeAdvisory(c *gin.Context, bank *ratelimit.Bank, scope ratelimit.Scope) {
	h := c.Writer.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(int(bank.PerMinute(scope))))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(bank.Remaining(scope)))
}

func reject(c *gin.Context, bank *ratelimit.Bank, scope ratelimit.Scope) {
	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(bank.PerMinute(scope))))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       "too_many_requests",
		"message":    "rate limit exceeded",
	})
}

// retryAfterSeconds estimates when the next permit appears at the given
// per-minute refill rate, floored at one second.
func retryAfterSeconds(perMinute float64) int {
	if perMinute <= 0 {
		return 60
	}
	s := int(math.Ceil(60.0 / perMinute))
	if s < 1 {
		s = 1
	}
	return s
}
