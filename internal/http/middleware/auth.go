// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the bearer-token session gate for authenticated routes.
// Tokens are opaque: the middleware only asks the session gate whether the
// token maps to a verified, unexpired session, and stores the raw token in
// the Gin context for handlers that need it (usage accounting, session
// introspection).
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// sessionTokenKey is the Gin context key under which the bearer token is
// stored for downstream handlers.
const sessionTokenKey = "sessionToken"

// TokenValidator answers whether a bearer token is currently valid.
// Satisfied by session.Gate.
type TokenValidator interface {
	IsValid(ctx context.Context, token string) bool
}

// SessionAuth returns a Gin middleware that requires a valid bearer token.
//
// Behavior:
//   - Reads the Authorization header, expecting "Bearer <token>".
//   - Rejects missing/malformed headers and unknown or expired tokens with
//     a 401 envelope; never distinguishes the two, so a probe learns nothing
//     about which tokens exist.
//   - On success, stores the token under the "sessionToken" context key.
func SessionAuth(gate TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" || !gate.IsValid(c.Request.Context(), token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get("X-Request-ID"),
				"code":       "auth_error",
				"message":    "invalid or expired session",
			})
			return
		}
		c.Set(sessionTokenKey, token)
		c.Next()
	}
}

// BearerToken extracts the token from the Authorization header, or "".
func BearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// SessionToken returns the validated bearer token stored by SessionAuth.
func SessionToken(c *gin.Context) string {
	if v, ok := c.Get(sessionTokenKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
