// Package handlers provides HTTP handler implementations for the public API.
//
// This file implements the session endpoints:
//
//	POST /api/v1/session/create  – request a session, OTP dispatched by email
//	POST /api/v1/session/verify  – exchange the OTP for a bearer token
//	GET  /api/v1/session/status  – introspect the authenticated session
//	POST /api/v1/session/end     – force-expire the authenticated session
//
// Create and verify are unauthenticated (they bootstrap the credential);
// status and end sit behind the bearer middleware.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/somdiproy/smartcode-review/internal/http/middleware"
	"github.com/somdiproy/smartcode-review/internal/notify"
	"github.com/somdiproy/smartcode-review/internal/session"
)

// CreateSessionRequest is the body for POST /session/create.
type CreateSessionRequest struct {
	// Display name used in the OTP email greeting
	Name string `json:"name" binding:"required" example:"Ada Lovelace"`
	// Address the verification code is sent to
	Email string `json:"email" binding:"required" example:"ada@example.com"`
}

// CreateSessionResponse is returned by POST /session/create. On a duplicate
// active session (HTTP 409) Success is false and SessionID identifies the
// session already owned by the address.
type CreateSessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId" example:"session_1a2b3c4d5e6f7a8b"`
	Message   string `json:"message" example:"verification code sent"`
}

// VerifySessionRequest is the body for POST /session/verify.
type VerifySessionRequest struct {
	SessionID string `json:"sessionId" binding:"required" example:"session_1a2b3c4d5e6f7a8b"`
	OTP       string `json:"otp" binding:"required" example:"042519"`
}

// VerifySessionResponse is returned on a successful verification.
type VerifySessionResponse struct {
	Success      bool   `json:"success"`
	SessionToken string `json:"sessionToken" example:"token_9f8e7d6c5b4a39281726354433221100"`
	// Unix millis when the session window closes
	ExpiresAt        int64  `json:"expiresAt" example:"1756300000000"`
	RemainingMinutes int    `json:"remainingMinutes" example:"7"`
	UserEmail        string `json:"userEmail" example:"a*a@example.com"`
}

// SessionStatusResponse is returned by GET /session/status.
type SessionStatusResponse struct {
	Success          bool `json:"success"`
	Valid            bool `json:"valid"`
	RemainingMinutes int  `json:"remainingMinutes" example:"5"`
	TotalRequests    int  `json:"totalRequests,omitempty"`
	AnalysisRequests int  `json:"analysisRequests,omitempty"`
}

// EndSessionResponse is returned by POST /session/end.
type EndSessionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message" example:"session ended"`
}

// CreateSession godoc
// @ID          createSession
// @Summary     Request a new review session
// @Description Validates the email, creates a pending session, and emails a
// @Description 6-digit verification code. The code expires in 10 minutes.
// @Description An address that already owns an active session gets a 409
// @Description carrying the existing session id.
// @Tags        Sessions
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.CreateSessionRequest  true  "Requester identity"
//
// @Success     200  {object}  handlers.CreateSessionResponse  "Code dispatched"
// @Failure     400  {object}  handlers.ErrorResponse          "Invalid email or body"
// @Failure     409  {object}  handlers.CreateSessionResponse  "Active session exists"
// @Failure     502  {object}  handlers.ErrorResponse          "OTP delivery failed"
// @Failure     500  {object}  handlers.ErrorResponse          "Internal error"
// @Router      /session/create [post]
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name and email required")
		return
	}

	s, err := h.gate.CreateSession(c.Request.Context(), req.Email, req.Name)
	switch {
	case err == nil:
		ok(c, http.StatusOK, CreateSessionResponse{
			Success:   true,
			SessionID: s.ID,
			Message:   "verification code sent to " + session.MaskEmail(s.Email),
		})
	case errors.Is(err, session.ErrInvalidEmail):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid email address")
	case errors.Is(err, session.ErrActiveSessionExists):
		// Return the existing id so the client can resume verification.
		ok(c, http.StatusConflict, CreateSessionResponse{
			Success:   false,
			SessionID: s.ID,
			Message:   "an active session already exists for this email",
		})
	case errors.Is(err, notify.ErrDelivery):
		fail(c, http.StatusBadGateway, ErrCodeDelivery, "could not deliver verification code, request a new session")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "session creation failed")
	}
}

// VerifySession godoc
// @ID          verifySession
// @Summary     Verify the OTP and obtain a bearer token
// @Description Checks the 6-digit code against the pending session. Three
// @Description wrong codes evict the session; so does an expired code. The
// @Description issued token is valid for 7 minutes from verification.
// @Tags        Sessions
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.VerifySessionRequest  true  "Session id and code"
//
// @Success     200  {object}  handlers.VerifySessionResponse  "Token issued"
// @Failure     400  {object}  handlers.ErrorResponse          "Malformed body"
// @Failure     401  {object}  handlers.ErrorResponse          "Wrong or expired code"
// @Failure     404  {object}  handlers.ErrorResponse          "Unknown or consumed session"
// @Failure     429  {object}  handlers.ErrorResponse          "Attempt budget spent"
// @Failure     500  {object}  handlers.ErrorResponse          "Internal error"
// @Router      /session/verify [post]
func (h *Handlers) VerifySession(c *gin.Context) {
	var req VerifySessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "sessionId and otp required")
		return
	}

	s, expiresAt, err := h.gate.VerifyOTP(c.Request.Context(), req.SessionID, req.OTP)
	switch {
	case err == nil:
		remaining := int(expiresAt.Sub(s.VerifiedAt).Minutes())
		ok(c, http.StatusOK, VerifySessionResponse{
			Success:          true,
			SessionToken:     s.Token,
			ExpiresAt:        expiresAt.UnixMilli(),
			RemainingMinutes: remaining,
			UserEmail:        session.MaskEmail(s.Email),
		})
	case errors.Is(err, session.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found or already verified")
	case errors.Is(err, session.ErrOTPExpired):
		fail(c, http.StatusUnauthorized, ErrCodeAuth, "verification code has expired, request a new session")
	case errors.Is(err, session.ErrInvalidOTP):
		fail(c, http.StatusUnauthorized, ErrCodeAuth, "invalid verification code")
	case errors.Is(err, session.ErrTooManyAttempts):
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "too many failed attempts, request a new session")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "verification failed")
	}
}

// SessionStatus godoc
// @ID          sessionStatus
// @Summary     Introspect the authenticated session
// @Description Reports validity, remaining whole minutes, and request usage
// @Description counters for the bearer token.
// @Tags        Sessions
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  handlers.SessionStatusResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or expired token"
// @Router      /session/status [get]
func (h *Handlers) SessionStatus(c *gin.Context) {
	token := middleware.SessionToken(c)
	resp := SessionStatusResponse{
		Success:          true,
		Valid:            true,
		RemainingMinutes: h.gate.RemainingMinutes(c.Request.Context(), token),
	}
	if h.usage != nil {
		if stats, found := h.usage.Snapshot(token); found {
			resp.TotalRequests = stats.TotalRequests
			resp.AnalysisRequests = stats.AnalysisRequests
		}
	}
	ok(c, http.StatusOK, resp)
}

// EndSession godoc
// @ID          endSession
// @Summary     End the authenticated session
// @Description Force-expires the session owning the bearer token. The token
// @Description stops validating immediately.
// @Tags        Sessions
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  handlers.EndSessionResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or expired token"
// @Router      /session/end [post]
func (h *Handlers) EndSession(c *gin.Context) {
	token := middleware.SessionToken(c)
	if !h.gate.EndSession(c.Request.Context(), token) {
		// The auth middleware validated the token moments ago; losing the
		// race against expiry is still a successful end from the client's
		// point of view.
		ok(c, http.StatusOK, EndSessionResponse{Success: true, Message: "session already expired"})
		return
	}
	ok(c, http.StatusOK, EndSessionResponse{Success: true, Message: "session ended"})
}
