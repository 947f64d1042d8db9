// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the Handlers aggregate and the narrow service interfaces
// it consumes. Handlers stay transport-thin: they bind and validate request
// DTOs, delegate to the session gate or the analysis orchestrator, and map
// sentinel errors onto the stable HTTP error taxonomy in errors.go.
package handlers

import (
	"context"
	"time"

	"github.com/somdiproy/smartcode-review/internal/domain"
	"github.com/somdiproy/smartcode-review/internal/ratelimit"
)

// SessionGate is the slice of session.Gate the HTTP layer needs.
type SessionGate interface {
	CreateSession(ctx context.Context, email, name string) (*domain.Session, error)
	VerifyOTP(ctx context.Context, sessionID, otp string) (*domain.Session, time.Time, error)
	IsValid(ctx context.Context, token string) bool
	RemainingMinutes(ctx context.Context, token string) int
	EndSession(ctx context.Context, token string) bool
}

// AnalysisOrchestrator is the slice of services.AnalysisService the HTTP
// layer needs.
type AnalysisOrchestrator interface {
	Submit(ctx context.Context, token, code, language string) (string, error)
	SubmitArchive(ctx context.Context, token, code, language string) (string, error)
	Poll(ctx context.Context, token, analysisID string) (*domain.StatusRecord, error)
}

// Handlers bundles the API endpoints with their injected dependencies.
type Handlers struct {
	gate          SessionGate
	analyses      AnalysisOrchestrator
	usage         *ratelimit.UsageCache
	webhookSecret string
}

// New constructs the handler set. usage may be nil; webhookSecret may be
// empty, in which case the webhook endpoint rejects every delivery.
func New(gate SessionGate, analyses AnalysisOrchestrator, usage *ratelimit.UsageCache, webhookSecret string) *Handlers {
	return &Handlers{
		gate:          gate,
		analyses:      analyses,
		usage:         usage,
		webhookSecret: webhookSecret,
	}
}
