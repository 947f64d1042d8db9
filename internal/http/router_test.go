package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/somdiproy/smartcode-review/internal/config"
	"github.com/somdiproy/smartcode-review/internal/domain"
	"github.com/somdiproy/smartcode-review/internal/ratelimit"
)

// --- scripted fakes for the injected services ---

type stubGate struct {
	valid bool
}

func (s stubGate) CreateSession(context.Context, string, string) (*domain.Session, error) {
	return &domain.Session{ID: "session_stub", Email: "dev@example.com"}, nil
}

func (s stubGate) VerifyOTP(context.Context, string, string) (*domain.Session, time.Time, error) {
	return &domain.Session{ID: "session_stub", Token: "token_stub", Verified: true}, time.Now().Add(7 * time.Minute), nil
}

func (s stubGate) IsValid(context.Context, string) bool         { return s.valid }
func (s stubGate) RemainingMinutes(context.Context, string) int { return 6 }
func (s stubGate) EndSession(context.Context, string) bool      { return true }

type stubOrchestrator struct{}

func (stubOrchestrator) Submit(context.Context, string, string, string) (string, error) {
	return "an-stub", nil
}

func (stubOrchestrator) SubmitArchive(context.Context, string, string, string) (string, error) {
	return "an-stub", nil
}

func (stubOrchestrator) Poll(context.Context, string, string) (*domain.StatusRecord, error) {
	return &domain.StatusRecord{AnalysisID: "an-stub", Status: domain.StatusQueued, Progress: 10}, nil
}

func testDeps(t *testing.T, valid bool) Deps {
	t.Helper()
	bank := ratelimit.NewBank(ratelimit.Config{SessionPerMinute: 100, APIPerMinute: 1000, AnalysisPerMinute: 100})
	t.Cleanup(bank.Close)
	return Deps{
		Gate:     stubGate{valid: valid},
		Analyses: stubOrchestrator{},
		Bank:     bank,
		Usage:    ratelimit.NewUsageCache(time.Minute),
	}
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, testDeps(t, true), baseConfig())

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := baseConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	RegisterRoutes(r, testDeps(t, true), cfg)

	// Any request runs through CORS middleware; header should reflect origin.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_SessionFlowRouting(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, testDeps(t, true), baseConfig())

	// Bootstrap endpoint reachable without a token
	w := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"name":"Dev","email":"dev@example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/create", body)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /session/create = %d body=%s", w.Code, w.Body.String())
	}

	// Authenticated endpoint honors the bearer token
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/session/status", nil)
	req.Header.Set("Authorization", "Bearer token_stub")
	req.Header.Set("Accept-Encoding", "identity")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /session/status = %d body=%s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_AuthGateBlocksAnalysis(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, testDeps(t, false), baseConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze/code", bytes.NewBufferString(`{"code":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "identity")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated analyze = %d, want 401", w.Code)
	}
}

func TestRegisterRoutes_AnalyzeAndPoll(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, testDeps(t, true), baseConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze/code", bytes.NewBufferString(`{"code":"package main","language":"go"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer token_stub")
	req.Header.Set("Accept-Encoding", "identity")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /analyze/code = %d body=%s", w.Code, w.Body.String())
	}
	var accepted struct {
		AnalysisID string `json:"analysisId"`
		Status     string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("json: %v", err)
	}
	if accepted.AnalysisID != "an-stub" || accepted.Status != "queued" {
		t.Fatalf("accepted = %+v", accepted)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/analysis/an-stub", nil)
	req.Header.Set("Authorization", "Bearer token_stub")
	req.Header.Set("Accept-Encoding", "identity")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "QUEUED") {
		t.Fatalf("GET /analysis = %d body=%s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_APIBudgetExhaustionReturns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	bank := ratelimit.NewBank(ratelimit.Config{SessionPerMinute: 100, APIPerMinute: 2, AnalysisPerMinute: 100})
	t.Cleanup(bank.Close)
	deps := Deps{Gate: stubGate{valid: true}, Analyses: stubOrchestrator{}, Bank: bank, Usage: ratelimit.NewUsageCache(time.Minute)}
	RegisterRoutes(r, deps, baseConfig())

	status := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/session/status", nil)
		req.Header.Set("Authorization", "Bearer token_stub")
		req.Header.Set("Accept-Encoding", "identity")
		r.ServeHTTP(w, req)
		return w.Code
	}
	if status() != http.StatusOK || status() != http.StatusOK {
		t.Fatal("expected the first two requests to pass")
	}
	if got := status(); got != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", got)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	// Hit all three
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/one", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "one" {
		t.Fatalf("GET /one got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/two", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "two" {
		t.Fatalf("GET /two got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Fatalf("GET /api/ping got %d %q", rec.Code, rec.Body.String())
	}
}

// Smoke test that a request traverses otel + logging + metrics + security headers pipeline.
func TestPipeline_Smoke(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := baseConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour} // enabled (but only set on https)
	RegisterRoutes(r, testDeps(t, true), cfg)

	// Any request goes through the middleware stack
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	// simulate https so HSTS could be eligible if middleware checks scheme
	req.URL.Scheme = "https"
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /health = %d", w.Code)
	}
	// RequestID header should be present (from RequestID middleware)
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}
