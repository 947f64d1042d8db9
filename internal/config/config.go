// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, storage backends, AWS resource names,
// rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backend selectors.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendDynamo = "dynamodb"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "smartcode-review")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AWSConfig names the cloud resources the pipeline talks to. Queue, bucket,
// and table are only consulted when the matching backend or feature is on.
type AWSConfig struct {
	Region         string // AWS_REGION
	DynamoTable    string // DYNAMO_TABLE
	QueueURL       string // SQS_QUEUE_URL
	S3Bucket       string // S3_BUCKET
	BedrockModelID string // BEDROCK_MODEL_ID
}

// MailConfig configures OTP delivery. An empty SendGrid key switches the
// sender to log-only delivery for local development.
type MailConfig struct {
	SendGridKey string // SENDGRID_API_KEY
	FromEmail   string // MAIL_FROM_EMAIL
	FromName    string // MAIL_FROM_NAME
}

// RateConfig carries the per-minute budgets of the three limiter scopes.
type RateConfig struct {
	SessionPerMinute  float64 // RATE_SESSION_PER_MINUTE
	APIPerMinute      float64 // RATE_API_PER_MINUTE
	AnalysisPerMinute float64 // RATE_ANALYSIS_PER_MINUTE
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBPath         string // SQLite path (sqlite backends only)
	SessionBackend string // memory|sqlite
	StatusBackend  string // sqlite|dynamodb

	// Pipeline
	WorkerEnabled bool   // run the queue consumer in this process
	WebhookSecret string // GitHub webhook HMAC secret; empty disables the endpoint

	// Rate limiting
	Rates RateConfig

	// Cloud resources
	AWS AWSConfig

	// OTP delivery
	Mail MailConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath:         getenv("DB_PATH", "app.db"),
		SessionBackend: strings.ToLower(getenv("SESSION_BACKEND", BackendMemory)),
		StatusBackend:  strings.ToLower(getenv("STATUS_BACKEND", BackendSQLite)),

		// Pipeline
		WorkerEnabled: getbool("WORKER_ENABLED", true),
		WebhookSecret: getenv("GITHUB_WEBHOOK_SECRET", ""),

		// Rate limiting
		Rates: RateConfig{
			SessionPerMinute:  getfloat("RATE_SESSION_PER_MINUTE", 10),
			APIPerMinute:      getfloat("RATE_API_PER_MINUTE", 60),
			AnalysisPerMinute: getfloat("RATE_ANALYSIS_PER_MINUTE", 5),
		},

		// Cloud resources
		AWS: AWSConfig{
			Region:         getenv("AWS_REGION", "us-east-1"),
			DynamoTable:    getenv("DYNAMO_TABLE", "code-analysis-results"),
			QueueURL:       getenv("SQS_QUEUE_URL", ""),
			S3Bucket:       getenv("S3_BUCKET", ""),
			BedrockModelID: getenv("BEDROCK_MODEL_ID", "amazon.nova-lite-v1:0"),
		},

		// OTP delivery
		Mail: MailConfig{
			SendGridKey: getenv("SENDGRID_API_KEY", ""),
			FromEmail:   getenv("MAIL_FROM_EMAIL", "noreply@smartcode.review"),
			FromName:    getenv("MAIL_FROM_NAME", "Smart Code Review"),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "smartcode-review"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.SessionBackend {
	case BackendMemory, BackendSQLite:
	default:
		return cfg, errors.New("SESSION_BACKEND must be one of: memory, sqlite")
	}
	switch cfg.StatusBackend {
	case BackendSQLite, BackendDynamo:
	default:
		return cfg, errors.New("STATUS_BACKEND must be one of: sqlite, dynamodb")
	}
	if usesSQLite(cfg) && strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty with a sqlite backend")
	}
	if cfg.StatusBackend == BackendDynamo && strings.TrimSpace(cfg.AWS.DynamoTable) == "" {
		return cfg, errors.New("DYNAMO_TABLE must not be empty with the dynamodb backend")
	}
	if cfg.Rates.SessionPerMinute <= 0 || cfg.Rates.APIPerMinute <= 0 || cfg.Rates.AnalysisPerMinute <= 0 {
		return cfg, errors.New("rate budgets must be > 0 per minute")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// usesSQLite reports whether any selected backend needs the SQLite file.
func usesSQLite(cfg Config) bool {
	return cfg.SessionBackend == BackendSQLite || cfg.StatusBackend == BackendSQLite
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
