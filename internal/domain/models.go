// Package domain defines the core data model of the code-review pipeline:
// ephemeral OTP-gated sessions, analysis status records, queue message
// envelopes, and code chunks. Persistence-backed types carry GORM tags for
// the single-instance SQLite backends; the DynamoDB backends marshal the
// same types through attributevalue.
package domain

import (
	"time"
)

// Session is an ephemeral, OTP-gated demo session. It is created unverified
// with a pending OTP; a successful verification assigns the bearer token,
// marks it verified, and resets the age counter so the session window is
// measured from verification rather than creation.
//
// Invariants (enforced by session.Gate):
//   - a token maps to at most one verified, non-expired session
//   - an OTP is checked only against the session it was issued for and is
//     consumed by the successful verification
type Session struct {
	ID          string    `json:"id"`
	Token       string    `json:"-"` // empty until verified
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	OTP         string    `json:"-"`
	OTPAttempts int       `json:"-"`
	Verified    bool      `json:"verified"`
	CreatedAt   time.Time `json:"created_at"`
	VerifiedAt  time.Time `json:"verified_at,omitempty"`
}

// Age returns the elapsed time since the session's effective start: the
// verification instant for verified sessions, creation otherwise.
func (s *Session) Age(now time.Time) time.Duration {
	if s.Verified {
		return now.Sub(s.VerifiedAt)
	}
	return now.Sub(s.CreatedAt)
}

// StatusRecord is the durable, polled representation of an analysis job.
// Records live in the status store for seven days and are the only channel
// through which a caller learns the outcome of an accepted submission.
type StatusRecord struct {
	AnalysisID string         `json:"analysisId"`
	Status     AnalysisStatus `json:"status"`
	Message    string         `json:"message"`
	Result     *ReviewResult  `json:"result,omitempty"`
	Progress   int            `json:"progressPercentage"`
	Timestamp  int64          `json:"timestamp"` // unix millis of last write
	TTL        int64          `json:"-"`         // unix seconds, store expiry
}

// ReviewResult is the free-form outcome returned by the AI backend, parsed
// into a loose shape. The backend's internal behavior is opaque to this
// pipeline; only the serialized form is persisted.
type ReviewResult struct {
	Summary string  `json:"summary"`
	Score   float64 `json:"score,omitempty"`
	Issues  []Issue `json:"issues,omitempty"`
}

// Issue is a single finding inside a ReviewResult.
type Issue struct {
	Severity    string `json:"severity"`
	Line        int    `json:"line,omitempty"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// Payload location values for QueueMessage.CodeLocation.
const (
	CodeLocationInline = "inline"
	CodeLocationS3     = "s3"
)

// QueueMessage is the envelope placed on the submission queue. Payloads that
// exceed the transport ceiling are offloaded to blob storage and referenced
// by S3Key; otherwise the code travels inline.
type QueueMessage struct {
	AnalysisID   string `json:"analysisId"`
	Language     string `json:"language"`
	Timestamp    int64  `json:"timestamp"` // unix millis at enqueue
	CodeLocation string `json:"codeLocation"`
	Code         string `json:"code,omitempty"`
	S3Key        string `json:"s3Key,omitempty"`
}

// CodeChunk is a sub-budget slice of an oversized payload, produced by the
// chunker and consumed immediately when building AI requests. Line numbers
// are 1-based and inclusive.
type CodeChunk struct {
	Content         string `json:"content"`
	StartLine       int    `json:"start_line"`
	EndLine         int    `json:"end_line"`
	SourceFile      string `json:"source_file"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

// AnalysisRow is the GORM mapping of StatusRecord for the SQLite status
// backend used in single-instance deployments.
type AnalysisRow struct {
	AnalysisID string `gorm:"type:char(36);primaryKey"`
	Status     string `gorm:"type:varchar(16);not null;index"`
	Message    string `gorm:"type:text"`
	ResultJSON string `gorm:"type:text"`
	Progress   int    `gorm:"not null;default:0"`
	Timestamp  int64  `gorm:"not null"`
	TTL        int64  `gorm:"not null;index"`
}

// TableName returns the database table name for AnalysisRow.
func (AnalysisRow) TableName() string { return "analysis_results" }

// SessionRow is the GORM mapping of Session for the SQLite session backend.
// Times are stored as unix millis to keep expiry arithmetic driver-agnostic.
type SessionRow struct {
	ID          string `gorm:"type:char(36);primaryKey"`
	Token       string `gorm:"type:varchar(64);index"`
	Email       string `gorm:"type:varchar(255);not null;index"`
	Name        string `gorm:"type:varchar(255)"`
	OTP         string `gorm:"type:char(6);not null"`
	OTPAttempts int    `gorm:"not null;default:0"`
	Verified    bool   `gorm:"not null;default:false"`
	CreatedAt   int64  `gorm:"not null"`
	VerifiedAt  int64  `gorm:"not null;default:0"`
}

// TableName returns the database table name for SessionRow.
func (SessionRow) TableName() string { return "sessions" }
