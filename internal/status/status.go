// Package status persists the durable lifecycle records of analysis jobs.
//
// The lifecycle is strictly forward: QUEUED -> PROCESSING -> COMPLETED or
// FAILED. Terminal states are immutable, and the guard lives in the store
// itself (a conditional write), not in caller discipline, so a racing
// producer and consumer cannot resurrect a finished job. Records expire
// seven days after their last write.
package status

import (
	"context"
	"errors"
	"time"

	"github.com/somdiproy/smartcode-review/internal/domain"
)

// RecordTTL is how long a status record stays readable after its last write.
const RecordTTL = 7 * 24 * time.Hour

var (
	// ErrNotFound is returned when no record exists for the analysis id
	// (including records that aged out).
	ErrNotFound = errors.New("status: analysis not found")

	// ErrTerminal is returned when a write would modify a record already in
	// a terminal state. Callers treat it as a benign lost race.
	ErrTerminal = errors.New("status: record is terminal")

	// ErrPersistence wraps backend failures so callers can map them to a
	// single degraded-storage outcome.
	ErrPersistence = errors.New("status: persistence failure")
)

// Store persists StatusRecords. Implementations enforce the terminal guard
// atomically and must be safe for concurrent use.
type Store interface {
	// Save writes the record unless the stored record is terminal, in
	// which case it returns ErrTerminal and leaves the record untouched.
	// The record's Timestamp and TTL are set by the store at write time.
	Save(ctx context.Context, rec *domain.StatusRecord) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.StatusRecord, error)
}

// Stamp fills the record's write-time fields.
func Stamp(rec *domain.StatusRecord, now time.Time) {
	rec.Timestamp = now.UnixMilli()
	rec.TTL = now.Add(RecordTTL).Unix()
}
