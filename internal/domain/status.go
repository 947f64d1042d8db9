// Analysis job lifecycle.
//
// A submission moves through QUEUED → PROCESSING → {COMPLETED | FAILED}.
// Transitions are monotonic forward only: once a record reaches a terminal
// status, no write may move it back to a non-terminal one. The status stores
// enforce the terminal guard with conditional writes; this file provides the
// shared vocabulary and transition predicate.
package domain

// AnalysisStatus is the lifecycle state of an analysis job.
type AnalysisStatus string

const (
	StatusQueued     AnalysisStatus = "QUEUED"
	StatusProcessing AnalysisStatus = "PROCESSING"
	StatusCompleted  AnalysisStatus = "COMPLETED"
	StatusFailed     AnalysisStatus = "FAILED"
)

// rank orders statuses along the forward-only lifecycle. Terminal states
// share the highest rank; a transition between them is not meaningful and
// is rejected by CanAdvanceTo.
func (s AnalysisStatus) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is one of the four lifecycle states.
func (s AnalysisStatus) Valid() bool { return s.rank() >= 0 }

// Terminal reports whether s is COMPLETED or FAILED.
func (s AnalysisStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanAdvanceTo reports whether a record currently at s may be overwritten
// with next. Same-state rewrites are allowed for non-terminal states so that
// progress updates (message, percentage) can be persisted without advancing
// the lifecycle.
func (s AnalysisStatus) CanAdvanceTo(next AnalysisStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	return next.rank() >= s.rank()
}
