// Package services – AnalysisService
//
// This file implements the orchestrator of the submission pipeline. Submit
// accepts a payload from an authenticated session, records it as QUEUED in
// both the local cache and the durable status store, and dispatches it to
// the submission queue on a bounded worker pool. Dispatch failures of any
// kind end in a FAILED status write and are never propagated to the caller:
// once a submission is accepted, its outcome is only ever observable through
// the status record. Poll answers status queries by merging the local cache
// with the durable store and has no side effects beyond refreshing the
// cache, so it is safe to call at any frequency.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/somdiproy/smartcode-review/internal/chunk"
	"github.com/somdiproy/smartcode-review/internal/domain"
	"github.com/somdiproy/smartcode-review/internal/ratelimit"
	"github.com/somdiproy/smartcode-review/internal/status"
)

// Progress percentages reported through status records.
const (
	ProgressQueued     = 10
	ProgressDispatched = 25
	ProgressAnalyzing  = 50
	ProgressFinalizing = 75
	ProgressDone       = 100
)

// DefaultMaxInlinePayload caps direct code submissions at 100 KB.
const DefaultMaxInlinePayload = 100 * 1024

// DefaultMaxArchivePayload caps the combined text extracted from an uploaded
// archive at 10 MB. Oversized extractions are rejected up front rather than
// queued; payloads under the cap that still exceed the transport ceiling are
// offloaded to blob storage by the queue.
const DefaultMaxArchivePayload = 10 * 1024 * 1024

// defaultDispatchWorkers bounds the async dispatch pool.
const defaultDispatchWorkers = 8

// dispatchTimeout bounds a single queue dispatch, blob offload included.
const dispatchTimeout = 30 * time.Second

// TokenGate validates bearer tokens. Satisfied by session.Gate.
type TokenGate interface {
	IsValid(ctx context.Context, token string) bool
}

// Submitter places accepted payloads on the submission queue. Satisfied by
// queue.SubmissionQueue.
type Submitter interface {
	Submit(ctx context.Context, analysisID, code, language string) (*domain.QueueMessage, error)
}

// AnalysisService orchestrates submissions end to end on the producer side.
type AnalysisService struct {
	Gate     TokenGate
	Limits   *ratelimit.Bank
	Usage    *ratelimit.UsageCache
	Queue    Submitter
	Statuses status.Store
	Chunker  *chunk.Chunker

	MaxPayload int
	MaxArchive int

	mu    sync.RWMutex
	local map[string]domain.StatusRecord

	group *errgroup.Group
}

// NewAnalysisService constructs the orchestrator with a bounded dispatch
// pool. Call Close to drain in-flight dispatches on shutdown.
func NewAnalysisService(gate TokenGate, limits *ratelimit.Bank, usage *ratelimit.UsageCache, q Submitter, st status.Store, ch *chunk.Chunker) *AnalysisService {
	g := &errgroup.Group{}
	g.SetLimit(defaultDispatchWorkers)
	return &AnalysisService{
		Gate:       gate,
		Limits:     limits,
		Usage:      usage,
		Queue:      q,
		Statuses:   st,
		Chunker:    ch,
		MaxPayload: DefaultMaxInlinePayload,
		MaxArchive: DefaultMaxArchivePayload,
		local:      make(map[string]domain.StatusRecord),
		group:      g,
	}
}

// Submit validates and accepts a code payload for analysis, returning the
// analysis id to poll. The write to the durable status store happens before
// Submit returns, so a successful call guarantees the id is pollable; the
// queue dispatch itself runs asynchronously.
func (s *AnalysisService) Submit(ctx context.Context, token, code, language string) (string, error) {
	return s.accept(ctx, token, code, language, s.MaxPayload)
}

// SubmitArchive accepts text extracted from an uploaded archive. It shares
// the Submit pipeline but applies the larger archive payload cap, since
// multi-file extractions routinely exceed the inline limit and are carried
// through the blob offload path instead.
func (s *AnalysisService) SubmitArchive(ctx context.Context, token, code, language string) (string, error) {
	return s.accept(ctx, token, code, language, s.MaxArchive)
}

func (s *AnalysisService) accept(ctx context.Context, token, code, language string, maxBytes int) (string, error) {
	if !s.Gate.IsValid(ctx, token) {
		return "", ErrAuth
	}
	if strings.TrimSpace(code) == "" {
		return "", ErrEmptyPayload
	}
	if maxBytes > 0 && len(code) > maxBytes {
		return "", fmt.Errorf("%w: %d bytes over %d limit", ErrPayloadTooLarge, len(code), maxBytes)
	}
	if s.Usage != nil {
		s.Usage.Record(token, true)
	}

	analysisID := uuid.NewString()
	rec := domain.StatusRecord{
		AnalysisID: analysisID,
		Status:     domain.StatusQueued,
		Message:    "Analysis queued",
		Progress:   ProgressQueued,
	}
	if err := s.Statuses.Save(ctx, &rec); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.setLocal(rec)

	s.group.Go(func() error {
		s.dispatch(analysisID, code, language)
		return nil
	})

	log.Info().Str("analysis_id", analysisID).Str("language", language).Int("chars", len(code)).Msg("analysis accepted")
	return analysisID, nil
}

// dispatch pushes an accepted submission onto the queue. Every failure path
// ends in a FAILED status write; nothing is returned to the submitter.
func (s *AnalysisService) dispatch(analysisID, code, language string) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	if s.Limits != nil && !s.Limits.TryAcquire(ratelimit.ScopeAnalysis) {
		s.fail(ctx, analysisID, "Analysis rate limit exceeded, please retry later")
		return
	}

	if s.Chunker != nil && !s.Chunker.IsWithinTokenLimit(code) {
		chunks := s.Chunker.Chunk(code, "")
		log.Info().
			Str("analysis_id", analysisID).
			Int("chunks", len(chunks)).
			Msg("oversized payload will be analyzed in chunks")
	}

	if _, err := s.Queue.Submit(ctx, analysisID, code, language); err != nil {
		log.Error().Err(err).Str("analysis_id", analysisID).Msg("queue dispatch failed")
		s.fail(ctx, analysisID, "Failed to submit analysis for processing")
		return
	}

	s.update(ctx, domain.StatusRecord{
		AnalysisID: analysisID,
		Status:     domain.StatusQueued,
		Message:    "Submitted to analysis queue",
		Progress:   ProgressDispatched,
	})
}

// Poll returns the current status record for analysisID. The durable store
// is authoritative; the local cache covers the window where a durable read
// fails or the record has not landed yet.
func (s *AnalysisService) Poll(ctx context.Context, token, analysisID string) (*domain.StatusRecord, error) {
	if !s.Gate.IsValid(ctx, token) {
		return nil, ErrAuth
	}
	if s.Usage != nil {
		s.Usage.Record(token, false)
	}

	durable, err := s.Statuses.Get(ctx, analysisID)
	if err == nil {
		s.setLocal(*durable)
		out := *durable
		return &out, nil
	}

	local, ok := s.getLocal(analysisID)
	if errors.Is(err, status.ErrNotFound) {
		if !ok {
			return nil, ErrAnalysisNotFound
		}
		return &local, nil
	}

	// Durable store is degraded: serve the cached view if there is one.
	log.Warn().Err(err).Str("analysis_id", analysisID).Msg("durable status read failed")
	if ok {
		return &local, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
}

// Close waits for in-flight dispatches to finish.
func (s *AnalysisService) Close() {
	_ = s.group.Wait()
}

// fail records a FAILED terminal state. A terminal-guard refusal means the
// worker got there first and is not an error.
func (s *AnalysisService) fail(ctx context.Context, analysisID, msg string) {
	s.update(ctx, domain.StatusRecord{
		AnalysisID: analysisID,
		Status:     domain.StatusFailed,
		Message:    msg,
		Progress:   ProgressDone,
	})
}

func (s *AnalysisService) update(ctx context.Context, rec domain.StatusRecord) {
	if err := s.Statuses.Save(ctx, &rec); err != nil {
		if errors.Is(err, status.ErrTerminal) {
			return
		}
		log.Error().Err(err).Str("analysis_id", rec.AnalysisID).Msg("status write failed")
	}
	s.setLocal(rec)
}

func (s *AnalysisService) setLocal(rec domain.StatusRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Never let a stale write shadow a terminal record in the cache.
	if cur, ok := s.local[rec.AnalysisID]; ok && cur.Status.Terminal() && !rec.Status.Terminal() {
		return
	}
	s.local[rec.AnalysisID] = rec
}

func (s *AnalysisService) getLocal(analysisID string) (domain.StatusRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.local[analysisID]
	return rec, ok
}
