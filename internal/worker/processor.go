// Package worker drains the submission queue and runs analyses against the
// AI backend. It is the consumer half of the producer/consumer split: the
// API accepts and enqueues, the worker resolves payloads, chunks oversized
// code, and writes terminal status records. The circuit breaker sits
// between the worker and the backend so a failing backend sheds load
// instead of burning the queue's retry budget.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/somdiproy/smartcode-review/internal/ai"
	"github.com/somdiproy/smartcode-review/internal/blob"
	"github.com/somdiproy/smartcode-review/internal/breaker"
	"github.com/somdiproy/smartcode-review/internal/chunk"
	"github.com/somdiproy/smartcode-review/internal/domain"
	"github.com/somdiproy/smartcode-review/internal/queue"
	"github.com/somdiproy/smartcode-review/internal/services"
	"github.com/somdiproy/smartcode-review/internal/status"
)

// receiveBatch is how many messages one poll pulls.
const receiveBatch = 5

// idleBackoff is the pause after an empty or failed receive.
const idleBackoff = 5 * time.Second

// Queue is the consumer-side slice of the submission queue.
type Queue interface {
	Receive(ctx context.Context, max int32) ([]queue.ReceivedMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Processor consumes queue messages and produces terminal status records.
type Processor struct {
	Queue    Queue
	Blobs    blob.Store
	Statuses status.Store
	Reviewer ai.Reviewer
	Breaker  *breaker.Breaker
	Chunker  *chunk.Chunker
}

// New constructs a Processor with the default chunker when none is given.
func New(q Queue, blobs blob.Store, st status.Store, rev ai.Reviewer, brk *breaker.Breaker, ch *chunk.Chunker) *Processor {
	if ch == nil {
		ch = chunk.New(50_000, 100_000)
	}
	return &Processor{
		Queue:    q,
		Blobs:    blobs,
		Statuses: st,
		Reviewer: rev,
		Breaker:  brk,
		Chunker:  ch,
	}
}

// Run polls the queue until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	log.Info().Msg("analysis worker started")
	for {
		if ctx.Err() != nil {
			log.Info().Msg("analysis worker stopped")
			return
		}
		msgs, err := p.Queue.Receive(ctx, receiveBatch)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Warn().Err(err).Msg("queue receive failed")
			sleep(ctx, idleBackoff)
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		for _, m := range msgs {
			p.handle(ctx, m)
		}
	}
}

// handle runs one message to a terminal state and acknowledges it. The
// message is acknowledged even when the analysis fails: the FAILED record
// is the retry signal for the submitter, not queue redelivery.
func (p *Processor) handle(ctx context.Context, m queue.ReceivedMessage) {
	env := m.Envelope
	start := time.Now()

	p.update(ctx, domain.StatusRecord{
		AnalysisID: env.AnalysisID,
		Status:     domain.StatusProcessing,
		Message:    "Analysis in progress",
		Progress:   services.ProgressAnalyzing,
	})

	result, err := p.analyze(ctx, env)
	if err != nil {
		log.Error().Err(err).Str("analysis_id", env.AnalysisID).Msg("analysis failed")
		p.update(ctx, domain.StatusRecord{
			AnalysisID: env.AnalysisID,
			Status:     domain.StatusFailed,
			Message:    failureMessage(err),
			Progress:   services.ProgressDone,
		})
	} else {
		p.update(ctx, domain.StatusRecord{
			AnalysisID: env.AnalysisID,
			Status:     domain.StatusCompleted,
			Message:    "Analysis completed",
			Result:     result,
			Progress:   services.ProgressDone,
		})
		log.Info().
			Str("analysis_id", env.AnalysisID).
			Int("issues", len(result.Issues)).
			Dur("took", time.Since(start)).
			Msg("analysis completed")
	}

	if err := p.Queue.Delete(ctx, m.ReceiptHandle); err != nil {
		log.Warn().Err(err).Str("analysis_id", env.AnalysisID).Msg("message ack failed")
	}
}

// analyze resolves the payload and runs it through the breaker-guarded
// backend, chunk by chunk when oversized.
func (p *Processor) analyze(ctx context.Context, env domain.QueueMessage) (*domain.ReviewResult, error) {
	code, err := p.resolve(ctx, env)
	if err != nil {
		return nil, err
	}

	if p.Chunker.IsWithinTokenLimit(code) {
		return p.review(ctx, code, env.Language)
	}

	chunks := p.Chunker.Chunk(code, "")
	p.update(ctx, domain.StatusRecord{
		AnalysisID: env.AnalysisID,
		Status:     domain.StatusProcessing,
		Message:    fmt.Sprintf("Analyzing %d chunks", len(chunks)),
		Progress:   services.ProgressFinalizing,
	})

	merged := &domain.ReviewResult{}
	summaries := make([]string, 0, len(chunks))
	for i, c := range chunks {
		res, err := p.review(ctx, c.Content, env.Language)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if res.Summary != "" {
			summaries = append(summaries, res.Summary)
		}
		merged.Score += res.Score
		for _, issue := range res.Issues {
			// Re-base line numbers from chunk-local to file coordinates.
			if issue.Line > 0 {
				issue.Line += c.StartLine - 1
			}
			merged.Issues = append(merged.Issues, issue)
		}
	}
	if len(chunks) > 0 {
		merged.Score /= float64(len(chunks))
	}
	merged.Summary = strings.Join(summaries, " ")
	return merged, nil
}

// resolve returns the code payload, fetching from blob storage when the
// envelope carries a key instead of inline code.
func (p *Processor) resolve(ctx context.Context, env domain.QueueMessage) (string, error) {
	switch env.CodeLocation {
	case domain.CodeLocationS3:
		if p.Blobs == nil {
			return "", fmt.Errorf("envelope references blob %s but no blob store is configured", env.S3Key)
		}
		return p.Blobs.Fetch(ctx, env.S3Key)
	case domain.CodeLocationInline, "":
		if env.Code == "" {
			return "", errors.New("envelope carries no code")
		}
		return env.Code, nil
	default:
		return "", fmt.Errorf("unknown code location %q", env.CodeLocation)
	}
}

// review is the single breaker-guarded backend call.
func (p *Processor) review(ctx context.Context, code, language string) (*domain.ReviewResult, error) {
	if p.Breaker != nil && !p.Breaker.Allow() {
		return nil, services.ErrUpstreamUnavailable
	}
	res, err := p.Reviewer.Review(ctx, code, language)
	if p.Breaker != nil {
		if err != nil {
			p.Breaker.RecordFailure()
		} else {
			p.Breaker.RecordSuccess()
		}
	}
	return res, err
}

// update persists a status record, tolerating a lost terminal race.
func (p *Processor) update(ctx context.Context, rec domain.StatusRecord) {
	if err := p.Statuses.Save(ctx, &rec); err != nil && !errors.Is(err, status.ErrTerminal) {
		log.Error().Err(err).Str("analysis_id", rec.AnalysisID).Msg("status write failed")
	}
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, services.ErrUpstreamUnavailable):
		return "Analysis backend temporarily unavailable, please resubmit later"
	case errors.Is(err, blob.ErrBlob):
		return "Could not retrieve submitted code"
	default:
		return "Analysis failed"
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
