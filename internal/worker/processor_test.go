package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/somdiproy/smartcode-review/internal/breaker"
	"github.com/somdiproy/smartcode-review/internal/chunk"
	"github.com/somdiproy/smartcode-review/internal/domain"
	"github.com/somdiproy/smartcode-review/internal/queue"
	"github.com/somdiproy/smartcode-review/internal/services"
	"github.com/somdiproy/smartcode-review/internal/status"
)

type fakeQueue struct {
	deleted []string
}

func (f *fakeQueue) Receive(context.Context, int32) ([]queue.ReceivedMessage, error) {
	return nil, nil
}

func (f *fakeQueue) Delete(_ context.Context, rh string) error {
	f.deleted = append(f.deleted, rh)
	return nil
}

type memStatusStore struct {
	mu   sync.Mutex
	recs map[string]domain.StatusRecord
}

func newMemStatusStore() *memStatusStore {
	return &memStatusStore{recs: make(map[string]domain.StatusRecord)}
}

func (m *memStatusStore) Save(_ context.Context, rec *domain.StatusRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.recs[rec.AnalysisID]; ok && cur.Status.Terminal() {
		return status.ErrTerminal
	}
	m.recs[rec.AnalysisID] = *rec
	return nil
}

func (m *memStatusStore) Get(_ context.Context, id string) (*domain.StatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, status.ErrNotFound
	}
	out := rec
	return &out, nil
}

type fakeBlobs struct {
	objects map[string]string
}

func (f *fakeBlobs) Put(_ context.Context, id, code string) (string, error) {
	key := "analysis/" + id + "/code.txt"
	f.objects[key] = code
	return key, nil
}

func (f *fakeBlobs) Fetch(_ context.Context, key string) (string, error) {
	body, ok := f.objects[key]
	if !ok {
		return "", errors.New("no such key")
	}
	return body, nil
}

type fakeReviewer struct {
	mu     sync.Mutex
	calls  int
	result *domain.ReviewResult
	err    error
}

func (f *fakeReviewer) Review(_ context.Context, code, _ string) (*domain.ReviewResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := *f.result
	return &out, nil
}

func msg(env domain.QueueMessage) queue.ReceivedMessage {
	return queue.ReceivedMessage{Envelope: env, ReceiptHandle: "rh-" + env.AnalysisID}
}

func TestHandleInlineSuccess(t *testing.T) {
	q := &fakeQueue{}
	st := newMemStatusStore()
	rev := &fakeReviewer{result: &domain.ReviewResult{Summary: "fine", Score: 9}}
	p := New(q, nil, st, rev, breaker.New(0, 0, 0), nil)

	p.handle(context.Background(), msg(domain.QueueMessage{
		AnalysisID:   "a1",
		Language:     "go",
		CodeLocation: domain.CodeLocationInline,
		Code:         "func main() {}",
	}))

	rec, err := st.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != domain.StatusCompleted || rec.Result == nil || rec.Result.Summary != "fine" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Progress != services.ProgressDone {
		t.Errorf("progress = %d, want 100", rec.Progress)
	}
	if len(q.deleted) != 1 {
		t.Errorf("message not acknowledged")
	}
}

func TestHandleResolvesBlobPayload(t *testing.T) {
	q := &fakeQueue{}
	st := newMemStatusStore()
	blobs := &fakeBlobs{objects: map[string]string{
		"analysis/a2/code.txt": "class Foo {}",
	}}
	rev := &fakeReviewer{result: &domain.ReviewResult{Summary: "ok"}}
	p := New(q, blobs, st, rev, nil, nil)

	p.handle(context.Background(), msg(domain.QueueMessage{
		AnalysisID:   "a2",
		Language:     "java",
		CodeLocation: domain.CodeLocationS3,
		S3Key:        "analysis/a2/code.txt",
	}))

	rec, _ := st.Get(context.Background(), "a2")
	if rec.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", rec.Status)
	}
	if rev.calls != 1 {
		t.Errorf("reviewer called %d times", rev.calls)
	}
}

func TestHandleMissingBlobFails(t *testing.T) {
	q := &fakeQueue{}
	st := newMemStatusStore()
	p := New(q, &fakeBlobs{objects: map[string]string{}}, st, &fakeReviewer{result: &domain.ReviewResult{}}, nil, nil)

	p.handle(context.Background(), msg(domain.QueueMessage{
		AnalysisID:   "a3",
		CodeLocation: domain.CodeLocationS3,
		S3Key:        "analysis/a3/code.txt",
	}))

	rec, _ := st.Get(context.Background(), "a3")
	if rec.Status != domain.StatusFailed {
		t.Errorf("status = %s, want FAILED", rec.Status)
	}
	// Failed analyses are still acknowledged; the status record is the
	// retry signal, not redelivery.
	if len(q.deleted) != 1 {
		t.Errorf("message not acknowledged")
	}
}

func TestHandleChunksOversizedAndRebasesLines(t *testing.T) {
	q := &fakeQueue{}
	st := newMemStatusStore()
	rev := &fakeReviewer{result: &domain.ReviewResult{
		Summary: "chunk ok",
		Score:   8,
		Issues:  []domain.Issue{{Severity: "low", Line: 1, Description: "x"}},
	}}
	// Tiny budget to force chunking.
	ch := chunk.New(200, 100)
	p := New(q, nil, st, rev, nil, ch)

	code := strings.Repeat("line of code here\n", 60)
	p.handle(context.Background(), msg(domain.QueueMessage{
		AnalysisID:   "a4",
		Language:     "go",
		CodeLocation: domain.CodeLocationInline,
		Code:         code,
	}))

	if rev.calls < 2 {
		t.Fatalf("reviewer called %d times, expected one call per chunk", rev.calls)
	}
	rec, _ := st.Get(context.Background(), "a4")
	if rec.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", rec.Status)
	}
	if len(rec.Result.Issues) != rev.calls {
		t.Errorf("issues = %d, want one per chunk", len(rec.Result.Issues))
	}
	// Later chunks report issue lines in file coordinates, not chunk-local.
	last := rec.Result.Issues[len(rec.Result.Issues)-1]
	if last.Line <= 1 {
		t.Errorf("last issue line = %d, expected re-based to file coordinates", last.Line)
	}
	if rec.Result.Score != 8 {
		t.Errorf("averaged score = %v, want 8", rec.Result.Score)
	}
}

func TestHandleOpenBreakerFailsWithoutBackendCall(t *testing.T) {
	q := &fakeQueue{}
	st := newMemStatusStore()
	rev := &fakeReviewer{result: &domain.ReviewResult{}}
	brk := breaker.New(1, 0, 0)
	brk.RecordFailure() // trips at threshold 1
	p := New(q, nil, st, rev, brk, nil)

	p.handle(context.Background(), msg(domain.QueueMessage{
		AnalysisID:   "a5",
		CodeLocation: domain.CodeLocationInline,
		Code:         "x",
	}))

	if rev.calls != 0 {
		t.Errorf("backend called %d times through an open breaker", rev.calls)
	}
	rec, _ := st.Get(context.Background(), "a5")
	if rec.Status != domain.StatusFailed {
		t.Errorf("status = %s, want FAILED", rec.Status)
	}
	if !strings.Contains(rec.Message, "unavailable") {
		t.Errorf("message = %q", rec.Message)
	}
}

func TestHandleBackendFailureTripsBreaker(t *testing.T) {
	q := &fakeQueue{}
	st := newMemStatusStore()
	rev := &fakeReviewer{err: errors.New("model exploded")}
	brk := breaker.New(2, 0, 0)
	p := New(q, nil, st, rev, brk, nil)

	for i, id := range []string{"b1", "b2"} {
		p.handle(context.Background(), msg(domain.QueueMessage{
			AnalysisID:   id,
			CodeLocation: domain.CodeLocationInline,
			Code:         "x",
		}))
		if i == 0 && brk.Open() {
			t.Fatal("breaker opened before threshold")
		}
	}
	if !brk.Open() {
		t.Error("breaker still closed after threshold failures")
	}
}

func TestHandleLosesTerminalRaceGracefully(t *testing.T) {
	q := &fakeQueue{}
	st := newMemStatusStore()
	// A competing writer already finished this analysis.
	seed := domain.StatusRecord{AnalysisID: "a6", Status: domain.StatusFailed, Progress: 100}
	if err := st.Save(context.Background(), &seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	p := New(q, nil, st, &fakeReviewer{result: &domain.ReviewResult{Summary: "late"}}, nil, nil)

	p.handle(context.Background(), msg(domain.QueueMessage{
		AnalysisID:   "a6",
		CodeLocation: domain.CodeLocationInline,
		Code:         "x",
	}))

	rec, _ := st.Get(context.Background(), "a6")
	if rec.Status != domain.StatusFailed || rec.Result != nil {
		t.Errorf("terminal record mutated: %+v", rec)
	}
	if len(q.deleted) != 1 {
		t.Errorf("message not acknowledged after lost race")
	}
}
