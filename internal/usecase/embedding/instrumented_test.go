package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/offprint-io/docqa/internal/domain"
)

// --- Mocks ---

type flakyEmbedder struct {
	failures int
	calls    int
	err      error
}

func (f *flakyEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return domain.EmbeddingResult{}, f.err
	}
	return domain.EmbeddingResult{Embedding: []float32{1, 2}}, nil
}

type blockingEmbedder struct{}

func (b *blockingEmbedder) Embed(ctx context.Context, _ string) (domain.EmbeddingResult, error) {
	<-ctx.Done()
	return domain.EmbeddingResult{}, ctx.Err()
}

func newTestEmbedder(inner domain.Embedder, timeout time.Duration, maxRetries int) *InstrumentedEmbedder {
	e := NewInstrumentedEmbedder(inner, "test", "test-model", timeout, maxRetries, zap.NewNop())
	e.backoff = time.Millisecond
	return e
}

// --- Tests ---

func TestEmbed_SucceedsFirstAttempt(t *testing.T) {
	inner := &flakyEmbedder{}
	e := newTestEmbedder(inner, time.Second, 2)

	result, err := e.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 2 {
		t.Errorf("unexpected embedding: %v", result.Embedding)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 call, got %d", inner.calls)
	}
}

func TestEmbed_RetriesTransientFailure(t *testing.T) {
	inner := &flakyEmbedder{failures: 2, err: errors.New("temporary")}
	e := newTestEmbedder(inner, time.Second, 2)

	_, err := e.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("expected recovery after retries, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls)
	}
}

func TestEmbed_ExhaustsRetries(t *testing.T) {
	provErr := errors.New("provider down")
	inner := &flakyEmbedder{failures: 100, err: provErr}
	e := newTestEmbedder(inner, time.Second, 2)

	_, err := e.Embed(context.Background(), "text")
	if !errors.Is(err, provErr) {
		t.Errorf("expected wrapped provider error, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected maxRetries+1 calls, got %d", inner.calls)
	}
}

func TestEmbed_TimeoutSurfacesErrTimeout(t *testing.T) {
	e := newTestEmbedder(&blockingEmbedder{}, 5*time.Millisecond, 0)

	_, err := e.Embed(context.Background(), "text")
	if !errors.Is(err, domain.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestEmbed_ParentCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inner := &flakyEmbedder{failures: 100, err: errors.New("fail")}
	e := newTestEmbedder(inner, time.Second, 5)

	_, err := e.Embed(ctx, "text")
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.calls > 1 {
		t.Errorf("canceled context must stop retries, got %d calls", inner.calls)
	}
	if errors.Is(err, domain.ErrTimeout) {
		t.Errorf("parent cancellation is not a provider timeout: %v", err)
	}
}
