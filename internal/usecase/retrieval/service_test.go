package retrieval

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/offprint-io/docqa/internal/domain"
)

// --- Mocks ---

type mockEmbedder struct {
	vec []float32
	err error
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec}, nil
}

type mockSearcher struct {
	hits       []domain.ScoredChunk
	err        error
	lastTopK   int
	lastDocID  string
	lastVector []float32
}

func (m *mockSearcher) Search(_ context.Context, vector []float32, topK int, documentID string) ([]domain.ScoredChunk, error) {
	m.lastVector = vector
	m.lastTopK = topK
	m.lastDocID = documentID
	return m.hits, m.err
}

func hit(id string, score float64) domain.ScoredChunk {
	return domain.ScoredChunk{
		Record: domain.VectorRecord{ID: id, Chunk: domain.Chunk{Text: id}},
		Score:  score,
	}
}

// --- Tests ---

func TestRetrieve_FiltersBelowMinScore(t *testing.T) {
	store := &mockSearcher{hits: []domain.ScoredChunk{
		hit("a", 0.9), hit("b", 0.5), hit("c", 0.2), hit("d", 0.1),
	}}
	svc := NewService(&mockEmbedder{vec: []float32{1, 0}}, store, 5, 0.25, zap.NewNop())

	got, err := svc.Retrieve(context.Background(), "question", Params{MinScore: -1})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hits above 0.25, got %d", len(got))
	}
	if got[0].Record.ID != "a" || got[1].Record.ID != "b" {
		t.Errorf("unexpected hits: %+v", got)
	}
}

func TestRetrieve_UsesDefaultsWhenUnset(t *testing.T) {
	store := &mockSearcher{}
	svc := NewService(&mockEmbedder{vec: []float32{1}}, store, 7, 0.3, zap.NewNop())

	_, err := svc.Retrieve(context.Background(), "q", Params{MinScore: -1})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if store.lastTopK != 7 {
		t.Errorf("expected default topK 7, got %d", store.lastTopK)
	}
}

func TestRetrieve_OverridesApply(t *testing.T) {
	store := &mockSearcher{hits: []domain.ScoredChunk{hit("a", 0.4)}}
	svc := NewService(&mockEmbedder{vec: []float32{1}}, store, 5, 0.25, zap.NewNop())

	got, err := svc.Retrieve(context.Background(), "q", Params{TopK: 2, MinScore: 0.5, DocumentID: "doc-9"})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if store.lastTopK != 2 || store.lastDocID != "doc-9" {
		t.Errorf("params not forwarded: topK=%d doc=%s", store.lastTopK, store.lastDocID)
	}
	if len(got) != 0 {
		t.Errorf("expected no hits above overridden min score, got %d", len(got))
	}
}

func TestRetrieve_ExplicitZeroMinScoreKeepsEverything(t *testing.T) {
	store := &mockSearcher{hits: []domain.ScoredChunk{hit("a", 0.01)}}
	svc := NewService(&mockEmbedder{vec: []float32{1}}, store, 5, 0.25, zap.NewNop())

	got, err := svc.Retrieve(context.Background(), "q", Params{MinScore: 0})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("min_score=0 must keep all hits, got %d", len(got))
	}
}

func TestRetrieve_EmptyResultIsNotAnError(t *testing.T) {
	svc := NewService(&mockEmbedder{vec: []float32{1}}, &mockSearcher{}, 5, 0.25, zap.NewNop())

	got, err := svc.Retrieve(context.Background(), "q", Params{MinScore: -1})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d", len(got))
	}
}

func TestRetrieve_EmbedErrorPropagates(t *testing.T) {
	embErr := errors.New("provider down")
	svc := NewService(&mockEmbedder{err: embErr}, &mockSearcher{}, 5, 0.25, zap.NewNop())

	_, err := svc.Retrieve(context.Background(), "q", Params{MinScore: -1})
	if !errors.Is(err, embErr) {
		t.Errorf("expected embed error, got %v", err)
	}
}

func TestRetrieve_SearchErrorPropagates(t *testing.T) {
	searchErr := errors.New("dim mismatch")
	svc := NewService(&mockEmbedder{vec: []float32{1}}, &mockSearcher{err: searchErr}, 5, 0.25, zap.NewNop())

	_, err := svc.Retrieve(context.Background(), "q", Params{MinScore: -1})
	if !errors.Is(err, searchErr) {
		t.Errorf("expected search error, got %v", err)
	}
}
