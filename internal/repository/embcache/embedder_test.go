package embcache

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/offprint-io/docqa/internal/domain"
)

// --- Mocks ---

type mockStore struct {
	data   map[string][]byte
	getErr error
	setErr error
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string][]byte)}
}

func (m *mockStore) CacheGet(_ context.Context, key string) ([]byte, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mockStore) CacheSet(_ context.Context, key string, value []byte) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

type mockEmbedder struct {
	result domain.EmbeddingResult
	err    error
	calls  int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	return m.result, m.err
}

// --- Tests ---

func TestEmbed_MissThenHit(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Embedding:    []float32{1, 2, 3},
		PromptTokens: 7,
		TotalTokens:  7,
	}}
	c := New(inner, newMockStore(), "openai", "text-embedding-3-small", nil, zap.NewNop())
	ctx := context.Background()

	first, err := c.Embed(ctx, "some chunk text")
	if err != nil {
		t.Fatalf("first Embed() error: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", inner.calls)
	}
	if first.TotalTokens != 7 {
		t.Errorf("miss should report provider tokens, got %d", first.TotalTokens)
	}

	second, err := c.Embed(ctx, "some chunk text")
	if err != nil {
		t.Fatalf("second Embed() error: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("hit must not call the provider, calls=%d", inner.calls)
	}
	if second.TotalTokens != 0 {
		t.Errorf("hit should report zero tokens, got %d", second.TotalTokens)
	}
	if len(second.Embedding) != 3 || second.Embedding[0] != 1 || second.Embedding[2] != 3 {
		t.Errorf("cached vector mismatch: %v", second.Embedding)
	}
}

func TestEmbed_DifferentTextsGetDifferentEntries(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	c := New(inner, newMockStore(), "openai", "text-embedding-3-small", nil, zap.NewNop())
	ctx := context.Background()

	_, _ = c.Embed(ctx, "text a")
	_, _ = c.Embed(ctx, "text b")

	if inner.calls != 2 {
		t.Errorf("distinct texts must each call the provider, calls=%d", inner.calls)
	}
}

func TestEmbed_ModelSwitchMissesOldEntries(t *testing.T) {
	store := newMockStore()
	ctx := context.Background()

	old := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1, 2, 3}}}
	c := New(old, store, "openai", "text-embedding-3-small", nil, zap.NewNop())
	if _, err := c.Embed(ctx, "same chunk text"); err != nil {
		t.Fatalf("Embed() error: %v", err)
	}

	// A new model's vectors live in a different space (and may have a
	// different dimension), so the same text over the same backing store
	// must not hit the old model's entry.
	fresh := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{9, 8}}}
	for _, tt := range []struct {
		name            string
		provider, model string
	}{
		{"new model", "openai", "text-embedding-3-large"},
		{"new provider", "ollama", "text-embedding-3-small"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			calls := fresh.calls
			c := New(fresh, store, tt.provider, tt.model, nil, zap.NewNop())
			result, err := c.Embed(ctx, "same chunk text")
			if err != nil {
				t.Fatalf("Embed() error: %v", err)
			}
			if fresh.calls != calls+1 {
				t.Errorf("expected a provider call, calls=%d", fresh.calls)
			}
			if len(result.Embedding) != 2 {
				t.Errorf("expected the new model's vector, got %v", result.Embedding)
			}
		})
	}
}

func TestEmbed_CacheFailuresFallThrough(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1, 2}}}
	store := newMockStore()
	store.getErr = errors.New("db locked")
	store.setErr = errors.New("db locked")
	c := New(inner, store, "openai", "text-embedding-3-small", nil, zap.NewNop())

	result, err := c.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("cache failure must not fail the embed: %v", err)
	}
	if len(result.Embedding) != 2 {
		t.Errorf("expected provider embedding, got %v", result.Embedding)
	}
	if inner.calls != 1 {
		t.Errorf("expected provider call, got %d", inner.calls)
	}
}

func TestEmbed_ProviderErrorPropagates(t *testing.T) {
	provErr := errors.New("provider down")
	inner := &mockEmbedder{err: provErr}
	c := New(inner, newMockStore(), "openai", "text-embedding-3-small", nil, zap.NewNop())

	_, err := c.Embed(context.Background(), "text")
	if !errors.Is(err, provErr) {
		t.Errorf("expected provider error, got %v", err)
	}
}

func TestEmbed_CorruptCacheEntryTreatedAsMiss(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	store := newMockStore()
	store.data[cacheKey("openai", "text-embedding-3-small", "text")] = []byte{1, 2, 3} // not a multiple of 4
	c := New(inner, store, "openai", "text-embedding-3-small", nil, zap.NewNop())

	result, err := c.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("corrupt entry should fall through to the provider, calls=%d", inner.calls)
	}
	if len(result.Embedding) != 1 {
		t.Errorf("expected provider embedding, got %v", result.Embedding)
	}
}
