package domain

import "context"

// Embedder is the shared text vectorization contract between layers.
// Implementations must be deterministic: same input, same output.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// EmbeddingResult is a fixed-length vector plus provider-reported token usage.
// Cached results carry zero token counts.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// HealthChecker is implemented by providers that can verify API availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// TruncatingEmbedder caps input length before delegating. Truncation is
// deterministic: the first maxRunes runes are kept, the rest dropped. Placed
// outermost in the decorator chain so cache keys see the truncated text.
type TruncatingEmbedder struct {
	inner    Embedder
	maxRunes int
}

// NewTruncatingEmbedder wraps an embedder with a rune-count input cap.
// maxRunes <= 0 disables truncation.
func NewTruncatingEmbedder(inner Embedder, maxRunes int) *TruncatingEmbedder {
	return &TruncatingEmbedder{inner: inner, maxRunes: maxRunes}
}

// Embed truncates text to the configured rune cap and delegates.
func (t *TruncatingEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	if t.maxRunes > 0 {
		if runes := []rune(text); len(runes) > t.maxRunes {
			text = string(runes[:t.maxRunes])
		}
	}
	return t.inner.Embed(ctx, text)
}
