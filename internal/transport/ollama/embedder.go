// Package ollama provides embedding and generation over a local Ollama
// server, for fully offline deployments.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
	"go.uber.org/zap"

	"github.com/offprint-io/docqa/internal/domain"
	"github.com/offprint-io/docqa/internal/metrics"
)

const providerName = "ollama"

// newClient builds an Ollama API client for host, falling back to the
// OLLAMA_HOST environment default when host is empty.
func newClient(host string) (*api.Client, error) {
	hostURL := envconfig.Host()
	if host != "" {
		parsed, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("parse ollama host %q: %w", host, err)
		}
		hostURL = parsed
	}
	return api.NewClient(hostURL, http.DefaultClient), nil
}

// Embedder is an embedding provider backed by Ollama.
type Embedder struct {
	client     *api.Client
	model      string
	dimensions int
	logger     *zap.Logger
}

// NewEmbedder creates an Ollama embedding provider.
func NewEmbedder(host, model string, dimensions int, logger *zap.Logger) (*Embedder, error) {
	client, err := newClient(host)
	if err != nil {
		return nil, err
	}
	return &Embedder{client: client, model: model, dimensions: dimensions, logger: logger}, nil
}

// Embed implements domain.Embedder. Ollama reports no token usage for
// embeddings, so token counts stay zero.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	start := time.Now()
	resp, err := e.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  e.model,
		Prompt: text,
	})
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, e.model, "error").Inc()
		return domain.EmbeddingResult{}, fmt.Errorf(
			"ollama embeddings: %v: %w", err, domain.ErrEmbeddingProvider)
	}

	if len(resp.Embedding) == 0 {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, e.model, "error").Inc()
		return domain.EmbeddingResult{}, fmt.Errorf(
			"empty embedding response: %w", domain.ErrEmbeddingProvider)
	}

	if e.dimensions > 0 && len(resp.Embedding) != e.dimensions {
		return domain.EmbeddingResult{}, fmt.Errorf(
			"provider returned %d dims, expected %d: %w",
			len(resp.Embedding), e.dimensions, domain.ErrDimensionMismatch)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, e.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(providerName, e.model).Observe(duration.Seconds())

	vec := make([]float32, len(resp.Embedding))
	for i, f := range resp.Embedding {
		vec[i] = float32(f)
	}
	return domain.EmbeddingResult{Embedding: vec}, nil
}

// HealthCheck verifies the Ollama server is reachable.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if err := e.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama heartbeat: %w", err)
	}
	return nil
}
