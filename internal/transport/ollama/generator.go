package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"github.com/offprint-io/docqa/internal/domain"
	"github.com/offprint-io/docqa/internal/metrics"
)

// Generator produces answers via the Ollama generate API.
type Generator struct {
	client *api.Client
	model  string
	logger *zap.Logger
}

// NewGenerator creates an Ollama generation provider.
func NewGenerator(host, model string, logger *zap.Logger) (*Generator, error) {
	client, err := newClient(host)
	if err != nil {
		return nil, err
	}
	return &Generator{client: client, model: model, logger: logger}, nil
}

// Generate implements domain.Generator. The streamed response is collected
// into one string; token-by-token rendering is not part of this system.
func (g *Generator) Generate(ctx context.Context, question, contextText string) (string, error) {
	system, user := domain.PromptMessages(question, contextText)

	req := api.GenerateRequest{
		Model:  g.model,
		System: system,
		Prompt: user,
		Options: map[string]any{
			"temperature": 0.1,
		},
	}

	var answer strings.Builder
	start := time.Now()

	err := g.client.Generate(ctx, &req, func(resp api.GenerateResponse) error {
		_, err := answer.WriteString(resp.Response)
		return err
	})
	duration := time.Since(start)

	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(providerName, g.model, "error").Inc()
		return "", fmt.Errorf("ollama generate: %v: %w", err, domain.ErrGeneration)
	}

	if answer.Len() == 0 {
		metrics.GenerationRequestsTotal.WithLabelValues(providerName, g.model, "error").Inc()
		return "", fmt.Errorf("empty generate response: %w", domain.ErrGeneration)
	}

	metrics.GenerationRequestsTotal.WithLabelValues(providerName, g.model, "success").Inc()
	metrics.GenerationRequestDuration.WithLabelValues(providerName, g.model).Observe(duration.Seconds())

	g.logger.Debug("Generation request completed",
		zap.String("model", g.model),
		zap.Duration("duration", duration),
	)

	return answer.String(), nil
}
