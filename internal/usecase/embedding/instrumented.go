// Package embedding wraps embedding providers with the call policy the
// pipeline owns: per-call timeout, bounded retry, metrics, logging.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/offprint-io/docqa/internal/domain"
)

// InstrumentedEmbedder wraps an Embedder with timeout and bounded-retry
// policy. Transport metrics (requests, duration, tokens) are recorded in the
// provider layer; this layer owns retries and failure classification.
type InstrumentedEmbedder struct {
	inner      domain.Embedder
	provider   string
	model      string
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// NewInstrumentedEmbedder wraps an embedder with call policy. maxRetries is
// the number of retries after the first attempt; backoff grows linearly.
func NewInstrumentedEmbedder(
	inner domain.Embedder, provider, model string,
	timeout time.Duration, maxRetries int,
	logger *zap.Logger,
) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{
		inner:      inner,
		provider:   provider,
		model:      model,
		timeout:    timeout,
		maxRetries: maxRetries,
		backoff:    time.Second,
		logger:     logger,
	}
}

// Embed delegates to the inner embedder with a per-attempt timeout, retrying
// a bounded number of times. A deadline overrun surfaces domain.ErrTimeout;
// exhausted retries surface the provider error, never a silent skip.
func (e *InstrumentedEmbedder) Embed(
	ctx context.Context, text string,
) (domain.EmbeddingResult, error) {
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.EmbeddingResult{}, fmt.Errorf("embed canceled: %w", ctx.Err())
			case <-time.After(time.Duration(attempt) * e.backoff):
			}
		}

		result, err := e.attempt(ctx, text)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// The parent context being done means the request was abandoned, not
		// that the provider is flaky. Stop immediately.
		if ctx.Err() != nil {
			break
		}

		e.logger.Warn("Embedding attempt failed",
			zap.String("provider", e.provider),
			zap.String("model", e.model),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return domain.EmbeddingResult{}, fmt.Errorf(
		"embed after %d attempts: %w", e.maxRetries+1, lastErr)
}

func (e *InstrumentedEmbedder) attempt(
	ctx context.Context, text string,
) (domain.EmbeddingResult, error) {
	attemptCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := e.inner.Embed(attemptCtx, text)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return domain.EmbeddingResult{}, fmt.Errorf(
				"embedding call exceeded %s: %w", e.timeout, domain.ErrTimeout)
		}
		return domain.EmbeddingResult{}, err
	}

	e.logger.Debug("Embedding request completed",
		zap.String("provider", e.provider),
		zap.String("model", e.model),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}
