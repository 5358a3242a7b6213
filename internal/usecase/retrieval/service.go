package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/offprint-io/docqa/internal/domain"
)

// Searcher ranks stored chunks against a query vector.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, documentID string) ([]domain.ScoredChunk, error)
}

// Embedder vectorizes the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Params tunes a single retrieval. Zero TopK and negative MinScore fall
// back to the service defaults.
type Params struct {
	TopK       int
	MinScore   float64
	DocumentID string
}

// Service embeds a question and returns the best-matching stored chunks.
type Service struct {
	embedder Embedder
	store    Searcher
	topK     int
	minScore float64
	logger   *zap.Logger
}

func NewService(embedder Embedder, store Searcher, topK int, minScore float64, log *zap.Logger) *Service {
	return &Service{
		embedder: embedder,
		store:    store,
		topK:     topK,
		minScore: minScore,
		logger:   log,
	}
}

// Retrieve returns up to topK chunks scoring at or above the minimum,
// best first. An empty result is a valid outcome, not an error.
func (s *Service) Retrieve(ctx context.Context, query string, p Params) ([]domain.ScoredChunk, error) {
	topK := p.TopK
	if topK <= 0 {
		topK = s.topK
	}

	minScore := p.MinScore
	if minScore < 0 {
		minScore = s.minScore
	}

	started := time.Now()

	res, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.store.Search(ctx, res.Embedding, topK, p.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	// Hits arrive sorted by score, so the cutoff is a prefix scan.
	kept := hits[:0:len(hits)]
	for _, h := range hits {
		if h.Score < minScore {
			break
		}
		kept = append(kept, h)
	}

	s.logger.Debug("retrieval complete",
		zap.Int("candidates", len(hits)),
		zap.Int("kept", len(kept)),
		zap.Float64("min_score", minScore),
		zap.Duration("duration", time.Since(started)),
	)

	return kept, nil
}
