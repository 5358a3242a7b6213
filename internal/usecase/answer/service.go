package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/offprint-io/docqa/internal/domain"
)

// Generator produces a grounded answer from a question and context text.
type Generator interface {
	Generate(ctx context.Context, question, contextText string) (string, error)
}

// Citation points at one chunk that backed the answer.
type Citation struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Page       int     `json:"page"`
	Score      float64 `json:"score"`
}

// Result is a composed answer with the sources that were actually
// placed in the model context.
type Result struct {
	Answer    string
	Citations []Citation
}

// Service assembles retrieved chunks into a prompt context and asks the
// generator for an answer. Chunks are added whole, best first, until the
// rune budget would overflow.
type Service struct {
	generator     Generator
	contextBudget int
	timeout       time.Duration
	maxRetries    int
	backoff       time.Duration
	logger        *zap.Logger
}

func NewService(generator Generator, contextBudget int, timeout time.Duration, maxRetries int, log *zap.Logger) *Service {
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Service{
		generator:     generator,
		contextBudget: contextBudget,
		timeout:       timeout,
		maxRetries:    maxRetries,
		backoff:       time.Second,
		logger:        log,
	}
}

// Compose answers the question from the given hits. With no hits the
// generator is still called, framed to say the answer is not in the
// uploaded documents, and the citation list stays empty.
func (s *Service) Compose(ctx context.Context, question string, hits []domain.ScoredChunk) (Result, error) {
	contextText, citations := s.buildContext(hits)

	answer, err := s.generate(ctx, question, contextText)
	if err != nil {
		return Result{}, err
	}

	return Result{Answer: answer, Citations: citations}, nil
}

// buildContext packs whole chunks in score order. The first chunk that
// would push the context past the budget stops the packing; nothing
// after it is considered, so citations always mirror the context.
func (s *Service) buildContext(hits []domain.ScoredChunk) (string, []Citation) {
	var (
		sb        strings.Builder
		citations []Citation
		used      int
	)

	for _, hit := range hits {
		excerpt := fmt.Sprintf("[Source: %s, page %d]\n%s\n\n", hit.Record.Filename, hit.Record.Chunk.Page, hit.Record.Chunk.Text)

		n := len([]rune(excerpt))
		if used+n > s.contextBudget {
			break
		}

		sb.WriteString(excerpt)
		citations = append(citations, citationFor(hit))
		used += n
	}

	return strings.TrimRight(sb.String(), "\n"), citations
}

func citationFor(hit domain.ScoredChunk) Citation {
	return Citation{
		DocumentID: hit.Record.Chunk.DocumentID,
		Filename:   hit.Record.Filename,
		Page:       hit.Record.Chunk.Page,
		Score:      hit.Score,
	}
}

func (s *Service) generate(ctx context.Context, question, contextText string) (string, error) {
	var lastErr error

	attempts := s.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("generate: %w", ctx.Err())
			case <-time.After(time.Duration(attempt-1) * s.backoff):
			}
		}

		answer, err := s.attempt(ctx, question, contextText)
		if err == nil {
			return answer, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}

		s.logger.Warn("generation attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
	}

	return "", fmt.Errorf("generate after %d attempts: %w", attempts, lastErr)
}

func (s *Service) attempt(parent context.Context, question, contextText string) (string, error) {
	ctx := parent
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.timeout)
		defer cancel()
	}

	answer, err := s.generator.Generate(ctx, question, contextText)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
			return "", fmt.Errorf("generation timed out after %s: %w", s.timeout, domain.ErrTimeout)
		}
		return "", err
	}

	return answer, nil
}
