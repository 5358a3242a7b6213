package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/offprint-io/docqa/internal/domain"
	"github.com/offprint-io/docqa/internal/metrics"
)

// Stats summarizes a single ingestion run.
type Stats struct {
	Pages  int
	Chunks int
}

// Service runs the extract, chunk, embed, store pipeline for one document.
// A failure at any stage aborts the whole document; the store is never
// left with a partial batch.
type Service struct {
	extractor   Extractor
	chunker     Chunker
	embedder    Embedder
	store       Store
	concurrency int
	logger      *zap.Logger
}

func NewService(extractor Extractor, chunker Chunker, embedder Embedder, store Store, concurrency int, log *zap.Logger) *Service {
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Service{
		extractor:   extractor,
		chunker:     chunker,
		embedder:    embedder,
		store:       store,
		concurrency: concurrency,
		logger:      log,
	}
}

// Ingest processes one uploaded PDF end to end. Re-ingesting a filename
// replaces the previous document under a fresh id.
func (s *Service) Ingest(ctx context.Context, filename string, data []byte) (domain.Document, Stats, error) {
	started := time.Now()

	pages, err := s.extractor.Extract(filename, data)
	if err != nil {
		metrics.DocumentsIngestedTotal.WithLabelValues("error").Inc()
		return domain.Document{}, Stats{}, fmt.Errorf("extract %q: %w", filename, err)
	}

	doc := domain.Document{
		ID:         uuid.NewString(),
		Filename:   filename,
		Pages:      len(pages),
		IngestedAt: time.Now().UTC(),
	}

	var chunks []domain.Chunk
	for _, page := range pages {
		chunks = append(chunks, s.chunker.Split(doc.ID, page)...)
	}

	if len(chunks) == 0 {
		metrics.DocumentsIngestedTotal.WithLabelValues("error").Inc()
		return domain.Document{}, Stats{}, fmt.Errorf("%q has no indexable text: %w", filename, domain.ErrExtraction)
	}

	vectors, err := s.embedAll(ctx, chunks)
	if err != nil {
		metrics.DocumentsIngestedTotal.WithLabelValues("error").Inc()
		return domain.Document{}, Stats{}, err
	}

	records := make([]domain.VectorRecord, len(chunks))
	for i, chunk := range chunks {
		records[i] = domain.VectorRecord{
			ID:        uuid.NewString(),
			Filename:  filename,
			Chunk:     chunk,
			Embedding: vectors[i],
		}
	}

	if err := s.store.ReplaceDocument(ctx, doc, records); err != nil {
		metrics.DocumentsIngestedTotal.WithLabelValues("error").Inc()
		return domain.Document{}, Stats{}, fmt.Errorf("store %q: %w", filename, err)
	}

	metrics.DocumentsIngestedTotal.WithLabelValues("success").Inc()
	metrics.ChunksStoredTotal.Add(float64(len(records)))

	s.logger.Info("document ingested",
		zap.String("document_id", doc.ID),
		zap.String("filename", filename),
		zap.Int("pages", doc.Pages),
		zap.Int("chunks", len(records)),
		zap.Duration("duration", time.Since(started)),
	)

	return doc, Stats{Pages: doc.Pages, Chunks: len(records)}, nil
}

// embedAll vectorizes chunks with bounded parallelism. Results land at
// the index of their chunk, so batch order stays deterministic no matter
// which goroutine finishes first.
func (s *Service) embedAll(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, chunk := range chunks {
		g.Go(func() error {
			res, err := s.embedder.Embed(gctx, chunk.Text)
			if err != nil {
				return fmt.Errorf("embed chunk %d (page %d): %w", chunk.Index, chunk.Page, err)
			}

			vectors[i] = res.Embedding

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(vectors[0])
	for i := range vectors {
		if len(vectors[i]) != dim {
			return nil, fmt.Errorf("chunk %d has dimension %d, expected %d: %w",
				chunks[i].Index, len(vectors[i]), dim, domain.ErrDimensionMismatch)
		}
	}

	return vectors, nil
}
