package ingest

import (
	"context"

	"github.com/offprint-io/docqa/internal/domain"
)

// Extractor turns PDF bytes into ordered page text.
type Extractor interface {
	Extract(filename string, data []byte) ([]domain.Page, error)
}

// Chunker splits one page into retrieval chunks.
type Chunker interface {
	Split(documentID string, page domain.Page) []domain.Chunk
}

// Store persists an ingestion batch atomically.
type Store interface {
	ReplaceDocument(ctx context.Context, doc domain.Document, records []domain.VectorRecord) error
}

// Embedder vectorizes chunk text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
