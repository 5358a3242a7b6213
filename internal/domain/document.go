package domain

import "time"

// Document is an ingested PDF. Immutable once stored; re-ingesting the same
// filename replaces the prior document atomically under a fresh id.
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Pages      int       `json:"pages"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Page is one page of extracted text. Page numbers are 1-based and pages are
// never merged across boundaries.
type Page struct {
	Number int
	Text   string
}

// Span is a half-open rune range [Start, End) into the owning page's text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Chunk is the atomic retrieval unit: a bounded span of one page's text.
// Indices are contiguous from 0 within a page; consecutive chunks may overlap.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
	Index      int    `json:"index"`
	Span       Span   `json:"span"`
	Text       string `json:"text"`
}

// ContainedIn reports whether the chunk's span is valid for pageText and the
// chunk text matches the spanned runes exactly.
func (c Chunk) ContainedIn(pageText string) bool {
	runes := []rune(pageText)
	if c.Span.Start < 0 || c.Span.End > len(runes) || c.Span.Start >= c.Span.End {
		return false
	}
	return string(runes[c.Span.Start:c.Span.End]) == c.Text
}

// VectorRecord is the persisted unit the store owns: a chunk, its embedding,
// and enough document metadata to attribute an answer. Seq is the insertion
// sequence number, stable across restarts and used for deterministic
// tie-breaking in search.
type VectorRecord struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Filename  string    `json:"filename"`
	Chunk     Chunk     `json:"chunk"`
	Embedding []float32 `json:"embedding"`
}

// ScoredChunk is one retrieval hit: a record with its relevance score.
type ScoredChunk struct {
	Record VectorRecord
	Score  float64
}
