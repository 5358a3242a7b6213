package domain

import "errors"

var (
	// ErrExtraction signals an unreadable PDF or one with no text layer.
	// Terminal: the caller must supply a different file.
	ErrExtraction = errors.New("extraction failed")
	// ErrEmbeddingProvider signals an embedding call failure after retries.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrGeneration signals an answer-generation failure after retries.
	ErrGeneration = errors.New("generation failed")
	// ErrStoreCorrupted signals that persisted state failed its integrity
	// check on load; the store refuses to serve rather than truncate results.
	ErrStoreCorrupted = errors.New("store corrupted")
	// ErrDocumentNotFound signals an unknown document id.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrTimeout signals that an external call exceeded its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrDimensionMismatch signals an embedding of unexpected dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
