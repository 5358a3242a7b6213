package chi

import (
	"time"

	"github.com/offprint-io/docqa/internal/usecase/answer"
)

// ErrorCode identifies an API error category for clients.
type ErrorCode string

const (
	CodeBadRequest             ErrorCode = "bad_request"
	CodeValidationFailed       ErrorCode = "validation_failed"
	CodeUnauthorized           ErrorCode = "unauthorized"
	CodeExtractionFailed       ErrorCode = "extraction_failed"
	CodeDocumentNotFound       ErrorCode = "document_not_found"
	CodeEmbeddingProviderError ErrorCode = "embedding_provider_error"
	CodeGenerationFailed       ErrorCode = "generation_failed"
	CodeTimeout                ErrorCode = "timeout"
	CodeDimensionMismatch      ErrorCode = "dimension_mismatch"
	CodeStoreCorrupted         ErrorCode = "store_corrupted"
	CodeInternalError          ErrorCode = "internal_error"
)

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DocumentResponse describes one ingested document.
type DocumentResponse struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Pages      int       `json:"pages"`
	IngestedAt time.Time `json:"ingested_at"`
}

// IngestResponse is returned from POST /documents.
type IngestResponse struct {
	DocumentResponse
	Chunks int `json:"chunks"`
}

// DocumentListResponse is returned from GET /documents.
type DocumentListResponse struct {
	Items []DocumentResponse `json:"items"`
	Total int                `json:"total"`
}

// QueryRequest is the body of POST /query. Nil tuning fields fall back
// to the configured defaults.
type QueryRequest struct {
	Question   string   `json:"question"`
	TopK       *int     `json:"top_k,omitempty"`
	MinScore   *float64 `json:"min_score,omitempty"`
	DocumentID *string  `json:"document_id,omitempty"`
}

// QueryResponse is the body of a successful POST /query.
type QueryResponse struct {
	Answer    string            `json:"answer"`
	Citations []answer.Citation `json:"citations"`
	Retrieved int               `json:"retrieved"`
}

// ModelInfo names one configured provider model.
type ModelInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// Models is returned from GET /models.
type Models struct {
	Embedding  ModelInfo `json:"embedding"`
	Generation ModelInfo `json:"generation"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
