package chi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/offprint-io/docqa/internal/domain"
	"github.com/offprint-io/docqa/internal/usecase/answer"
	healthuc "github.com/offprint-io/docqa/internal/usecase/health"
	"github.com/offprint-io/docqa/internal/usecase/ingest"
	"github.com/offprint-io/docqa/internal/usecase/retrieval"
)

const maxTopK = 100

// Ingestor runs the document ingestion pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, filename string, data []byte) (domain.Document, ingest.Stats, error)
}

// Retriever finds chunks relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, p retrieval.Params) ([]domain.ScoredChunk, error)
}

// Composer turns retrieved chunks into a cited answer.
type Composer interface {
	Compose(ctx context.Context, question string, hits []domain.ScoredChunk) (answer.Result, error)
}

// DocumentStore exposes stored document management.
type DocumentStore interface {
	ListDocuments(ctx context.Context) ([]domain.Document, error)
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// HealthService aggregates component health.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server is the HTTP API over the question answering pipeline.
type Server struct {
	ingestor       Ingestor
	retriever      Retriever
	composer       Composer
	store          DocumentStore
	health         HealthService
	models         Models
	maxUploadBytes int64
	logger         *zap.Logger
	errorHandlers  []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	ingestor Ingestor,
	retriever Retriever,
	composer Composer,
	store DocumentStore,
	health HealthService,
	models Models,
	maxUploadBytes int64,
	logger *zap.Logger,
) *Server {
	s := &Server{
		ingestor:       ingestor,
		retriever:      retriever,
		composer:       composer,
		store:          store,
		health:         health,
		models:         models,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, CodeDocumentNotFound),
		sentinelHandler(domain.ErrExtraction, http.StatusUnprocessableEntity, CodeExtractionFailed),
		sentinelHandler(domain.ErrTimeout, http.StatusGatewayTimeout, CodeTimeout),
		sentinelHandler(domain.ErrEmbeddingProvider, http.StatusBadGateway, CodeEmbeddingProviderError),
		sentinelHandler(domain.ErrGeneration, http.StatusBadGateway, CodeGenerationFailed),
		sentinelHandler(domain.ErrDimensionMismatch, http.StatusConflict, CodeDimensionMismatch),
		sentinelHandler(domain.ErrStoreCorrupted, http.StatusInternalServerError, CodeStoreCorrupted),
	}
	return s
}

// Routes mounts all API endpoints on the router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/documents", s.ingestDocument)
	r.Get("/documents", s.listDocuments)
	r.Delete("/documents/{documentID}", s.deleteDocument)
	r.Post("/query", s.query)
	r.Get("/models", s.listModels)
	r.Get("/health", s.healthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
}

// ingestDocument handles POST /documents (multipart, field "file").
func (s *Server) ingestDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeValidationFailed, "uploaded file is too large")
			return
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "multipart form field \"file\" is required")
		return
	}
	defer func() { _ = file.Close() }()

	filename := filepath.Base(header.Filename)
	if override := r.FormValue("filename"); override != "" {
		filename = filepath.Base(override)
	}
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "uploaded file must have a name")
		return
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "only PDF uploads are supported")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "failed to read uploaded file")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "uploaded file is empty")
		return
	}

	doc, stats, err := s.ingestor.Ingest(r.Context(), filename, data)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, IngestResponse{
		DocumentResponse: documentToResponse(doc),
		Chunks:           stats.Chunks,
	})
}

// listDocuments handles GET /documents.
func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]DocumentResponse, len(docs))
	for i, d := range docs {
		items[i] = documentToResponse(d)
	}

	writeJSON(w, http.StatusOK, DocumentListResponse{Items: items, Total: len(items)})
}

// deleteDocument handles DELETE /documents/{documentID}.
func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")

	if err := s.store.DeleteDocument(r.Context(), id); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// query handles POST /query.
func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "question is required")
		return
	}

	params := retrieval.Params{MinScore: -1}
	if req.TopK != nil {
		if *req.TopK <= 0 || *req.TopK > maxTopK {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, "top_k must be between 1 and 100")
			return
		}
		params.TopK = *req.TopK
	}
	if req.MinScore != nil {
		if *req.MinScore < 0 || *req.MinScore > 1 {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, "min_score must be between 0 and 1")
			return
		}
		params.MinScore = *req.MinScore
	}
	if req.DocumentID != nil && *req.DocumentID != "" {
		if _, err := s.store.GetDocument(r.Context(), *req.DocumentID); err != nil {
			s.handleDomainError(w, err)
			return
		}
		params.DocumentID = *req.DocumentID
	}

	hits, err := s.retriever.Retrieve(r.Context(), req.Question, params)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	result, err := s.composer.Compose(r.Context(), req.Question, hits)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	citations := result.Citations
	if citations == nil {
		citations = []answer.Citation{}
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		Answer:    result.Answer,
		Citations: citations,
		Retrieved: len(hits),
	})
}

// listModels handles GET /models.
func (s *Server) listModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.models)
}

// healthCheck handles GET /health.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

func documentToResponse(d domain.Document) DocumentResponse {
	return DocumentResponse{
		ID:         d.ID,
		Filename:   d.Filename,
		Pages:      d.Pages,
		IngestedAt: d.IngestedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrDocumentNotFound,
		domain.ErrExtraction,
		domain.ErrTimeout,
		domain.ErrEmbeddingProvider,
		domain.ErrGeneration,
		domain.ErrDimensionMismatch,
		domain.ErrStoreCorrupted,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
