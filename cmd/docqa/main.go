package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/offprint-io/docqa/internal/chunker"
	"github.com/offprint-io/docqa/internal/config"
	"github.com/offprint-io/docqa/internal/domain"
	"github.com/offprint-io/docqa/internal/extractor"
	logpkg "github.com/offprint-io/docqa/internal/logger"
	"github.com/offprint-io/docqa/internal/metrics"
	"github.com/offprint-io/docqa/internal/repository/embcache"
	"github.com/offprint-io/docqa/internal/store/sqlite"
	chiTransport "github.com/offprint-io/docqa/internal/transport/chi"
	ollamaTransport "github.com/offprint-io/docqa/internal/transport/ollama"
	openaiTransport "github.com/offprint-io/docqa/internal/transport/openai"
	answeruc "github.com/offprint-io/docqa/internal/usecase/answer"
	embeddinguc "github.com/offprint-io/docqa/internal/usecase/embedding"
	healthuc "github.com/offprint-io/docqa/internal/usecase/health"
	ingestuc "github.com/offprint-io/docqa/internal/usecase/ingest"
	retrievaluc "github.com/offprint-io/docqa/internal/usecase/retrieval"
	"github.com/offprint-io/docqa/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting docqa API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("storage_path", cfg.Storage.Path),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("generation_provider", cfg.Generation.Provider),
	)

	store, err := sqlite.Open(cfg.Storage.Path, logger)
	if err != nil {
		logger.Fatal("Failed to open vector store", zap.Error(err))
	}
	defer func() { _ = store.Close() }()
	logger.Info("Vector store opened", zap.String("path", store.Path()))

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	embedder, err := buildEmbedder(cfg, store, logger)
	if err != nil {
		logger.Fatal("Failed to create embedder", zap.Error(err))
	}
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	generator, err := buildGenerator(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create generator", zap.Error(err))
	}

	// Use case services
	ingestSvc := ingestuc.NewService(
		extractor.NewPDF(),
		chunker.New(cfg.Chunking.Size, *cfg.Chunking.Overlap),
		embedder,
		store,
		cfg.Embedding.Concurrency,
		logger,
	)
	retrievalSvc := retrievaluc.NewService(embedder, store, cfg.Retrieval.TopK, *cfg.Retrieval.MinScore, logger)
	answerSvc := answeruc.NewService(
		generator,
		cfg.Answer.ContextBudget,
		time.Duration(cfg.Answer.TimeoutSec)*time.Second,
		*cfg.Answer.MaxRetries,
		logger,
	)
	healthSvc := healthuc.New(store, newEmbeddingHealthChecker(embedder))

	models := chiTransport.Models{
		Embedding: chiTransport.ModelInfo{
			Provider:   cfg.Embedding.Provider,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		},
		Generation: chiTransport.ModelInfo{
			Provider: cfg.Generation.Provider,
			Model:    cfg.Generation.Model,
		},
	}

	server := chiTransport.NewServer(
		ingestSvc,
		retrievalSvc,
		answerSvc,
		store,
		healthSvc,
		models,
		int64(cfg.HTTP.MaxUploadMB)*1024*1024,
		logger,
	)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildEmbedder assembles the decorator chain:
// provider -> Cached -> Instrumented -> Truncating.
// Truncation sits outermost so the cache keys on the truncated text.
func buildEmbedder(cfg config.Config, store *sqlite.Store, logger *zap.Logger) (domain.Embedder, error) {
	var base domain.Embedder

	switch cfg.Embedding.Provider {
	case "openai":
		base = openaiTransport.NewEmbedder(&openaiTransport.Config{
			APIKey:  cfg.Providers.OpenAI.APIKey,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
			Logger:  logger,
		}, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	case "ollama":
		emb, err := ollamaTransport.NewEmbedder(cfg.Providers.Ollama.Host, cfg.Embedding.Model, cfg.Embedding.Dimensions, logger)
		if err != nil {
			return nil, fmt.Errorf("ollama embedder: %w", err)
		}
		base = emb
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}

	embedder := base
	if cfg.Embedding.Cache {
		embedder = embcache.New(embedder, store,
			cfg.Embedding.Provider, cfg.Embedding.Model,
			metrics.EmbeddingCacheTotal, logger)
	}

	embedder = embeddinguc.NewInstrumentedEmbedder(
		embedder,
		cfg.Embedding.Provider,
		cfg.Embedding.Model,
		time.Duration(cfg.Embedding.TimeoutSec)*time.Second,
		*cfg.Embedding.MaxRetries,
		logger,
	)

	return domain.NewTruncatingEmbedder(embedder, cfg.Embedding.MaxInputChars), nil
}

// buildGenerator picks the answer generation provider.
func buildGenerator(cfg config.Config, logger *zap.Logger) (domain.Generator, error) {
	switch cfg.Generation.Provider {
	case "openai":
		return openaiTransport.NewGenerator(&openaiTransport.Config{
			APIKey:  cfg.Providers.OpenAI.APIKey,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
			Logger:  logger,
		}, cfg.Generation.Model), nil
	case "ollama":
		return ollamaTransport.NewGenerator(cfg.Providers.Ollama.Host, cfg.Generation.Model, logger)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Generation.Provider)
	}
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.WithContext(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
