package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/altheaworks/queryflow/checkpoint"
	"github.com/altheaworks/queryflow/config"
	"github.com/altheaworks/queryflow/internal/metrics"
	"github.com/altheaworks/queryflow/internal/telemetry"
	"github.com/altheaworks/queryflow/llm"
	"github.com/altheaworks/queryflow/rag"
	"github.com/altheaworks/queryflow/tool"
	"github.com/altheaworks/queryflow/workflow"
)

// Server wires the workflow engine, retrieval subsystem, and checkpoint
// store behind the HTTP API. Everything is constructed once here and
// passed down; packages hold no global state.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	collector *metrics.Collector
	otel      *telemetry.Providers
	store     checkpoint.Store
	retriever *rag.HybridRetriever
	engine    *workflow.Engine

	httpServer    *http.Server
	metricsServer *http.Server

	rateLimiterCancel context.CancelFunc
}

// NewServer builds the full dependency graph from configuration.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers, store checkpoint.Store) (*Server, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("llm api_key is required (set QUERYFLOW_LLM_API_KEY)")
	}

	collector := metrics.NewCollector("queryflow", nil, logger)

	provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.Workflow.Model,
		Timeout: cfg.LLM.Timeout,
	}, logger)

	embedder := llm.NewOpenAIEmbedder(llm.OpenAIEmbedderConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout,
	})

	var reranker rag.Reranker
	if cfg.Retrieval.UseReranking {
		reranker = rag.NewSimpleReranker(logger)
	}

	retriever := rag.NewHybridRetriever(rag.HybridRetrievalConfig{
		TopK:         cfg.Retrieval.TopK,
		DenseWeight:  cfg.Retrieval.DenseWeight,
		FusionK:      cfg.Retrieval.FusionK,
		BM25K1:       cfg.Retrieval.BM25K1,
		BM25B:        cfg.Retrieval.BM25B,
		UseReranking: cfg.Retrieval.UseReranking,
	}, embedder, reranker, logger)

	registry := tool.NewRegistry(logger)
	registry.Register(tool.NewVectorSearchTool(
		&instrumentedRetriever{retriever: retriever, collector: collector}, logger))
	registry.Register(tool.NewCalculatorTool())
	registry.Register(tool.NewVisualizationTool())

	engine := workflow.NewEngine(workflow.EngineConfig{
		MaxRetries:    cfg.Workflow.MaxRetries,
		Timeout:       cfg.Workflow.Timeout,
		RetrievalTopK: cfg.Retrieval.TopK,
		Model:         cfg.Workflow.Model,
		MaxTokens:     cfg.Workflow.MaxTokens,
		Temperature:   float32(cfg.Workflow.Temperature),
	}, provider, registry, reranker, store, collector, logger)

	return &Server{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		otel:      otelProviders,
		store:     store,
		retriever: retriever,
		engine:    engine,
	}, nil
}

// instrumentedRetriever records retrieval duration and embedding cache
// deltas around every search.
type instrumentedRetriever struct {
	retriever *rag.HybridRetriever
	collector *metrics.Collector
}

func (ir *instrumentedRetriever) Retrieve(ctx context.Context, query string) ([]rag.Result, error) {
	hitsBefore, missesBefore := ir.retriever.CacheStats()
	start := time.Now()

	results, err := ir.retriever.Retrieve(ctx, query)

	ir.collector.RecordRetrieval(time.Since(start))
	hits, misses := ir.retriever.CacheStats()
	ir.collector.RecordEmbeddingCache(hits-hitsBefore, misses-missesBefore)
	return results, err
}

// routes builds the API handler with the full middleware chain.
func (s *Server) routes(rateLimiterCtx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/query", s.handleQuery)
	mux.HandleFunc("POST /v1/query/stream", s.handleQueryStream)
	mux.HandleFunc("PUT /v1/documents", s.handleIndexDocuments)
	mux.HandleFunc("GET /v1/sessions/{id}/checkpoints", s.handleListCheckpoints)
	mux.HandleFunc("GET /v1/sessions/{id}/resume", s.handleResume)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimit, s.cfg.Server.RateBurst),
	)
}

// Start launches the API and metrics listeners. Non-blocking.
func (s *Server) Start() error {
	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel
	handler := s.routes(rateLimiterCtx)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		Handler:      handler,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
	go func() {
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	s.logger.Info("servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort))
	return nil
}

// queryRequest is the body of POST /v1/query and /v1/query/stream.
type queryRequest struct {
	Query     string `json:"query"`
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (q *queryRequest) validate() error {
	if q.Query == "" {
		return fmt.Errorf("query is required")
	}
	if q.SessionID == "" {
		q.SessionID = uuid.NewString()
	}
	return nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := s.engine.RunOnce(r.Context(), req.Query, req.TenantID, req.UserID, req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, err := s.engine.RunStream(r.Context(), req.Query, req.TenantID, req.UserID, req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			s.logger.Error("failed to marshal step event", zap.Error(err))
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

// indexRequest is the body of PUT /v1/documents: it replaces the corpus.
type indexRequest struct {
	Version   string `json:"version"`
	Documents []struct {
		ID       string         `json:"id"`
		Content  string         `json:"content"`
		Metadata map[string]any `json:"metadata,omitempty"`
	} `json:"documents"`
}

func (s *Server) handleIndexDocuments(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Version == "" {
		writeError(w, http.StatusBadRequest, "version is required")
		return
	}

	docs := make([]rag.Document, 0, len(req.Documents))
	for _, d := range req.Documents {
		if d.ID == "" || d.Content == "" {
			writeError(w, http.StatusBadRequest, "every document needs an id and content")
			return
		}
		docs = append(docs, rag.Document{ID: d.ID, Content: d.Content, Metadata: d.Metadata})
	}

	s.retriever.IndexDocuments(docs, req.Version)
	writeJSON(w, http.StatusOK, map[string]any{"indexed": len(docs), "version": req.Version})
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	cps, err := s.store.List(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "checkpoints": cps})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	state, err := s.engine.Resume(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no checkpoints for session")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	deleted, err := s.store.DeleteAll(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "deleted": deleted})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// WaitForShutdown blocks until SIGINT/SIGTERM, then shuts down.
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	s.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	s.Shutdown()
}

// Shutdown drains the listeners and releases collaborators.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("http server shutdown error", zap.Error(err))
		}
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if closer, ok := s.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("checkpoint store close error", zap.Error(err))
		}
	}
	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Error("telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("graceful shutdown completed")
}
