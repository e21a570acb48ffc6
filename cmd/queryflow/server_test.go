package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/altheaworks/queryflow/checkpoint"
	"github.com/altheaworks/queryflow/config"
	"github.com/altheaworks/queryflow/internal/metrics"
	"github.com/altheaworks/queryflow/internal/telemetry"
	"github.com/altheaworks/queryflow/llm"
	"github.com/altheaworks/queryflow/rag"
	"github.com/altheaworks/queryflow/tool"
	"github.com/altheaworks/queryflow/types"
	"github.com/altheaworks/queryflow/workflow"
)

// staticEmbedder keeps handler tests hermetic: deterministic vectors, no
// network.
type staticEmbedder struct{}

func (staticEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	return []float64{float64(len(text)%7) + 1, 1}, nil
}

func newTestServer(t *testing.T, responses ...llm.MockResponse) *Server {
	t.Helper()
	logger := zap.NewNop()
	collector := metrics.NewCollector("queryflow_test", prometheus.NewRegistry(), logger)
	store := checkpoint.NewMemoryStore()
	retriever := rag.NewHybridRetriever(rag.DefaultHybridRetrievalConfig(), staticEmbedder{}, nil, logger)

	registry := tool.NewRegistry(logger)
	registry.Register(tool.NewVectorSearchTool(retriever, logger))
	registry.Register(tool.NewCalculatorTool())
	registry.Register(tool.NewVisualizationTool())

	engine := workflow.NewEngine(workflow.DefaultEngineConfig(),
		llm.NewMockProvider(responses...), registry, nil, store, collector, logger)

	return &Server{
		cfg:       config.DefaultConfig(),
		logger:    logger,
		collector: collector,
		otel:      &telemetry.Providers{},
		store:     store,
		retriever: retriever,
		engine:    engine,
	}
}

func (s *Server) testHandler(t *testing.T) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return s.routes(ctx)
}

func TestHandleQuery(t *testing.T) {
	srv := newTestServer(t,
		llm.MockResponse{Text: `{"intent": "calculation", "needs_rewrite": false, "reasoning": "math", "confidence": 0.9}`},
		llm.MockResponse{Text: "2+2 equals 4."},
	)
	handler := srv.testHandler(t)

	body := `{"query": "2+2", "tenant_id": "t1", "user_id": "u1", "session_id": "s1"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var state types.AgentState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "2+2 equals 4.", state.FinalResponse)
	assert.Equal(t, "validated", state.CurrentStep)
	assert.Equal(t, "s1", state.SessionID)
}

func TestHandleQueryValidation(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.testHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing query", `{"tenant_id": "t1"}`},
		{"malformed json", `{"query": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleQueryGeneratesSessionID(t *testing.T) {
	srv := newTestServer(t,
		llm.MockResponse{Text: `{"intent": "general", "needs_rewrite": false, "reasoning": "", "confidence": 0.9}`},
		llm.MockResponse{Text: "A perfectly adequate answer."},
	)
	handler := srv.testHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query": "hello"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var state types.AgentState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.NotEmpty(t, state.SessionID)
}

func TestHandleQueryStream(t *testing.T) {
	srv := newTestServer(t,
		llm.MockResponse{Text: `{"intent": "general", "needs_rewrite": false, "reasoning": "", "confidence": 0.9}`},
		llm.MockResponse{Text: "A perfectly adequate answer."},
	)
	handler := srv.testHandler(t)

	body := `{"query": "hello", "session_id": "stream-1"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/query/stream", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var events []workflow.StepEvent
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev workflow.StepEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}

	require.NotEmpty(t, events)
	final := events[len(events)-1]
	assert.True(t, final.Done)
	assert.Equal(t, "A perfectly adequate answer.", final.State.FinalResponse)
	for _, ev := range events[:len(events)-1] {
		assert.False(t, ev.Done)
	}
}

func TestHandleIndexDocuments(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.testHandler(t)

	body := `{
		"version": "v1",
		"documents": [
			{"id": "d1", "content": "refund policy allows returns within 30 days"},
			{"id": "d2", "content": "store credit after 30 days", "metadata": {"source": "faq"}}
		]
	}`
	req := httptest.NewRequest(http.MethodPut, "/v1/documents", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["indexed"])
	assert.Equal(t, "v1", resp["version"])

	// the corpus is immediately searchable
	results, err := srv.retriever.Retrieve(context.Background(), "refund policy")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "d1", results[0].Document.ID)
}

func TestHandleIndexDocumentsValidation(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.testHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing version", `{"documents": [{"id": "d1", "content": "x"}]}`},
		{"document without id", `{"version": "v1", "documents": [{"content": "x"}]}`},
		{"document without content", `{"version": "v1", "documents": [{"id": "d1"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/v1/documents", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleListCheckpoints(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.testHandler(t)

	state := types.NewInitialState("t1", "u1", "sess-abc123456", "q")
	for _, step := range []string{"analyze", "rewrite", "retrieve"} {
		_, err := srv.store.Save(context.Background(), "sess-abc123456", state, step)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/sess-abc123456/checkpoints?limit=2", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		SessionID   string                   `json:"session_id"`
		Checkpoints []*checkpoint.Checkpoint `json:"checkpoints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Checkpoints, 2)
	assert.Equal(t, "retrieve", resp.Checkpoints[0].Step)

	t.Run("bad limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/sess-abc123456/checkpoints?limit=nope", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleResumeNotFound(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.testHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/never-seen/resume", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDeleteSession(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.testHandler(t)

	state := types.NewInitialState("t1", "u1", "sess-del", "q")
	_, err := srv.store.Save(context.Background(), "sess-del", state, "analyze")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/v1/sessions/sess-del", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["deleted"])
}

func TestHandleHealthz(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.testHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestNewServerRequiresAPIKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.APIKey = ""
	_, err := NewServer(cfg, zap.NewNop(), &telemetry.Providers{}, checkpoint.NewMemoryStore())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}
