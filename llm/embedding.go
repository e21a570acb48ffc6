package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/altheaworks/queryflow/types"
)

const defaultEmbeddingModel = "text-embedding-3-small"

// OpenAIEmbedderConfig configures the embeddings client.
type OpenAIEmbedderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIEmbedder produces dense vectors via an OpenAI-compatible
// /v1/embeddings endpoint. It satisfies the retriever's Embedder contract.
type OpenAIEmbedder struct {
	cfg    OpenAIEmbedderConfig
	client *http.Client
}

// NewOpenAIEmbedder creates an embeddings client with sane defaults.
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultEmbeddingModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOpenAITimeout
	}
	return &OpenAIEmbedder{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type openAIEmbedRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for one text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	payload, err := json.Marshal(openAIEmbedRequest{Input: text, Model: e.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	endpoint := strings.TrimRight(e.cfg.BaseURL, "/") + "/v1/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrEmbeddingFailed, "embedding request failed").
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, types.NewError(types.ErrEmbeddingFailed,
			fmt.Sprintf("embedding api returned status %d", resp.StatusCode)).
			WithRetryable(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500)
	}

	var oaResp openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, types.NewError(types.ErrEmbeddingFailed, "malformed embedding response").WithCause(err)
	}
	if len(oaResp.Data) == 0 {
		return nil, types.NewError(types.ErrEmbeddingFailed, "embedding response contained no vectors")
	}
	return oaResp.Data[0].Embedding, nil
}
