package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/altheaworks/queryflow/types"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com"
	defaultOpenAITimeout = 60 * time.Second
)

// OpenAIConfig configures an OpenAI-compatible chat completion client.
// BaseURL may point at any server speaking the Chat Completions API.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	// Model is used when the request does not name one.
	Model   string
	Timeout time.Duration
}

// OpenAIProvider is a Provider backed by an OpenAI-compatible HTTP API.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIProvider creates a chat completion client. A nil logger is
// replaced with a no-op logger.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOpenAITimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return "openai" }

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		Delta *struct {
			Content string `json:"content"`
		} `json:"delta,omitempty"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Completion performs a non-streaming chat completion.
func (p *OpenAIProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := p.post(ctx, p.chatBody(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, p.apiError(resp)
	}

	var oaResp openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, types.NewError(types.ErrLLMFailed, "malformed completion response").
			WithCause(err).WithRetryable(true)
	}
	if len(oaResp.Choices) == 0 {
		return nil, types.NewError(types.ErrLLMFailed, "completion returned no choices")
	}

	out := &ChatResponse{
		Text:  oaResp.Choices[0].Message.Content,
		Model: oaResp.Model,
	}
	if oaResp.Usage != nil {
		out.Usage = ChatUsage{
			PromptTokens:     oaResp.Usage.PromptTokens,
			CompletionTokens: oaResp.Usage.CompletionTokens,
			TotalTokens:      oaResp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// Stream performs a streaming chat completion over SSE. The channel is
// closed after the final chunk; transport faults arrive as chunk errors.
func (p *OpenAIProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	resp, err := p.post(ctx, p.chatBody(req, true))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, p.apiError(resp)
	}

	ch := make(chan StreamChunk)
	go p.readSSE(ctx, resp.Body, ch)
	return ch, nil
}

func (p *OpenAIProvider) chatBody(req *ChatRequest, stream bool) openAIChatRequest {
	msgs := make([]openAIMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	return openAIChatRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (p *OpenAIProvider) post(ctx context.Context, body openAIChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrLLMFailed, "chat completion request failed").
			WithCause(err).WithRetryable(true)
	}
	return resp, nil
}

// apiError turns a non-2xx response into a structured error. Rate limits
// and server-side faults are retryable, everything else is not.
func (p *OpenAIProvider) apiError(resp *http.Response) error {
	var oaErr openAIErrorResponse
	msg := fmt.Sprintf("status %d", resp.StatusCode)
	if err := json.NewDecoder(resp.Body).Decode(&oaErr); err == nil && oaErr.Error.Message != "" {
		msg = oaErr.Error.Message
	}
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	p.logger.Warn("completion api error",
		zap.Int("status", resp.StatusCode),
		zap.String("message", msg))
	return types.NewError(types.ErrLLMFailed, msg).WithRetryable(retryable)
}

// readSSE parses "data:" lines until [DONE] or EOF, forwarding content
// deltas. It always emits a final Done chunk before closing.
func (p *OpenAIProvider) readSSE(ctx context.Context, body io.ReadCloser, ch chan<- StreamChunk) {
	defer body.Close()
	defer close(ch)

	var usage *ChatUsage
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				select {
				case ch <- StreamChunk{Err: types.NewError(types.ErrLLMFailed, "stream read failed").WithCause(err)}:
				case <-ctx.Done():
				}
				return
			}
			break
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var oaResp openAIChatResponse
		if err := json.Unmarshal([]byte(data), &oaResp); err != nil {
			select {
			case ch <- StreamChunk{Err: types.NewError(types.ErrLLMFailed, "malformed stream chunk").WithCause(err)}:
			case <-ctx.Done():
			}
			return
		}
		if oaResp.Usage != nil {
			usage = &ChatUsage{
				PromptTokens:     oaResp.Usage.PromptTokens,
				CompletionTokens: oaResp.Usage.CompletionTokens,
				TotalTokens:      oaResp.Usage.TotalTokens,
			}
		}
		for _, choice := range oaResp.Choices {
			if choice.Delta == nil || choice.Delta.Content == "" {
				continue
			}
			select {
			case ch <- StreamChunk{Delta: choice.Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}

	select {
	case ch <- StreamChunk{Done: true, Usage: usage}:
	case <-ctx.Done():
	}
}
