// Package llm defines the completion-provider contract the workflow engine
// consumes, plus the OpenAI-compatible adapter used in production. The
// workflow itself depends only on the Provider interface and is tested
// against MockProvider.
package llm

import (
	"context"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
}

// ChatRequest is a completion request.
type ChatRequest struct {
	TenantID    string        `json:"tenant_id,omitempty"`
	Model       string        `json:"model,omitempty"`
	Messages    []Message     `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// ChatUsage reports token accounting for a completion.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// ChatResponse is a full completion response.
type ChatResponse struct {
	Text  string    `json:"text"`
	Model string    `json:"model,omitempty"`
	Usage ChatUsage `json:"usage,omitempty"`
}

// StreamChunk is one increment of a streaming completion. The final chunk
// carries Done=true and may carry Usage.
type StreamChunk struct {
	Delta string     `json:"delta,omitempty"`
	Done  bool       `json:"done,omitempty"`
	Usage *ChatUsage `json:"usage,omitempty"`
	Err   error      `json:"-"`
}

// Provider is the LLM client contract.
type Provider interface {
	// Completion issues a synchronous chat request and returns the full response.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream issues a streaming chat request. The returned channel is closed
	// after the final chunk.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// Name returns the provider's unique identifier.
	Name() string
}
