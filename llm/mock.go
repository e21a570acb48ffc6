package llm

import (
	"context"
	"sync"
)

// MockProvider is a scripted Provider for tests. Responses are returned in
// order; when the script is exhausted the last entry repeats. A non-nil
// error entry is returned instead of a response.
type MockProvider struct {
	mu        sync.Mutex
	responses []MockResponse
	calls     []*ChatRequest
	next      int
}

// MockResponse is one scripted completion outcome.
type MockResponse struct {
	Text string
	Err  error
}

// NewMockProvider creates a mock provider with a response script.
func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{responses: responses}
}

// Completion returns the next scripted response.
func (m *MockProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if len(m.responses) == 0 {
		return &ChatResponse{Text: ""}, nil
	}

	idx := m.next
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.next++

	r := m.responses[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	return &ChatResponse{Text: r.Text, Model: "mock"}, nil
}

// Stream replays the next scripted response as a single delta chunk.
func (m *MockProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	resp, err := m.Completion(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 2)
	ch <- StreamChunk{Delta: resp.Text}
	ch <- StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

// Name implements Provider.
func (m *MockProvider) Name() string { return "mock" }

// Calls returns the requests seen so far.
func (m *MockProvider) Calls() []*ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ChatRequest(nil), m.calls...)
}
