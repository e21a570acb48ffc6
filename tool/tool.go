// Package tool provides the pluggable tools a workflow run can invoke,
// plus a registry for looking them up by name.
package tool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownTool is returned when a tool name is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Result is the outcome of one tool invocation. Payload holds
// tool-specific output; Err carries a human-readable failure reason when
// Success is false.
type Result struct {
	Success bool           `json:"success"`
	Payload map[string]any `json:"payload,omitempty"`
	Err     string         `json:"error,omitempty"`
}

// Tool is a named capability the workflow can call.
type Tool interface {
	Name() string
	Run(ctx context.Context, args map[string]any) (Result, error)
}

// Registry holds tools by name. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.logger.Debug("tool registered", zap.String("tool", t.Name()))
}

// Get returns the named tool or ErrUnknownTool.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t, nil
}

// Names lists registered tool names in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Run looks up and invokes a tool in one step.
func (r *Registry) Run(ctx context.Context, name string, args map[string]any) (Result, error) {
	t, err := r.Get(name)
	if err != nil {
		return Result{}, err
	}
	return t.Run(ctx, args)
}
