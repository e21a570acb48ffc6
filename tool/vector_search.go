package tool

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/altheaworks/queryflow/rag"
)

// Retriever is the slice of the retrieval pipeline the search tool needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]rag.Result, error)
}

// VectorSearchTool searches the document corpus through the hybrid
// retriever. Args: "query" (string, required).
type VectorSearchTool struct {
	retriever Retriever
	logger    *zap.Logger
}

// NewVectorSearchTool creates the search tool.
func NewVectorSearchTool(retriever Retriever, logger *zap.Logger) *VectorSearchTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorSearchTool{retriever: retriever, logger: logger}
}

// Name implements Tool.
func (t *VectorSearchTool) Name() string { return "vector_search" }

// Run implements Tool. Retrieval failures are reported in the Result
// rather than as an error so the workflow can degrade instead of abort.
func (t *VectorSearchTool) Run(ctx context.Context, args map[string]any) (Result, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return Result{}, fmt.Errorf("vector_search: missing required arg %q", "query")
	}

	tenantID, _ := args["tenant_id"].(string)
	t.logger.Debug("vector search",
		zap.String("query", query),
		zap.String("tenant_id", tenantID))

	results, err := t.retriever.Retrieve(ctx, query)
	if err != nil {
		t.logger.Warn("vector search failed", zap.Error(err))
		return Result{
			Success: false,
			Err:     err.Error(),
			Payload: map[string]any{"sources": []map[string]any{}},
		}, nil
	}

	sources := make([]map[string]any, len(results))
	for i, res := range results {
		sources[i] = map[string]any{
			"text":     res.Document.Content,
			"score":    res.FinalScore,
			"metadata": res.Document.Metadata,
		}
	}

	return Result{
		Success: true,
		Payload: map[string]any{
			"query":   query,
			"sources": sources,
			"count":   len(sources),
		},
	}, nil
}
