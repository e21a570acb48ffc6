package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/altheaworks/queryflow/rag"
)

type stubRetriever struct {
	results []rag.Result
	err     error
}

func (s *stubRetriever) Retrieve(context.Context, string) ([]rag.Result, error) {
	return s.results, s.err
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(NewCalculatorTool())

	got, err := reg.Get("calculator")
	require.NoError(t, err)
	assert.Equal(t, "calculator", got.Name())

	_, err = reg.Get("nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTool)

	assert.ElementsMatch(t, []string{"calculator"}, reg.Names())
}

func TestRegistryRun(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(NewCalculatorTool())

	res, err := reg.Run(context.Background(), "calculator", map[string]any{"expression": "2+2"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 4.0, res.Payload["result"])

	_, err = reg.Run(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestVectorSearchToolSuccess(t *testing.T) {
	retriever := &stubRetriever{results: []rag.Result{
		{
			Document:   rag.Document{ID: "d1", Content: "relevant text", Metadata: map[string]any{"source": "kb"}},
			FinalScore: 0.91,
		},
	}}
	vs := NewVectorSearchTool(retriever, zap.NewNop())

	res, err := vs.Run(context.Background(), map[string]any{"query": "what is relevant"})
	require.NoError(t, err)
	require.True(t, res.Success)

	sources, ok := res.Payload["sources"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, sources, 1)
	assert.Equal(t, "relevant text", sources[0]["text"])
	assert.Equal(t, 0.91, sources[0]["score"])
	assert.Equal(t, 1, res.Payload["count"])
}

func TestVectorSearchToolRetrievalFailure(t *testing.T) {
	vs := NewVectorSearchTool(&stubRetriever{err: errors.New("index offline")}, zap.NewNop())

	res, err := vs.Run(context.Background(), map[string]any{"query": "anything"})
	require.NoError(t, err, "retrieval failures degrade, they do not abort")
	assert.False(t, res.Success)
	assert.Contains(t, res.Err, "index offline")
}

func TestVectorSearchToolMissingQuery(t *testing.T) {
	vs := NewVectorSearchTool(&stubRetriever{}, zap.NewNop())

	_, err := vs.Run(context.Background(), map[string]any{})
	assert.Error(t, err)
}

func TestCalculatorTool(t *testing.T) {
	calc := NewCalculatorTool()

	tests := []struct {
		expr string
		want float64
	}{
		{"2+3", 5},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"-5 + 3", -2},
		{"2^10", 1024},
		{"2^-1", 0.5},
		{"2^3^2", 512}, // right associative
		{"3.5 * 2", 7},
		{"-(2+3)", -5},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			res, err := calc.Run(context.Background(), map[string]any{"expression": tt.expr})
			require.NoError(t, err)
			require.True(t, res.Success, res.Err)
			assert.InDelta(t, tt.want, res.Payload["result"], 1e-12)
		})
	}
}

func TestCalculatorToolErrors(t *testing.T) {
	calc := NewCalculatorTool()

	for _, expr := range []string{"1/0", "2+", "(2+3", "abc", "2 ** 3", "1 + foo"} {
		t.Run(expr, func(t *testing.T) {
			res, err := calc.Run(context.Background(), map[string]any{"expression": expr})
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Err)
		})
	}

	_, err := calc.Run(context.Background(), map[string]any{})
	assert.Error(t, err)
}

func TestVisualizationTool(t *testing.T) {
	viz := NewVisualizationTool()

	data := []any{
		map[string]any{"label": "q1", "value": 10},
		map[string]any{"label": "q2", "value": 20},
	}

	res, err := viz.Run(context.Background(), map[string]any{
		"data":       data,
		"chart_type": "line",
		"title":      "Revenue",
		"x_axis":     "Quarter",
		"y_axis":     "USD",
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	cfg, ok := res.Payload["visualization"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "line", cfg["type"])
	assert.Equal(t, 2, res.Payload["data_points"])

	options := cfg["options"].(map[string]any)
	scales := options["scales"].(map[string]any)
	assert.Contains(t, scales, "x")
	assert.Contains(t, scales, "y")
}

func TestVisualizationToolUnsupportedChart(t *testing.T) {
	viz := NewVisualizationTool()

	res, err := viz.Run(context.Background(), map[string]any{
		"data":       []any{},
		"chart_type": "hologram",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Err, "unsupported chart type")
}
