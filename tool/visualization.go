package tool

import (
	"context"
	"fmt"
)

var supportedChartTypes = map[string]struct{}{
	"bar": {}, "line": {}, "pie": {}, "scatter": {}, "area": {}, "radar": {},
}

// VisualizationTool builds a chart configuration the frontend can render
// directly. Args: "data" ([]any, required), "chart_type" (string, default
// "bar"), optional "title", "x_axis", "y_axis".
type VisualizationTool struct{}

// NewVisualizationTool creates the visualization tool.
func NewVisualizationTool() *VisualizationTool { return &VisualizationTool{} }

// Name implements Tool.
func (t *VisualizationTool) Name() string { return "data_visualization" }

// Run implements Tool.
func (t *VisualizationTool) Run(_ context.Context, args map[string]any) (Result, error) {
	data, ok := args["data"].([]any)
	if !ok {
		return Result{}, fmt.Errorf("data_visualization: missing required arg %q", "data")
	}

	chartType := "bar"
	if ct, ok := args["chart_type"].(string); ok && ct != "" {
		chartType = ct
	}
	if _, ok := supportedChartTypes[chartType]; !ok {
		return Result{
			Success: false,
			Err:     fmt.Sprintf("unsupported chart type: %s", chartType),
		}, nil
	}

	title, _ := args["title"].(string)
	xAxis, _ := args["x_axis"].(string)
	yAxis, _ := args["y_axis"].(string)

	options := map[string]any{
		"responsive":          true,
		"maintainAspectRatio": false,
		"plugins": map[string]any{
			"title":  map[string]any{"display": title != "", "text": title},
			"legend": map[string]any{"display": true, "position": "top"},
		},
	}
	if xAxis != "" || yAxis != "" {
		scales := map[string]any{}
		if xAxis != "" {
			scales["x"] = map[string]any{"title": map[string]any{"display": true, "text": xAxis}}
		}
		if yAxis != "" {
			scales["y"] = map[string]any{"title": map[string]any{"display": true, "text": yAxis}}
		}
		options["scales"] = scales
	}

	return Result{
		Success: true,
		Payload: map[string]any{
			"visualization": map[string]any{
				"type":    chartType,
				"data":    data,
				"options": options,
			},
			"chart_type":  chartType,
			"data_points": len(data),
		},
	}, nil
}
