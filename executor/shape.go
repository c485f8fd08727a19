package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"tabula_back/storage"
)

// Output modes for a shaped result.
const (
	OutputText          = "text"
	OutputTable         = "table"
	OutputVisualization = "visualization"
)

// Shaped is a result prepared for one presentation mode.
type Shaped struct {
	Type      string          `json:"type"`
	Message   string          `json:"message,omitempty"`
	Columns   []string        `json:"columns,omitempty"`
	Results   [][]interface{} `json:"results,omitempty"`
	ChartType string          `json:"chart_type,omitempty"`
	ChartURL  string          `json:"chart_url,omitempty"`
}

// Shape renders a raw result for the requested output mode. Visualization
// uploads the payload for the external chart renderer when storage is
// configured; without it the shaped table is returned with no chart URL.
func Shape(ctx context.Context, result Result, outputType, chartType string, charts *storage.ChartStorage) Shaped {
	switch strings.ToLower(strings.TrimSpace(outputType)) {
	case OutputVisualization:
		return shapeVisualization(ctx, result, chartType, charts)
	case OutputText:
		return shapeText(result)
	default:
		return shapeTable(result)
	}
}

// shapeText synthesizes a single sentence for single-column results. Wider
// result sets fall back to tabular shape so no information is lost.
func shapeText(result Result) Shaped {
	if len(result.Rows) == 0 {
		return Shaped{Type: OutputText, Message: "The query returned no results."}
	}
	if len(result.Columns) != 1 {
		shaped := shapeTable(result)
		shaped.Message = "The query returned multiple columns; showing them as a table."
		return shaped
	}

	values := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		values = append(values, formatValue(row[0]))
	}
	if len(values) == 1 {
		return Shaped{Type: OutputText, Message: fmt.Sprintf("The answer is %s.", values[0])}
	}
	return Shaped{Type: OutputText, Message: fmt.Sprintf("The results are: %s.", strings.Join(values, ", "))}
}

func shapeTable(result Result) Shaped {
	return Shaped{
		Type:    OutputTable,
		Columns: result.Columns,
		Results: result.Rows,
	}
}

func shapeVisualization(ctx context.Context, result Result, chartType string, charts *storage.ChartStorage) Shaped {
	shaped := shapeTable(result)
	shaped.Type = OutputVisualization
	shaped.ChartType = normalizeChartType(chartType)

	if charts == nil || len(result.Rows) == 0 {
		return shaped
	}

	payload, err := json.Marshal(map[string]interface{}{
		"chart_type": shaped.ChartType,
		"columns":    result.Columns,
		"rows":       result.Rows,
	})
	if err != nil {
		log.Printf("executor: marshal chart payload: %v", err)
		return shaped
	}

	chartURL, err := charts.UploadSpec(ctx, payload)
	if err != nil {
		log.Printf("executor: upload chart payload: %v", err)
		return shaped
	}
	shaped.ChartURL = chartURL
	return shaped
}

func normalizeChartType(chartType string) string {
	switch strings.ToLower(strings.TrimSpace(chartType)) {
	case "line":
		return "line"
	case "pie":
		return "pie"
	default:
		return "bar"
	}
}

func formatValue(value interface{}) string {
	if value == nil {
		return "NULL"
	}
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
