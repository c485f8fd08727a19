package executor

import (
	"context"
	"strings"
	"testing"
)

func TestShapeTextSingleValue(t *testing.T) {
	result := Result{
		Columns: []string{"count"},
		Rows:    [][]interface{}{{int64(12)}},
	}

	shaped := Shape(context.Background(), result, OutputText, "", nil)
	if shaped.Type != OutputText {
		t.Fatalf("expected text shape, got %q", shaped.Type)
	}
	if shaped.Message != "The answer is 12." {
		t.Errorf("unexpected message %q", shaped.Message)
	}
}

func TestShapeTextValueList(t *testing.T) {
	result := Result{
		Columns: []string{"city"},
		Rows:    [][]interface{}{{"Berlin"}, {"Oslo"}, {nil}},
	}

	shaped := Shape(context.Background(), result, OutputText, "", nil)
	if shaped.Message != "The results are: Berlin, Oslo, NULL." {
		t.Errorf("unexpected message %q", shaped.Message)
	}
}

func TestShapeTextEmptyResult(t *testing.T) {
	shaped := Shape(context.Background(), Result{Columns: []string{"count"}}, OutputText, "", nil)
	if !strings.Contains(shaped.Message, "no results") {
		t.Errorf("unexpected message %q", shaped.Message)
	}
}

func TestShapeTextMultiColumnFallsBackToTable(t *testing.T) {
	result := Result{
		Columns: []string{"name", "total"},
		Rows:    [][]interface{}{{"alice", int64(3)}},
	}

	shaped := Shape(context.Background(), result, OutputText, "", nil)
	if shaped.Type != OutputTable {
		t.Fatalf("expected table fallback, got %q", shaped.Type)
	}
	if shaped.Message == "" {
		t.Error("expected an explanatory message on fallback")
	}
	if len(shaped.Columns) != 2 || len(shaped.Results) != 1 {
		t.Errorf("table payload missing: columns=%v results=%v", shaped.Columns, shaped.Results)
	}
}

func TestShapeTableIsDefault(t *testing.T) {
	result := Result{
		Columns: []string{"a"},
		Rows:    [][]interface{}{{"x"}},
	}

	shaped := Shape(context.Background(), result, "unknown-mode", "", nil)
	if shaped.Type != OutputTable {
		t.Fatalf("expected table shape, got %q", shaped.Type)
	}
}

func TestShapeVisualizationWithoutStorage(t *testing.T) {
	result := Result{
		Columns: []string{"month", "revenue"},
		Rows:    [][]interface{}{{"Jan", int64(100)}, {"Feb", int64(140)}},
	}

	shaped := Shape(context.Background(), result, OutputVisualization, "LINE", nil)
	if shaped.Type != OutputVisualization {
		t.Fatalf("expected visualization shape, got %q", shaped.Type)
	}
	if shaped.ChartType != "line" {
		t.Errorf("expected normalized chart type, got %q", shaped.ChartType)
	}
	if shaped.ChartURL != "" {
		t.Errorf("expected no chart URL without storage, got %q", shaped.ChartURL)
	}
	if len(shaped.Results) != 2 {
		t.Errorf("expected tabular payload to remain available, got %v", shaped.Results)
	}
}

func TestNormalizeChartType(t *testing.T) {
	cases := map[string]string{
		"line":      "line",
		"Pie":       "pie",
		"bar":       "bar",
		"":          "bar",
		"heatmap":   "bar",
		"  LINE  ":  "line",
		"scatter3d": "bar",
	}
	for input, want := range cases {
		if got := normalizeChartType(input); got != want {
			t.Errorf("normalizeChartType(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	if got := formatValue(nil); got != "NULL" {
		t.Errorf("nil should render NULL, got %q", got)
	}
	if got := formatValue([]byte("raw")); got != "raw" {
		t.Errorf("bytes should render as string, got %q", got)
	}
	if got := formatValue(3.5); got != "3.5" {
		t.Errorf("float rendering: got %q", got)
	}
}
