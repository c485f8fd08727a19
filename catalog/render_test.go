package catalog

import (
	"strings"
	"testing"
)

func ptr(s string) *string { return &s }

func TestRenderSchema(t *testing.T) {
	refTable := uint64(2)
	refField := uint64(21)

	kb := &KnowledgeBase{
		Description: "fallback text",
		Tables: []TableMap{
			{
				ID: 1, Name: "orders", TableOrder: 1,
				Fields: []TableField{
					{ID: 11, Name: "id", Description: ptr("order identifier")},
					{
						ID: 12, Name: "customer_id", Description: ptr("buyer"),
						IsForeignKey: true, RefTableID: &refTable, RefFieldID: &refField,
					},
				},
			},
			{
				ID: 2, Name: "customers", TableOrder: 2,
				Fields: []TableField{
					{ID: 21, Name: "id", Description: ptr("customer identifier")},
				},
			},
		},
	}

	rendered := RenderSchema(kb)

	want := strings.Join([]string{
		"Table: orders",
		"- id AS 'order identifier'",
		"- customer_id AS 'buyer' # Foreign key to customers.id",
		"",
		"Table: customers",
		"- id AS 'customer identifier'",
		"",
		"Table Relationships:",
		"orders.customer_id = customers.id",
	}, "\n")

	if rendered != want {
		t.Errorf("rendered schema mismatch:\n--- got ---\n%s\n--- want ---\n%s", rendered, want)
	}
}

func TestRenderSchemaFallsBackToDescription(t *testing.T) {
	kb := &KnowledgeBase{Description: "  sales warehouse, one row per order  "}
	if got := RenderSchema(kb); got != "sales warehouse, one row per order" {
		t.Errorf("expected trimmed description fallback, got %q", got)
	}
}

func TestRenderSchemaNilAndEmpty(t *testing.T) {
	if got := RenderSchema(nil); got != "" {
		t.Errorf("nil knowledge base should render empty, got %q", got)
	}
	if got := RenderSchema(&KnowledgeBase{}); got != "" {
		t.Errorf("empty knowledge base should render empty, got %q", got)
	}
}

func TestRenderSchemaSkipsDanglingReference(t *testing.T) {
	missing := uint64(999)
	kb := &KnowledgeBase{
		Tables: []TableMap{
			{
				ID: 1, Name: "orders",
				Fields: []TableField{
					{ID: 11, Name: "customer_id", IsForeignKey: true, RefTableID: &missing, RefFieldID: &missing},
				},
			},
		},
	}

	rendered := RenderSchema(kb)
	if strings.Contains(rendered, "Foreign key") {
		t.Errorf("unresolvable reference should not be annotated:\n%s", rendered)
	}
	if !strings.HasSuffix(rendered, "Table Relationships:") {
		t.Errorf("expected empty relationship section, got:\n%s", rendered)
	}
}

func TestRenderSchemaDeduplicatesEdges(t *testing.T) {
	refTable := uint64(2)
	refField := uint64(21)

	kb := &KnowledgeBase{
		Tables: []TableMap{
			{
				ID: 1, Name: "orders",
				Fields: []TableField{
					{ID: 11, Name: "customer_id", IsForeignKey: true, RefTableID: &refTable, RefFieldID: &refField},
					{ID: 12, Name: "customer_id", IsForeignKey: true, RefTableID: &refTable, RefFieldID: &refField},
				},
			},
			{
				ID: 2, Name: "customers",
				Fields: []TableField{{ID: 21, Name: "id"}},
			},
		},
	}

	rendered := RenderSchema(kb)
	if strings.Count(rendered, "orders.customer_id = customers.id") != 1 {
		t.Errorf("duplicate relationship edge:\n%s", rendered)
	}
}
