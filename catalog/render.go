package catalog

import (
	"fmt"
	"strings"
)

// RenderSchema flattens a knowledge base into the textual schema description
// handed to the language model: one block per table listing its fields with
// foreign-key annotations, then a consolidated relationship list. Output is
// deterministic given the stored table/field order. A knowledge base with no
// tables falls back to its free-text description.
func RenderSchema(kb *KnowledgeBase) string {
	if kb == nil {
		return ""
	}
	if len(kb.Tables) == 0 {
		return strings.TrimSpace(kb.Description)
	}

	tableNames := make(map[uint64]string, len(kb.Tables))
	fieldNames := make(map[uint64]string)
	for _, table := range kb.Tables {
		tableNames[table.ID] = table.Name
		for _, field := range table.Fields {
			fieldNames[field.ID] = field.Name
		}
	}

	var builder strings.Builder
	var relationships []string
	// Guards against the same edge surfacing twice should the field graph
	// ever carry duplicate pointers (cycles are legal in this graph).
	seenEdges := make(map[string]bool)

	for _, table := range kb.Tables {
		builder.WriteString("Table: ")
		builder.WriteString(table.Name)
		builder.WriteRune('\n')

		for _, field := range table.Fields {
			description := ""
			if field.Description != nil {
				description = strings.TrimSpace(*field.Description)
			}
			builder.WriteString(fmt.Sprintf("- %s AS '%s'", field.Name, description))

			if field.IsForeignKey && field.RefTableID != nil && field.RefFieldID != nil {
				refTable, okTable := tableNames[*field.RefTableID]
				refField, okField := fieldNames[*field.RefFieldID]
				if okTable && okField {
					builder.WriteString(fmt.Sprintf(" # Foreign key to %s.%s", refTable, refField))

					edge := fmt.Sprintf("%s.%s = %s.%s", table.Name, field.Name, refTable, refField)
					if !seenEdges[edge] {
						seenEdges[edge] = true
						relationships = append(relationships, edge)
					}
				}
			}
			builder.WriteRune('\n')
		}
		builder.WriteRune('\n')
	}

	builder.WriteString("Table Relationships:\n")
	for _, edge := range relationships {
		builder.WriteString(edge)
		builder.WriteRune('\n')
	}

	return strings.TrimRight(builder.String(), "\n")
}
