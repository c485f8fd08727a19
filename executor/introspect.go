package executor

import (
	"context"
	"fmt"
	"strings"
)

// ColumnInfo describes one column of an external table.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ListTables enumerates the tables of the target database using the dialect's
// catalog: SHOW TABLES on mysql, INFORMATION_SCHEMA elsewhere.
func (e *Executor) ListTables(ctx context.Context, target Target) ([]string, error) {
	statement, err := tablesStatement(target)
	if err != nil {
		return nil, err
	}

	result, err := e.Execute(ctx, target, statement)
	if err != nil {
		return nil, err
	}

	tables := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		if len(row) == 0 {
			continue
		}
		name := strings.TrimSpace(formatValue(row[0]))
		if name != "" {
			tables = append(tables, name)
		}
	}
	return tables, nil
}

// ListColumns enumerates a table's columns with their declared types.
func (e *Executor) ListColumns(ctx context.Context, target Target, table string) ([]ColumnInfo, error) {
	statement, err := columnsStatement(target, table)
	if err != nil {
		return nil, err
	}

	result, err := e.Execute(ctx, target, statement)
	if err != nil {
		return nil, err
	}

	columns := make([]ColumnInfo, 0, len(result.Rows))
	for _, row := range result.Rows {
		if len(row) < 2 {
			continue
		}
		columns = append(columns, ColumnInfo{
			Name: strings.TrimSpace(formatValue(row[0])),
			Type: strings.TrimSpace(formatValue(row[1])),
		})
	}
	return columns, nil
}

func tablesStatement(target Target) (string, error) {
	switch strings.ToLower(strings.TrimSpace(target.Driver)) {
	case "mysql", "":
		return "SHOW TABLES", nil
	case "postgres", "postgresql", "pg":
		return "SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name", nil
	case "sqlserver", "mssql":
		return "SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME", nil
	case "sqlite", "sqlite3":
		return "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name", nil
	default:
		return "", fmt.Errorf("unsupported target driver %q", target.Driver)
	}
}

func columnsStatement(target Target, table string) (string, error) {
	table = sanitizeIdentifier(table)
	if table == "" {
		return "", fmt.Errorf("table name is required")
	}

	switch strings.ToLower(strings.TrimSpace(target.Driver)) {
	case "mysql", "":
		return fmt.Sprintf("SHOW COLUMNS FROM `%s`", table), nil
	case "postgres", "postgresql", "pg":
		return fmt.Sprintf("SELECT column_name, data_type FROM information_schema.columns WHERE table_name = '%s' ORDER BY ordinal_position", table), nil
	case "sqlserver", "mssql":
		return fmt.Sprintf("SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = '%s' ORDER BY ORDINAL_POSITION", table), nil
	case "sqlite", "sqlite3":
		return fmt.Sprintf("SELECT name, type FROM pragma_table_info('%s')", table), nil
	default:
		return "", fmt.Errorf("unsupported target driver %q", target.Driver)
	}
}

// sanitizeIdentifier keeps only characters legal in an unquoted identifier so
// introspection statements cannot be used for injection.
func sanitizeIdentifier(name string) string {
	var builder strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '$':
			builder.WriteRune(r)
		}
	}
	return builder.String()
}
