package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      conn,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}

	return db, mock
}

func assertMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExecuteCollectsRows(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT name, total FROM orders").WillReturnRows(
		sqlmock.NewRows([]string{"name", "total"}).
			AddRow([]byte("alice"), 42).
			AddRow([]byte("bob"), 7),
	)
	mock.ExpectClose()

	result, err := execute(context.Background(), db, "SELECT name, total FROM orders")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(result.Columns) != 2 || result.Columns[0] != "name" || result.Columns[1] != "total" {
		t.Fatalf("unexpected columns %v", result.Columns)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	// driver byte slices must come back as strings
	if got, ok := result.Rows[0][0].(string); !ok || got != "alice" {
		t.Errorf("expected string %q, got %T %v", "alice", result.Rows[0][0], result.Rows[0][0])
	}

	assertMock(t, mock)
}

func TestExecuteEmptyResultIsNotAnError(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT id FROM empty_table").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectClose()

	result, err := execute(context.Background(), db, "SELECT id FROM empty_table")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(result.Rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(result.Rows))
	}
	if len(result.Columns) != 1 {
		t.Fatalf("expected column metadata to survive, got %v", result.Columns)
	}

	assertMock(t, mock)
}

func TestExecuteQueryErrorClosesConnection(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT broken").WillReturnError(errors.New("syntax error"))
	mock.ExpectClose()

	_, err := execute(context.Background(), db, "SELECT broken")
	if !errors.Is(err, ErrQuery) {
		t.Fatalf("expected ErrQuery, got %v", err)
	}

	assertMock(t, mock)
}

func TestExecuteMidFetchErrorClosesConnection(t *testing.T) {
	db, mock := newMockDB(t)

	rows := sqlmock.NewRows([]string{"id"}).
		AddRow(1).
		AddRow(2).
		RowError(1, errors.New("connection reset"))
	mock.ExpectQuery("SELECT id FROM flaky").WillReturnRows(rows)
	mock.ExpectClose()

	_, err := execute(context.Background(), db, "SELECT id FROM flaky")
	if !errors.Is(err, ErrQuery) {
		t.Fatalf("expected ErrQuery, got %v", err)
	}

	assertMock(t, mock)
}

func TestExecuteUnreachableTarget(t *testing.T) {
	executor := New()

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	_, err := executor.Execute(ctx, Target{
		Driver:   "sqlite",
		Database: "file::memory:?cache=shared",
	}, "SELECT 1")
	if err != nil && !errors.Is(err, ErrConnection) && !errors.Is(err, ErrQuery) {
		t.Fatalf("expected a classified error, got %v", err)
	}
}

func TestBuildDialectorRejectsUnknownDriver(t *testing.T) {
	_, err := buildDialector(Target{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected an error for unsupported driver")
	}
}

func TestSplitHostPort(t *testing.T) {
	cases := []struct {
		host     string
		defPort  string
		wantHost string
		wantPort string
	}{
		{"db.internal:5433", "5432", "db.internal", "5433"},
		{"db.internal", "5432", "db.internal", "5432"},
		{"localhost:15432", "5432", "localhost", "15432"},
	}
	for _, tc := range cases {
		gotHost, gotPort := splitHostPort(tc.host, tc.defPort)
		if gotHost != tc.wantHost || gotPort != tc.wantPort {
			t.Errorf("splitHostPort(%q) = (%q, %q), want (%q, %q)", tc.host, gotHost, gotPort, tc.wantHost, tc.wantPort)
		}
	}
}
