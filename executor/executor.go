package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrConnection indicates the target database could not be reached.
	ErrConnection = errors.New("executor: could not connect to target database")
	// ErrQuery indicates the target database rejected the statement.
	ErrQuery = errors.New("executor: target database rejected the query")
)

const queryTimeout = 30 * time.Second

// Target describes one external database reachable with decrypted credentials.
// It exists only for the duration of a single query.
type Target struct {
	Driver   string
	Host     string
	User     string
	Password string
	Database string
}

// Result is the raw outcome of a statement: column names plus every row.
// An empty Rows slice is a valid result, not an error.
type Result struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// Executor runs translated SQL against external databases. Connections are
// opened per query and released on every exit path.
type Executor struct{}

// New returns a query executor.
func New() *Executor {
	return &Executor{}
}

// Execute opens a short-lived connection to the target, runs the statement,
// and captures columns and rows. The connection is closed unconditionally.
func (e *Executor) Execute(ctx context.Context, target Target, statement string) (Result, error) {
	db, err := openTarget(target)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return execute(ctx, db, statement)
}

// execute runs one statement over an established handle. The underlying
// connection and the row cursor are released via defers so cleanup happens on
// success, query failure, and mid-fetch failure alike.
func execute(ctx context.Context, db *gorm.DB, statement string) (Result, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := db.WithContext(ctx).Raw(statement).Rows()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	result := Result{Columns: columns, Rows: make([][]interface{}, 0, 16)}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrQuery, err)
		}
		for i, value := range values {
			if raw, ok := value.([]byte); ok {
				values[i] = string(raw)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	return result, nil
}

func openTarget(target Target) (*gorm.DB, error) {
	dialector, err := buildDialector(target)
	if err != nil {
		return nil, err
	}
	return gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
}

func buildDialector(target Target) (gorm.Dialector, error) {
	host := strings.TrimSpace(target.Host)
	database := strings.TrimSpace(target.Database)

	switch strings.ToLower(strings.TrimSpace(target.Driver)) {
	case "mysql", "":
		dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=true", target.User, target.Password, host, database)
		return mysql.Open(dsn), nil
	case "postgres", "postgresql", "pg":
		hostname, port := splitHostPort(host, "5432")
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", hostname, port, target.User, target.Password, database)
		return postgres.Open(dsn), nil
	case "sqlserver", "mssql":
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(target.User, target.Password),
			Host:     host,
			RawQuery: url.Values{"database": []string{database}}.Encode(),
		}
		return sqlserver.Open(u.String()), nil
	case "sqlite", "sqlite3":
		return sqlite.Open(database), nil
	default:
		return nil, fmt.Errorf("unsupported target driver %q", target.Driver)
	}
}

func splitHostPort(host, defaultPort string) (string, string) {
	if idx := strings.LastIndex(host, ":"); idx > 0 && idx < len(host)-1 {
		return host[:idx], host[idx+1:]
	}
	return host, defaultPort
}
