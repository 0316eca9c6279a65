// Package execlog persists one row per completed rule execution.
package execlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported dialects. The names double as database/sql driver names.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const defaultRecentLimit = 50

// Record is one row of the execution log.
type Record struct {
	ID           string    `json:"id"`
	RuleID       string    `json:"ruleId"`
	RuleName     string    `json:"ruleName"`
	RequestID    string    `json:"requestId"`
	ProductCode  string    `json:"productCode"`
	StepCode     string    `json:"stepCode"`
	ExecutedAt   time.Time `json:"executedAt"`
	Status       string    `json:"status"`
	Fallback     bool      `json:"fallback"`
	InputData    string    `json:"inputData,omitempty"`
	OutputData   string    `json:"outputData,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	DurationMs   int64     `json:"durationMs"`
}

// Store is what the execution-log listener and the HTTP layer need.
type Store interface {
	Log(ctx context.Context, rec Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// SQLStore writes the log through database/sql, on Postgres (lib/pq) or
// SQLite (modernc).
type SQLStore struct {
	db      *sql.DB
	dialect string
	owned   bool
}

var _ Store = (*SQLStore)(nil)

// Open connects with the driver named by dialect and pings the database.
// The returned store owns the connection and closes it in Close.
func Open(ctx context.Context, dialect, dsn string) (*SQLStore, error) {
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return nil, fmt.Errorf("unsupported execution log dialect '%s'", dialect)
	}
	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open execution log database: %w", err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach execution log database: %w", err)
	}
	store, _ := NewSQLStore(db, dialect)
	store.owned = true
	return store, nil
}

// NewSQLStore wraps an existing connection. The caller keeps ownership.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("execution log store requires a database")
	}
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return nil, fmt.Errorf("unsupported execution log dialect '%s'", dialect)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// DB exposes the underlying connection, e.g. for migrations.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Dialect() string { return s.dialect }

// Migrate brings the schema up to date.
func (s *SQLStore) Migrate() error {
	m, err := NewMigrator(s.db, s.dialect)
	if err != nil {
		return err
	}
	return m.Up()
}

func (s *SQLStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Log inserts rec, filling in an id and timestamp when they are empty.
func (s *SQLStore) Log(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now()
	}
	query := fmt.Sprintf(`
		INSERT INTO rule_execution_log (id, rule_id, rule_name, request_id, product_code, step_code,
			executed_at, status, fallback, input_data, output_data, error_message, duration_ms)
		VALUES (%s)`, s.placeholders(13))
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.RuleID, rec.RuleName, rec.RequestID, rec.ProductCode, rec.StepCode,
		rec.ExecutedAt.UTC(), rec.Status, rec.Fallback,
		nullable(rec.InputData), nullable(rec.OutputData), nullable(rec.ErrorMessage), rec.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to insert execution log row: %w", err)
	}
	return nil
}

// Recent returns up to limit rows, newest first. A non-positive limit uses
// a default of 50.
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	query := fmt.Sprintf(`
		SELECT id, rule_id, rule_name, request_id, product_code, step_code, executed_at, status,
			fallback, input_data, output_data, error_message, duration_ms
		FROM rule_execution_log
		ORDER BY executed_at DESC
		LIMIT %s`, s.placeholders(1))
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec                   Record
			executedAt            interface{}
			input, output, errMsg sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.RuleID, &rec.RuleName, &rec.RequestID, &rec.ProductCode,
			&rec.StepCode, &executedAt, &rec.Status, &rec.Fallback, &input, &output, &errMsg,
			&rec.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan execution log row: %w", err)
		}
		if rec.ExecutedAt, err = toTime(executedAt); err != nil {
			return nil, err
		}
		rec.InputData, rec.OutputData, rec.ErrorMessage = input.String, output.String, errMsg.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		if s.dialect == DialectPostgres {
			parts[i] = fmt.Sprintf("$%d", i+1)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// toTime accepts the shapes drivers return for timestamp columns.
func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		return toTime(string(t))
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp '%s'", t)
	case int64:
		return time.Unix(t, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}
