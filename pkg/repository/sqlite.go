package repository

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/wwetzel/maven-demo-day/pkg/model"
)

// DefaultSQLitePath is the database file used when no path is configured
const DefaultSQLitePath = "hr_database.db"

// SQLite is the default Repository backed by a local database file
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens the database file at path. ":memory:" opens an in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite", goerr.V("path", path))
	}

	// Every statement must see the same database; an in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, goerr.Wrap(err, "failed to connect sqlite", goerr.V("path", path))
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Dialect() string { return "sqlite" }

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Migrate(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	term_year INTEGER NOT NULL,
	term_month INTEGER NOT NULL,
	job_title TEXT NOT NULL,
	business_unit TEXT NOT NULL,
	Gender TEXT NOT NULL,
	main_quit_reason_text TEXT NOT NULL,
	main_quit_reason_text_sentiment TEXT NOT NULL,
	nps INTEGER NOT NULL
)`, SurveyTable)

	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return goerr.Wrap(err, "failed to create survey table")
	}
	return nil
}

func (s *SQLite) PutRecords(ctx context.Context, records []*model.SurveyRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(model.SurveyColumns)), ",")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		SurveyTable, strings.Join(model.SurveyColumns, ","), placeholders))
	if err != nil {
		return goerr.Wrap(err, "failed to prepare insert")
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Values()...); err != nil {
			return goerr.Wrap(err, "failed to insert record", goerr.V("id", r.ID))
		}
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit records", goerr.V("count", len(records)))
	}
	return nil
}

func (s *SQLite) ListRecords(ctx context.Context) ([]*model.SurveyRecord, error) {
	rows, err := s.Query(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY id",
		strings.Join(model.SurveyColumns, ","), SurveyTable))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list records")
	}

	records := make([]*model.SurveyRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := recordFromRow(row)
		if err != nil {
			return nil, goerr.Wrap(err, "broken survey row", goerr.V("id", row[model.ColumnID]))
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *SQLite) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+SurveyTable).Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "failed to count records")
	}
	return n, nil
}

// Query runs the statement on a connection switched to query_only mode
func (s *SQLite) Query(ctx context.Context, query string) ([]map[string]any, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, goerr.Wrap(err, "failed to enable query_only")
	}
	defer func() { _, _ = conn.ExecContext(context.Background(), "PRAGMA query_only = OFF") }()

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run query", goerr.V("query", query))
	}
	defer rows.Close()

	return scanRows(rows)
}

// Check prepares the statement, which resolves every table and column reference
func (s *SQLite) Check(ctx context.Context, query string) error {
	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return goerr.Wrap(err, "invalid query", goerr.V("query", query))
	}
	return stmt.Close()
}

func (s *SQLite) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, goerr.Wrap(err, "failed to scan table name")
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (s *SQLite) Schema(ctx context.Context, table string) (*TableSchema, error) {
	tables, err := s.Tables(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(tables, table) {
		return nil, goerr.Wrap(ErrTableNotFound, "no such table", goerr.V("table", table), goerr.V("tables", tables))
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get table info", goerr.V("table", table))
	}
	info, err := scanRows(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	schema := &TableSchema{Name: table}
	for _, col := range info {
		notNull, _ := model.ToInt(col["notnull"])
		schema.Columns = append(schema.Columns, Column{
			Name:     fmt.Sprint(col["name"]),
			Type:     fmt.Sprint(col["type"]),
			Required: notNull == 1,
		})
	}

	samples, err := s.Query(ctx, fmt.Sprintf("SELECT * FROM %q LIMIT 3", table))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get sample rows", goerr.V("table", table))
	}
	schema.SampleRows = samples

	return schema, nil
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get columns")
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, goerr.Wrap(err, "failed to scan row")
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate rows")
	}
	return results, nil
}
