package repository

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/model"
)

// SurveyTable is the table holding exit survey records
const SurveyTable = "exit_survey"

var (
	ErrTableNotFound = goerr.New("table not found")
)

// Repository is the relational store of exit survey records. Query and Check
// accept model-generated SQL in the dialect returned by Dialect.
type Repository interface {
	// Migrate creates the survey table if it does not exist
	Migrate(ctx context.Context) error

	// PutRecords saves records, replacing ones with the same ID
	PutRecords(ctx context.Context, records []*model.SurveyRecord) error

	// ListRecords returns all records ordered by ID
	ListRecords(ctx context.Context) ([]*model.SurveyRecord, error)

	CountRecords(ctx context.Context) (int, error)

	// Query runs a read-only statement and returns rows keyed by column name
	Query(ctx context.Context, query string) ([]map[string]any, error)

	// Check validates a statement without running it
	Check(ctx context.Context, query string) error

	// Tables returns names of tables usable in queries
	Tables(ctx context.Context) ([]string, error)

	// Schema describes a table with a few sample rows
	Schema(ctx context.Context, table string) (*TableSchema, error)

	// Dialect is the SQL dialect name, e.g. "sqlite" or "bigquery"
	Dialect() string

	Close() error
}

type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

type TableSchema struct {
	Name       string           `json:"name"`
	Columns    []Column         `json:"columns"`
	SampleRows []map[string]any `json:"sample_rows,omitempty"`
}

// recordFromRow builds a record from a row of the survey table
func recordFromRow(row map[string]any) (*model.SurveyRecord, error) {
	str := func(key string) string {
		switch v := row[key].(type) {
		case string:
			return v
		case []byte:
			return string(v)
		case nil:
			return ""
		default:
			return fmt.Sprint(v)
		}
	}
	num := func(key string) (int, error) {
		n, ok := model.ToInt(row[key])
		if !ok {
			return 0, goerr.New("column is not an integer", goerr.V("column", key), goerr.V("value", row[key]))
		}
		return n, nil
	}

	rec := &model.SurveyRecord{
		ID:           str(model.ColumnID),
		JobTitle:     str(model.ColumnJobTitle),
		BusinessUnit: str(model.ColumnBusinessUnit),
		Gender:       str(model.ColumnGender),
		QuitReason:   str(model.ColumnQuitReason),
		Sentiment:    str(model.ColumnSentiment),
	}

	var err error
	if rec.TermYear, err = num(model.ColumnTermYear); err != nil {
		return nil, err
	}
	if rec.TermMonth, err = num(model.ColumnTermMonth); err != nil {
		return nil, err
	}
	if rec.NPS, err = num(model.ColumnNPS); err != nil {
		return nil, err
	}

	return rec, nil
}
