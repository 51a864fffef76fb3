package repository_test

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/gt"
	"github.com/wwetzel/maven-demo-day/pkg/adapter"
	"github.com/wwetzel/maven-demo-day/pkg/repository"
)

type mockBigQuery struct {
	dryRunBytes int64
	dryRunErr   error
	queries     []string
	result      []map[string]any
	inserted    any
	tables      []string
}

func (m *mockBigQuery) DryRun(ctx context.Context, query string) (int64, error) {
	return m.dryRunBytes, m.dryRunErr
}

func (m *mockBigQuery) Query(ctx context.Context, query string) (*adapter.QueryJob, error) {
	m.queries = append(m.queries, query)
	return &adapter.QueryJob{ID: "job-1", Location: "US"}, nil
}

func (m *mockBigQuery) QueryResult(ctx context.Context, job *adapter.QueryJob, limit int) ([]map[string]any, error) {
	return m.result, nil
}

func (m *mockBigQuery) TableMetadata(ctx context.Context, datasetID, table string) (*bigquery.TableMetadata, error) {
	return &bigquery.TableMetadata{Schema: bigquery.Schema{
		{Name: "id", Type: bigquery.StringFieldType, Required: true},
		{Name: "nps", Type: bigquery.IntegerFieldType},
	}}, nil
}

func (m *mockBigQuery) ListTables(ctx context.Context, datasetID string) ([]string, error) {
	return m.tables, nil
}

func (m *mockBigQuery) EnsureTable(ctx context.Context, datasetID, table string, schema bigquery.Schema) error {
	return nil
}

func (m *mockBigQuery) Insert(ctx context.Context, datasetID, table string, rows any) error {
	m.inserted = rows
	return nil
}

func (m *mockBigQuery) Project() string { return "test-project" }

func TestBigQueryCheckScanLimit(t *testing.T) {
	ctx := context.Background()
	mock := &mockBigQuery{dryRunBytes: 5 * 1024 * 1024}
	repo := repository.NewBigQuery(mock, "hr", repository.WithScanLimitMB(1))

	err := repo.Check(ctx, "SELECT * FROM hr.exit_survey")
	gt.Error(t, err)
	gt.S(t, err.Error()).Contains("scan limit")

	_, err = repo.Query(ctx, "SELECT * FROM hr.exit_survey")
	gt.Error(t, err)
	gt.A(t, mock.queries).Length(0)

	mock.dryRunErr = errors.New("Unrecognized name: salary")
	gt.Error(t, repo.Check(ctx, "SELECT salary FROM hr.exit_survey"))
}

func TestBigQueryRecords(t *testing.T) {
	ctx := context.Background()
	mock := &mockBigQuery{
		result: []map[string]any{
			{
				"id": "rec-00001", "term_year": int64(2023), "term_month": int64(2),
				"job_title": "design engineer", "business_unit": "business unit C", "Gender": "male",
				"main_quit_reason_text": "Burnout", "main_quit_reason_text_sentiment": "Very Negative", "nps": int64(2),
			},
		},
		tables: []string{"exit_survey"},
	}
	repo := repository.NewBigQuery(mock, "hr")

	gt.NoError(t, repo.PutRecords(ctx, sampleRecords()))
	savers, ok := mock.inserted.([]*bigquery.StructSaver)
	gt.True(t, ok)
	gt.A(t, savers).Length(3)
	gt.Equal(t, savers[0].InsertID, "rec-00001")

	records, err := repo.ListRecords(ctx)
	gt.NoError(t, err)
	gt.A(t, records).Length(1)
	gt.Equal(t, records[0].TermYear, 2023)
	gt.Equal(t, records[0].Sentiment, "Very Negative")
	gt.S(t, mock.queries[0]).Contains("`test-project.hr.exit_survey`")

	tables, err := repo.Tables(ctx)
	gt.NoError(t, err)
	gt.Equal(t, tables, []string{"hr.exit_survey"})

	schema, err := repo.Schema(ctx, "exit_survey")
	gt.NoError(t, err)
	gt.Equal(t, schema.Name, "hr.exit_survey")
	gt.A(t, schema.Columns).Length(2)

	_, err = repo.Schema(ctx, "other")
	gt.True(t, errors.Is(err, repository.ErrTableNotFound))
}
