package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/adapter"
	"github.com/wwetzel/maven-demo-day/pkg/model"
)

// BigQuery is a Repository storing records in a BigQuery dataset
type BigQuery struct {
	bq          adapter.BigQuery
	dataset     string
	scanLimitMB int64
}

type BigQueryOption func(*BigQuery)

// WithScanLimitMB rejects queries whose dry run scans more than limit MB
func WithScanLimitMB(limit int64) BigQueryOption {
	return func(r *BigQuery) {
		r.scanLimitMB = limit
	}
}

func NewBigQuery(bq adapter.BigQuery, dataset string, opts ...BigQueryOption) *BigQuery {
	r := &BigQuery{
		bq:          bq,
		dataset:     dataset,
		scanLimitMB: 1024,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// bqRecord maps SurveyRecord to BigQuery columns
type bqRecord struct {
	ID           string `bigquery:"id"`
	TermYear     int64  `bigquery:"term_year"`
	TermMonth    int64  `bigquery:"term_month"`
	JobTitle     string `bigquery:"job_title"`
	BusinessUnit string `bigquery:"business_unit"`
	Gender       string `bigquery:"Gender"`
	QuitReason   string `bigquery:"main_quit_reason_text"`
	Sentiment    string `bigquery:"main_quit_reason_text_sentiment"`
	NPS          int64  `bigquery:"nps"`
}

func (r *BigQuery) Dialect() string { return "bigquery" }

func (r *BigQuery) Close() error { return nil }

func (r *BigQuery) tableRef() string {
	return fmt.Sprintf("`%s.%s.%s`", r.bq.Project(), r.dataset, SurveyTable)
}

func (r *BigQuery) Migrate(ctx context.Context) error {
	schema, err := bigquery.InferSchema(bqRecord{})
	if err != nil {
		return goerr.Wrap(err, "failed to infer survey schema")
	}
	if err := r.bq.EnsureTable(ctx, r.dataset, SurveyTable, schema); err != nil {
		return goerr.Wrap(err, "failed to migrate survey table")
	}
	return nil
}

func (r *BigQuery) PutRecords(ctx context.Context, records []*model.SurveyRecord) error {
	const batchSize = 500

	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		rows := make([]*bigquery.StructSaver, 0, end-start)
		for _, rec := range records[start:end] {
			rows = append(rows, &bigquery.StructSaver{
				InsertID: rec.ID,
				Struct: &bqRecord{
					ID:           rec.ID,
					TermYear:     int64(rec.TermYear),
					TermMonth:    int64(rec.TermMonth),
					JobTitle:     rec.JobTitle,
					BusinessUnit: rec.BusinessUnit,
					Gender:       rec.Gender,
					QuitReason:   rec.QuitReason,
					Sentiment:    rec.Sentiment,
					NPS:          int64(rec.NPS),
				},
			})
		}

		if err := r.bq.Insert(ctx, r.dataset, SurveyTable, rows); err != nil {
			return goerr.Wrap(err, "failed to put records", goerr.V("offset", start))
		}
	}
	return nil
}

func (r *BigQuery) ListRecords(ctx context.Context) ([]*model.SurveyRecord, error) {
	rows, err := r.run(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY id",
		strings.Join(model.SurveyColumns, ", "), r.tableRef()))
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

func (r *BigQuery) CountRecords(ctx context.Context) (int, error) {
	rows, err := r.run(ctx, "SELECT COUNT(*) AS n FROM "+r.tableRef())
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count records")
	}
	if len(rows) != 1 {
		return 0, goerr.New("unexpected count result", goerr.V("rows", len(rows)))
	}
	n, _ := model.ToInt(rows[0]["n"])
	return n, nil
}

func (r *BigQuery) Query(ctx context.Context, query string) ([]map[string]any, error) {
	if err := r.Check(ctx, query); err != nil {
		return nil, err
	}
	return r.run(ctx, query)
}

func (r *BigQuery) run(ctx context.Context, query string) ([]map[string]any, error) {
	job, err := r.bq.Query(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run query", goerr.V("query", query))
	}
	rows, err := r.bq.QueryResult(ctx, job, 0)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get query result", goerr.V("job_id", job.ID))
	}
	return rows, nil
}

// Check runs a dry run and enforces the scan limit
func (r *BigQuery) Check(ctx context.Context, query string) error {
	bytesProcessed, err := r.bq.DryRun(ctx, query)
	if err != nil {
		return goerr.Wrap(err, "invalid query", goerr.V("query", query))
	}

	if limit := r.scanLimitMB * 1024 * 1024; bytesProcessed > limit {
		return goerr.New("query exceeds scan limit",
			goerr.V("scan_mb", float64(bytesProcessed)/1024/1024),
			goerr.V("limit_mb", r.scanLimitMB))
	}
	return nil
}

// Tables returns dataset-qualified table names
func (r *BigQuery) Tables(ctx context.Context) ([]string, error) {
	tables, err := r.bq.ListTables(ctx, r.dataset)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, r.dataset+"."+t)
	}
	return names, nil
}

func (r *BigQuery) Schema(ctx context.Context, table string) (*TableSchema, error) {
	tables, err := r.Tables(ctx)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(table, ".") {
		table = r.dataset + "." + table
	}
	if !slices.Contains(tables, table) {
		return nil, goerr.Wrap(ErrTableNotFound, "no such table", goerr.V("table", table), goerr.V("tables", tables))
	}

	datasetID, tableID, _ := strings.Cut(table, ".")
	metadata, err := r.bq.TableMetadata(ctx, datasetID, tableID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get table metadata", goerr.V("table", table))
	}

	schema := &TableSchema{Name: table}
	for _, f := range metadata.Schema {
		schema.Columns = append(schema.Columns, Column{
			Name:     f.Name,
			Type:     string(f.Type),
			Required: f.Required,
		})
	}

	samples, err := r.run(ctx, fmt.Sprintf("SELECT * FROM `%s.%s` LIMIT 3", r.bq.Project(), table))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get sample rows", goerr.V("table", table))
	}
	schema.SampleRows = samples

	return schema, nil
}
