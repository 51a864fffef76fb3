package adapter

import (
	"context"
	"errors"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

var ErrNoStatistics = goerr.New("no statistics available from dry-run")

// QueryJob identifies a finished query. Location is kept so that results can
// be read back without guessing the job region.
type QueryJob struct {
	ID       string
	Location string
}

// BigQuery is the subset of BigQuery used by the survey store
type BigQuery interface {
	// DryRun validates the query and returns the number of bytes it would scan
	DryRun(ctx context.Context, query string) (int64, error)

	// Query runs the query to completion
	Query(ctx context.Context, query string) (*QueryJob, error)

	// QueryResult reads rows of a finished job. limit <= 0 reads every row.
	QueryResult(ctx context.Context, job *QueryJob, limit int) ([]map[string]any, error)

	TableMetadata(ctx context.Context, datasetID, table string) (*bigquery.TableMetadata, error)
	ListTables(ctx context.Context, datasetID string) ([]string, error)

	// EnsureTable creates the table with the schema unless it already exists
	EnsureTable(ctx context.Context, datasetID, table string, schema bigquery.Schema) error

	// Insert streams rows into the table. rows must be a slice of ValueSaver or struct values.
	Insert(ctx context.Context, datasetID, table string, rows any) error

	Project() string
}

type bigqueryClient struct {
	client         *bigquery.Client
	location       string
	maxBytesBilled int64
}

type BigQueryOption func(*bigqueryClient)

// WithLocation pins jobs to a region such as "US" or "asia-northeast1"
func WithLocation(location string) BigQueryOption {
	return func(bq *bigqueryClient) {
		bq.location = location
	}
}

// WithMaxBytesBilled makes BigQuery itself fail queries that would bill more
// than n bytes, in addition to the dry run check of the store
func WithMaxBytesBilled(n int64) BigQueryOption {
	return func(bq *bigqueryClient) {
		bq.maxBytesBilled = n
	}
}

func NewBigQuery(ctx context.Context, projectID string, opts ...BigQueryOption) (BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client", goerr.V("project", projectID))
	}

	bq := &bigqueryClient{client: client}
	for _, opt := range opts {
		opt(bq)
	}
	if bq.location != "" {
		client.Location = bq.location
	}

	return bq, nil
}

func (bq *bigqueryClient) newQuery(query string) *bigquery.Query {
	q := bq.client.Query(query)
	if bq.maxBytesBilled > 0 {
		q.MaxBytesBilled = bq.maxBytesBilled
	}
	return q
}

func (bq *bigqueryClient) DryRun(ctx context.Context, query string) (int64, error) {
	q := bq.newQuery(query)
	q.DryRun = true

	job, err := q.Run(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to run dry-run query")
	}

	status := job.LastStatus()
	if status == nil || status.Statistics == nil {
		return 0, goerr.Wrap(ErrNoStatistics, "dry-run finished", goerr.V("job_id", job.ID()))
	}

	return status.Statistics.TotalBytesProcessed, nil
}

func (bq *bigqueryClient) Query(ctx context.Context, query string) (*QueryJob, error) {
	job, err := bq.newQuery(query).Run(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run query")
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to wait for query completion", goerr.V("job_id", job.ID()))
	}
	if status.Err() != nil {
		return nil, goerr.Wrap(status.Err(), "query execution failed", goerr.V("job_id", job.ID()))
	}

	return &QueryJob{ID: job.ID(), Location: job.Location()}, nil
}

func (bq *bigqueryClient) QueryResult(ctx context.Context, ref *QueryJob, limit int) ([]map[string]any, error) {
	job, err := bq.client.JobFromIDLocation(ctx, ref.ID, ref.Location)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get job",
			goerr.V("job_id", ref.ID), goerr.V("location", ref.Location))
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read query result", goerr.V("job_id", ref.ID))
	}

	var results []map[string]any
	for limit <= 0 || len(results) < limit {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate query result", goerr.V("job_id", ref.ID))
		}

		values := make(map[string]any, len(row))
		for k, v := range row {
			values[k] = v
		}
		results = append(results, values)
	}

	return results, nil
}

func (bq *bigqueryClient) TableMetadata(ctx context.Context, datasetID, table string) (*bigquery.TableMetadata, error) {
	metadata, err := bq.client.Dataset(datasetID).Table(table).Metadata(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get table metadata",
			goerr.V("dataset", datasetID), goerr.V("table", table))
	}
	return metadata, nil
}

func (bq *bigqueryClient) ListTables(ctx context.Context, datasetID string) ([]string, error) {
	var tables []string
	it := bq.client.Dataset(datasetID).Tables(ctx)
	for {
		tbl, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list tables", goerr.V("dataset", datasetID))
		}
		tables = append(tables, tbl.TableID)
	}
	return tables, nil
}

func (bq *bigqueryClient) EnsureTable(ctx context.Context, datasetID, table string, schema bigquery.Schema) error {
	tbl := bq.client.Dataset(datasetID).Table(table)
	if _, err := tbl.Metadata(ctx); err == nil {
		return nil
	}

	if err := tbl.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
		return goerr.Wrap(err, "failed to create table", goerr.V("dataset", datasetID), goerr.V("table", table))
	}
	return nil
}

func (bq *bigqueryClient) Insert(ctx context.Context, datasetID, table string, rows any) error {
	inserter := bq.client.Dataset(datasetID).Table(table).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return goerr.Wrap(err, "failed to insert rows", goerr.V("dataset", datasetID), goerr.V("table", table))
	}
	return nil
}

func (bq *bigqueryClient) Project() string {
	return bq.client.Project()
}
