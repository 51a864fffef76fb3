package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
)

var ErrNoRecords = goerr.New("no survey records to index; load the dataset first")

// Index is the semantic index of embedded quit-reason texts
type Index interface {
	// Exists reports whether a built index is present in persisted storage
	Exists(ctx context.Context) (bool, error)

	// Add stores documents with their embeddings
	Add(ctx context.Context, docs []*model.Document) error

	// Search returns up to k documents satisfying filter, most similar first
	Search(ctx context.Context, vec []float32, filter *model.Filter, k int) ([]*model.ScoredDocument, error)

	Count(ctx context.Context) (int, error)

	// Reset removes every document
	Reset(ctx context.Context) error

	Close() error
}

// RecordSource provides the records an index is built from
type RecordSource interface {
	ListRecords(ctx context.Context) ([]*model.SurveyRecord, error)
}

// Embedder converts text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BuildResult describes the outcome of LoadOrBuild
type BuildResult struct {
	Built     bool
	Documents int
	Elapsed   time.Duration
}

type buildConfig struct {
	rebuild  bool
	progress func(done, total int)
}

type BuildOption func(*buildConfig)

// WithRebuild drops the existing index and embeds every record again
func WithRebuild() BuildOption {
	return func(c *buildConfig) {
		c.rebuild = true
	}
}

// WithProgress sets a callback invoked after each embedded record
func WithProgress(fn func(done, total int)) BuildOption {
	return func(c *buildConfig) {
		c.progress = fn
	}
}

// LoadOrBuild loads the persisted index, or builds it from source when absent.
// It must complete before any query is served.
func LoadOrBuild(ctx context.Context, idx Index, source RecordSource, embedder Embedder, opts ...BuildOption) (*BuildResult, error) {
	var cfg buildConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := logging.From(ctx)
	started := time.Now()

	if cfg.rebuild {
		if err := idx.Reset(ctx); err != nil {
			return nil, goerr.Wrap(err, "failed to reset index")
		}
	} else {
		exists, err := idx.Exists(ctx)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to check index")
		}
		if exists {
			n, err := idx.Count(ctx)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to count index documents")
			}
			logger.Info("loading semantic index", "documents", n)
			return &BuildResult{Built: false, Documents: n, Elapsed: time.Since(started)}, nil
		}
	}

	records, err := source.ListRecords(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list records for index")
	}
	if len(records) == 0 {
		return nil, goerr.Wrap(ErrNoRecords, "cannot build index")
	}

	logger.Info("embedding survey responses", "records", len(records))
	docs := make([]*model.Document, 0, len(records))
	for i, rec := range records {
		doc := rec.ToDocument()
		vec, err := embedder.Embed(ctx, doc.Content)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to embed record", goerr.V("id", rec.ID))
		}
		doc.Embedding = vec
		docs = append(docs, doc)

		if cfg.progress != nil {
			cfg.progress(i+1, len(records))
		}
	}

	if err := idx.Add(ctx, docs); err != nil {
		return nil, goerr.Wrap(err, "failed to add documents to index")
	}

	result := &BuildResult{Built: true, Documents: len(docs), Elapsed: time.Since(started)}
	logger.Info("semantic index built", "documents", result.Documents, "elapsed", result.Elapsed)
	return result, nil
}

// topK sorts hits by score descending and keeps the first k
func topK(hits []*model.ScoredDocument, k int) []*model.ScoredDocument {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

var sqlOps = map[model.Op]string{
	model.OpEq:  "=",
	model.OpNe:  "<>",
	model.OpGt:  ">",
	model.OpGte: ">=",
	model.OpLt:  "<",
	model.OpLte: "<=",
}

// whereClause renders a validated filter as SQL with positional placeholders.
// column maps a metadata field name to a quoted column identifier.
func whereClause(filter *model.Filter, column func(field string) string) (string, []any, error) {
	if filter.IsEmpty() {
		return "", nil, nil
	}
	if err := filter.Validate(); err != nil {
		return "", nil, err
	}

	var (
		clauses []string
		args    []any
	)
	for _, c := range filter.Conditions {
		col := column(c.Field)
		if c.Op == model.OpIn {
			var values []any
			switch v := c.Value.(type) {
			case []int:
				for _, n := range v {
					values = append(values, n)
				}
			case []string:
				for _, s := range v {
					values = append(values, s)
				}
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col, placeholders))
			args = append(args, values...)
			continue
		}

		clauses = append(clauses, fmt.Sprintf("%s %s ?", col, sqlOps[c.Op]))
		args = append(args, c.Value)
	}

	return strings.Join(clauses, " AND "), args, nil
}
