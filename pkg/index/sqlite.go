package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"github.com/wwetzel/maven-demo-day/pkg/utils/vector"
)

// DefaultPath is the fixed location of the local semantic index
const DefaultPath = "survey_index.db"

// SQLite persists documents in a local database file and ranks them by cosine similarity
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens the index file at path, creating it when absent
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open index", goerr.V("path", path))
	}
	db.SetMaxOpenConns(1)

	idx := &SQLite{db: db, path: path}
	if err := idx.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (x *SQLite) migrate(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	term_year INTEGER,
	term_month INTEGER,
	job_title TEXT,
	business_unit TEXT,
	Gender TEXT,
	main_quit_reason_text_sentiment TEXT,
	nps INTEGER,
	metadata TEXT NOT NULL,
	embedding BLOB NOT NULL
)`
	if _, err := x.db.ExecContext(ctx, stmt); err != nil {
		return goerr.Wrap(err, "failed to create documents table", goerr.V("path", x.path))
	}
	return nil
}

func (x *SQLite) Close() error {
	return x.db.Close()
}

// Exists is true when the persisted table holds documents
func (x *SQLite) Exists(ctx context.Context) (bool, error) {
	n, err := x.Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (x *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "failed to count documents")
	}
	return n, nil
}

func (x *SQLite) Reset(ctx context.Context) error {
	if _, err := x.db.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return goerr.Wrap(err, "failed to reset index")
	}
	return nil
}

// Add writes all documents in one transaction
func (x *SQLite) Add(ctx context.Context, docs []*model.Document) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO documents
(id, content, term_year, term_month, job_title, business_unit, Gender, main_quit_reason_text_sentiment, nps, metadata, embedding)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return goerr.Wrap(err, "failed to prepare insert")
	}
	defer stmt.Close()

	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			return goerr.New("document has no embedding", goerr.V("id", doc.ID))
		}
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal metadata", goerr.V("id", doc.ID))
		}

		m := doc.Metadata
		if _, err := stmt.ExecContext(ctx, doc.ID, doc.Content,
			m[model.ColumnTermYear], m[model.ColumnTermMonth], m[model.ColumnJobTitle],
			m[model.ColumnBusinessUnit], m[model.ColumnGender], m[model.ColumnSentiment], m[model.ColumnNPS],
			string(meta), vector.Encode(doc.Embedding)); err != nil {
			return goerr.Wrap(err, "failed to insert document", goerr.V("id", doc.ID))
		}
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit documents", goerr.V("count", len(docs)))
	}
	return nil
}

// Search pushes the filter down as a WHERE clause and ranks the remaining rows in memory
func (x *SQLite) Search(ctx context.Context, vec []float32, filter *model.Filter, k int) ([]*model.ScoredDocument, error) {
	where, args, err := whereClause(filter, func(field string) string { return fmt.Sprintf("%q", field) })
	if err != nil {
		return nil, err
	}

	query := "SELECT id, content, metadata, embedding FROM documents"
	if where != "" {
		query += " WHERE " + where
	}

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search documents", goerr.V("filter", filter.String()))
	}
	defer rows.Close()

	var hits []*model.ScoredDocument
	for rows.Next() {
		var (
			id, content, meta string
			blob              []byte
		)
		if err := rows.Scan(&id, &content, &meta, &blob); err != nil {
			return nil, goerr.Wrap(err, "failed to scan document")
		}

		emb, err := vector.Decode(blob)
		if err != nil {
			return nil, goerr.Wrap(err, "broken embedding", goerr.V("id", id))
		}

		doc := model.Document{ID: id, Content: content}
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			return nil, goerr.Wrap(err, "broken metadata", goerr.V("id", id))
		}

		hits = append(hits, &model.ScoredDocument{Document: doc, Score: vector.Cosine(vec, emb)})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate documents")
	}

	return topK(hits, k), nil
}
