package index

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pgvector/pgvector-go"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// pgDocument is the row layout of the pgvector index
type pgDocument struct {
	ID           string          `gorm:"primaryKey"`
	Content      string          `gorm:"not null"`
	TermYear     int             `gorm:"column:term_year;index"`
	TermMonth    int             `gorm:"column:term_month"`
	JobTitle     string          `gorm:"column:job_title;index"`
	BusinessUnit string          `gorm:"column:business_unit;index"`
	Gender       string          `gorm:"column:gender"`
	Sentiment    string          `gorm:"column:main_quit_reason_text_sentiment"`
	NPS          int             `gorm:"column:nps"`
	Metadata     string          `gorm:"type:jsonb;not null"`
	Embedding    pgvector.Vector `gorm:"type:vector;not null"`
	CreatedAt    time.Time
}

func (pgDocument) TableName() string {
	return "survey_documents"
}

// PGVector stores documents in PostgreSQL and ranks them with the pgvector cosine operator
type PGVector struct {
	db *gorm.DB
}

func NewPGVector(ctx context.Context, dsn string) (*PGVector, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect postgres")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get sql.DB")
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, goerr.Wrap(err, "failed to enable pgvector extension")
	}
	if err := db.WithContext(ctx).AutoMigrate(&pgDocument{}); err != nil {
		return nil, goerr.Wrap(err, "failed to migrate survey_documents")
	}

	return &PGVector{db: db}, nil
}

func (x *PGVector) Close() error {
	sqlDB, err := x.db.DB()
	if err != nil {
		return goerr.Wrap(err, "failed to get sql.DB")
	}
	return sqlDB.Close()
}

func (x *PGVector) Exists(ctx context.Context) (bool, error) {
	n, err := x.Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (x *PGVector) Count(ctx context.Context) (int, error) {
	var n int64
	if err := x.db.WithContext(ctx).Model(&pgDocument{}).Count(&n).Error; err != nil {
		return 0, goerr.Wrap(err, "failed to count documents")
	}
	return int(n), nil
}

func (x *PGVector) Reset(ctx context.Context) error {
	if err := x.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&pgDocument{}).Error; err != nil {
		return goerr.Wrap(err, "failed to reset index")
	}
	return nil
}

func (x *PGVector) Add(ctx context.Context, docs []*model.Document) error {
	rows := make([]*pgDocument, 0, len(docs))
	for _, doc := range docs {
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal metadata", goerr.V("id", doc.ID))
		}

		row := &pgDocument{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  string(meta),
			Embedding: pgvector.NewVector(doc.Embedding),
		}
		row.TermYear, _ = model.ToInt(doc.Metadata[model.ColumnTermYear])
		row.TermMonth, _ = model.ToInt(doc.Metadata[model.ColumnTermMonth])
		row.NPS, _ = model.ToInt(doc.Metadata[model.ColumnNPS])
		row.JobTitle, _ = doc.Metadata[model.ColumnJobTitle].(string)
		row.BusinessUnit, _ = doc.Metadata[model.ColumnBusinessUnit].(string)
		row.Gender, _ = doc.Metadata[model.ColumnGender].(string)
		row.Sentiment, _ = doc.Metadata[model.ColumnSentiment].(string)
		rows = append(rows, row)
	}

	err := x.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(rows, 200).Error
	if err != nil {
		return goerr.Wrap(err, "failed to insert documents", goerr.V("count", len(rows)))
	}
	return nil
}

func (x *PGVector) Search(ctx context.Context, vec []float32, filter *model.Filter, k int) ([]*model.ScoredDocument, error) {
	where, args, err := whereClause(filter, func(field string) string {
		// postgres folds unquoted identifiers to lower case
		return strings.ToLower(field)
	})
	if err != nil {
		return nil, err
	}

	type result struct {
		pgDocument
		Similarity float64
	}
	var results []result

	queryVector := pgvector.NewVector(vec)
	q := x.db.WithContext(ctx).
		Model(&pgDocument{}).
		Select("id, content, metadata, 1 - (embedding <=> ?) AS similarity", queryVector)
	if where != "" {
		q = q.Where(where, args...)
	}

	err = q.Order(gorm.Expr("embedding <=> ?", queryVector)).
		Limit(k).
		Scan(&results).Error
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search documents", goerr.V("filter", filter.String()))
	}

	hits := make([]*model.ScoredDocument, 0, len(results))
	for _, r := range results {
		doc := model.Document{ID: r.ID, Content: r.Content}
		if err := json.Unmarshal([]byte(r.Metadata), &doc.Metadata); err != nil {
			return nil, goerr.Wrap(err, "broken metadata", goerr.V("id", r.ID))
		}
		hits = append(hits, &model.ScoredDocument{Document: doc, Score: r.Similarity})
	}

	return topK(hits, k), nil
}
