package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"github.com/wwetzel/maven-demo-day/pkg/repository"
)

func sampleRecords() []*model.SurveyRecord {
	return []*model.SurveyRecord{
		{ID: model.NewRecordID(1), TermYear: 2023, TermMonth: 1, JobTitle: "design engineer", BusinessUnit: "business unit A", Gender: "female", QuitReason: "No growth path", Sentiment: "Negative", NPS: 3},
		{ID: model.NewRecordID(2), TermYear: 2023, TermMonth: 5, JobTitle: "field engineer 1", BusinessUnit: "business unit A", Gender: "male", QuitReason: "Relocated", Sentiment: "Neutral", NPS: 6},
		{ID: model.NewRecordID(3), TermYear: 2022, TermMonth: 7, JobTitle: "project manager 1", BusinessUnit: "business unit B", Gender: "female", QuitReason: "Better offer elsewhere", Sentiment: "Positive", NPS: 8},
	}
}

func newTestSQLite(t *testing.T) *repository.SQLite {
	t.Helper()
	repo, err := repository.NewSQLite(filepath.Join(t.TempDir(), "hr.db"))
	gt.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ctx := context.Background()
	gt.NoError(t, repo.Migrate(ctx))
	gt.NoError(t, repo.PutRecords(ctx, sampleRecords()))
	return repo
}

func TestSQLiteRecords(t *testing.T) {
	repo := newTestSQLite(t)
	ctx := context.Background()

	n, err := repo.CountRecords(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 3)

	records, err := repo.ListRecords(ctx)
	gt.NoError(t, err)
	gt.A(t, records).Length(3)
	gt.Equal(t, records[0], sampleRecords()[0])

	// Same IDs replace existing rows
	gt.NoError(t, repo.PutRecords(ctx, sampleRecords()))
	n, err = repo.CountRecords(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 3)
}

func TestSQLiteQuery(t *testing.T) {
	repo := newTestSQLite(t)
	ctx := context.Background()

	t.Run("aggregate", func(t *testing.T) {
		rows, err := repo.Query(ctx, "SELECT COUNT(*) AS n FROM exit_survey WHERE business_unit = 'business unit A' AND term_year = 2023")
		gt.NoError(t, err)
		gt.A(t, rows).Length(1)
		n, ok := model.ToInt(rows[0]["n"])
		gt.True(t, ok)
		gt.Equal(t, n, 2)
	})

	t.Run("text columns are strings", func(t *testing.T) {
		rows, err := repo.Query(ctx, "SELECT job_title FROM exit_survey WHERE id = 'rec-00003'")
		gt.NoError(t, err)
		gt.A(t, rows).Length(1)
		gt.Equal(t, rows[0]["job_title"], any("project manager 1"))
	})

	t.Run("writes are rejected", func(t *testing.T) {
		_, err := repo.Query(ctx, "DELETE FROM exit_survey")
		gt.Error(t, err)

		n, err := repo.CountRecords(ctx)
		gt.NoError(t, err)
		gt.Equal(t, n, 3)
	})

	t.Run("unknown column", func(t *testing.T) {
		_, err := repo.Query(ctx, "SELECT salary FROM exit_survey")
		gt.Error(t, err)
	})
}

func TestSQLiteCheck(t *testing.T) {
	repo := newTestSQLite(t)
	ctx := context.Background()

	gt.NoError(t, repo.Check(ctx, "SELECT AVG(nps) FROM exit_survey"))
	gt.Error(t, repo.Check(ctx, "SELECT AVG(salary) FROM exit_survey"))
	gt.Error(t, repo.Check(ctx, "SELEC nps FROM exit_survey"))
	gt.Error(t, repo.Check(ctx, "SELECT * FROM employees"))
}

func TestSQLiteSchema(t *testing.T) {
	repo := newTestSQLite(t)
	ctx := context.Background()

	tables, err := repo.Tables(ctx)
	gt.NoError(t, err)
	gt.Equal(t, tables, []string{"exit_survey"})

	schema, err := repo.Schema(ctx, "exit_survey")
	gt.NoError(t, err)
	gt.A(t, schema.Columns).Length(len(model.SurveyColumns))
	gt.A(t, schema.SampleRows).Length(3)
	gt.Equal(t, schema.Columns[1].Name, "term_year")
	gt.Equal(t, schema.Columns[1].Type, "INTEGER")

	_, err = repo.Schema(ctx, "employees")
	gt.True(t, errors.Is(err, repository.ErrTableNotFound))
}

func TestSQLiteInMemory(t *testing.T) {
	repo, err := repository.NewSQLite(":memory:")
	gt.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	gt.NoError(t, repo.Migrate(ctx))
	gt.NoError(t, repo.PutRecords(ctx, sampleRecords()))

	rows, err := repo.Query(ctx, "SELECT id FROM exit_survey ORDER BY id")
	gt.NoError(t, err)
	gt.A(t, rows).Length(3)
}
