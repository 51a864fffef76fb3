package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/urfave/cli/v3"
)

func parse(t *testing.T, flags []cli.Flag, args ...string) {
	t.Helper()
	cmd := &cli.Command{
		Name:   "test",
		Flags:  flags,
		Action: func(ctx context.Context, c *cli.Command) error { return nil },
	}
	gt.NoError(t, cmd.Run(context.Background(), append([]string{"test"}, args...)))
}

func TestConfigDefaults(t *testing.T) {
	var cfg config
	registry := newRegistry()
	parse(t, sessionFlags(&cfg, registry))

	gt.Equal(t, cfg.storeBackend, "sqlite")
	gt.Equal(t, cfg.dbPath, "hr_database.db")
	gt.Equal(t, cfg.dataPath, "maven_final_synthetic_data.xlsx")
	gt.Equal(t, cfg.indexBackend, "sqlite")
	gt.Equal(t, cfg.indexPath, "./survey_index.db")
	gt.Equal(t, cfg.embeddingDim, int64(768))
	gt.Equal(t, cfg.maxIterations, int64(10))
	gt.Equal(t, cfg.iterationPolicy, "generate")
	gt.Equal(t, cfg.cacheBackend, "memory")
}

func TestConfigBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	var cfg config
	parse(t, sessionFlags(&cfg, newRegistry()),
		"--db-path", filepath.Join(dir, "hr.db"),
		"--index-path", filepath.Join(dir, "index.db"),
		"--history-dir", filepath.Join(dir, "histories"),
	)

	repo, err := cfg.newRepository(ctx)
	gt.NoError(t, err)
	gt.Equal(t, repo.Dialect(), "sqlite")
	gt.NoError(t, repo.Close())

	idx, err := cfg.newIndex(ctx)
	gt.NoError(t, err)
	gt.NoError(t, idx.Close())

	st, err := cfg.newStorage(ctx)
	gt.NoError(t, err)
	gt.NotNil(t, st)

	cfg.storeBackend = "oracle"
	_, err = cfg.newRepository(ctx)
	gt.Error(t, err)

	cfg.indexBackend = "pgvector"
	_, err = cfg.newIndex(ctx)
	gt.Error(t, err)

	cfg.cacheBackend = "memcached"
	_, err = cfg.newEmbedder(ctx, nil)
	gt.Error(t, err)

	cfg.historyDir = ""
	st, err = cfg.newStorage(ctx)
	gt.NoError(t, err)
	gt.Nil(t, st)

	cfg.geminiProject = ""
	cfg.geminiAPIKey = ""
	_, err = cfg.newGemini(ctx)
	gt.Error(t, err)
}

func TestSeedStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	data := filepath.Join(dir, "survey.csv")
	gt.NoError(t, os.WriteFile(data, []byte(`term_year,term_month,job_title,business_unit,Gender,main_quit_reason_text,main_quit_reason_text_sentiment,nps
2022,3,design engineer,business unit A,female,Commute was over an hour each way,Negative,4
2023,11,superintendent 1,business unit C,male,Better offer,Positive,8
`), 0o644))

	var cfg config
	parse(t, storeFlags(&cfg), "--db-path", filepath.Join(dir, "hr.db"), "--data-fp", data)

	repo, err := cfg.newRepository(ctx)
	gt.NoError(t, err)
	defer repo.Close()

	t.Run("empty store is loaded from the dataset", func(t *testing.T) {
		gt.NoError(t, cfg.seedStore(ctx, repo))
		n, err := repo.CountRecords(ctx)
		gt.NoError(t, err)
		gt.Equal(t, n, 2)
	})

	t.Run("populated store is left alone", func(t *testing.T) {
		cfg.dataPath = filepath.Join(dir, "missing.csv")
		gt.NoError(t, cfg.seedStore(ctx, repo))
		n, err := repo.CountRecords(ctx)
		gt.NoError(t, err)
		gt.Equal(t, n, 2)
	})

	t.Run("missing dataset fails on empty store", func(t *testing.T) {
		var empty config
		parse(t, storeFlags(&empty), "--db-path", filepath.Join(dir, "empty.db"), "--data-fp", filepath.Join(dir, "missing.csv"))
		repo, err := empty.newRepository(ctx)
		gt.NoError(t, err)
		defer repo.Close()
		gt.Error(t, empty.seedStore(ctx, repo))

		empty.dataPath = ""
		gt.NoError(t, empty.seedStore(ctx, repo))
	})
}
