package cli

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/wwetzel/maven-demo-day/pkg/adapter"
	"github.com/wwetzel/maven-demo-day/pkg/index"
	"github.com/wwetzel/maven-demo-day/pkg/repository"
	"github.com/wwetzel/maven-demo-day/pkg/usecase/chat"
	"github.com/wwetzel/maven-demo-day/pkg/usecase/dataset"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
)

// config holds configuration values
type config struct {
	// Gemini
	geminiProject   string
	geminiLocation  string
	geminiAPIKey    string
	geminiRetries   int64
	generativeModel string
	embeddingModel  string
	embeddingDim    int64

	// Structured data store
	storeBackend     string
	dbPath           string
	bigqueryProject  string
	bigqueryDataset  string
	bigqueryLocation string
	scanLimitMB      int64

	// Dataset seeding the store
	dataPath   string
	dataSheet  string
	dataStrict bool

	// Semantic index
	indexBackend      string
	indexPath         string
	firestoreProject  string
	firestoreDatabase string
	pgvectorDSN       string
	rebuild           bool

	// Embedding cache
	cacheBackend  string
	redisAddr     string
	redisPassword string
	redisDB       int64
	cacheTTL      time.Duration

	// Transcript persistence
	historyBucket string
	historyDir    string

	// Router
	maxIterations   int64
	iterationPolicy string
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("EXITBOT_GEMINI_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("EXITBOT_GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini Developer API key, used instead of Vertex AI when set",
			Sources:     cli.EnvVars("EXITBOT_GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.IntFlag{
			Name:        "gemini-retries",
			Usage:       "Extra retries for rate limited or unavailable Gemini calls (0 leaves retrying to the client library)",
			Value:       adapter.DefaultMaxRetries,
			Sources:     cli.EnvVars("EXITBOT_GEMINI_RETRIES"),
			Destination: &cfg.geminiRetries,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Generative model used by the router, planner and synthesizer",
			Value:       adapter.DefaultGenerativeModel,
			Sources:     cli.EnvVars("EXITBOT_GEMINI_MODEL"),
			Destination: &cfg.generativeModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model",
			Value:       adapter.DefaultEmbeddingModel,
			Sources:     cli.EnvVars("EXITBOT_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "embedding-dim",
			Usage:       "Embedding dimensionality",
			Value:       adapter.DefaultEmbeddingDimension,
			Sources:     cli.EnvVars("EXITBOT_EMBEDDING_DIM"),
			Destination: &cfg.embeddingDim,
		},
	}
}

// storeFlags returns flags selecting the structured data store
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "store",
			Usage:       "Structured data store backend (sqlite, bigquery)",
			Value:       "sqlite",
			Sources:     cli.EnvVars("EXITBOT_STORE"),
			Destination: &cfg.storeBackend,
		},
		&cli.StringFlag{
			Name:        "db-path",
			Usage:       "SQLite database file",
			Value:       "hr_database.db",
			Sources:     cli.EnvVars("EXITBOT_DB_PATH"),
			Destination: &cfg.dbPath,
		},
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project ID for BigQuery",
			Sources:     cli.EnvVars("EXITBOT_BIGQUERY_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.bigqueryProject,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset holding the exit_survey table",
			Sources:     cli.EnvVars("EXITBOT_BIGQUERY_DATASET"),
			Destination: &cfg.bigqueryDataset,
		},
		&cli.StringFlag{
			Name:        "bigquery-location",
			Usage:       "BigQuery job location, e.g. US",
			Sources:     cli.EnvVars("EXITBOT_BIGQUERY_LOCATION"),
			Destination: &cfg.bigqueryLocation,
		},
		&cli.IntFlag{
			Name:        "bigquery-scan-limit-mb",
			Usage:       "Reject BigQuery queries scanning more than this many MB",
			Value:       1024,
			Sources:     cli.EnvVars("EXITBOT_BIGQUERY_SCAN_LIMIT_MB"),
			Destination: &cfg.scanLimitMB,
		},
		&cli.StringFlag{
			Name:        "data-fp",
			Aliases:     []string{"f"},
			Usage:       "Dataset file (.xlsx or .csv), local path or gs://bucket/key. Loaded at startup when the store is empty; empty disables it",
			Value:       dataset.DefaultPath,
			Sources:     cli.EnvVars("DATA_FP", "EXITBOT_DATA_FP"),
			Destination: &cfg.dataPath,
		},
		&cli.StringFlag{
			Name:        "sheet",
			Usage:       "Worksheet to read from an xlsx file (first sheet by default)",
			Sources:     cli.EnvVars("EXITBOT_DATA_SHEET"),
			Destination: &cfg.dataSheet,
		},
		&cli.BoolFlag{
			Name:        "strict",
			Usage:       "Fail on the first invalid row instead of skipping it",
			Sources:     cli.EnvVars("EXITBOT_DATA_STRICT"),
			Destination: &cfg.dataStrict,
		},
	}
}

func (cfg *config) newLoader() *dataset.Loader {
	return dataset.New(dataset.WithStrict(cfg.dataStrict), dataset.WithSheet(cfg.dataSheet))
}

// seedStore imports the dataset when the store holds no records yet
func (cfg *config) seedStore(ctx context.Context, repo repository.Repository) error {
	if err := repo.Migrate(ctx); err != nil {
		return goerr.Wrap(err, "failed to migrate store")
	}
	n, err := repo.CountRecords(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to count survey records")
	}
	if n > 0 || cfg.dataPath == "" {
		return nil
	}

	logging.From(ctx).Info("store is empty, loading dataset", "path", cfg.dataPath)
	records, report, err := cfg.newLoader().Load(ctx, cfg.dataPath)
	if err != nil {
		return goerr.Wrap(err, "failed to load dataset into empty store", goerr.V("path", cfg.dataPath))
	}
	if err := dataset.Import(ctx, repo, records); err != nil {
		return err
	}
	logging.From(ctx).Info("dataset loaded", "rows", report.Rows, "loaded", report.Loaded, "skipped", report.Skipped)
	return nil
}

// indexFlags returns flags selecting the semantic index
func indexFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "index-backend",
			Usage:       "Semantic index backend (sqlite, firestore, pgvector)",
			Value:       "sqlite",
			Sources:     cli.EnvVars("EXITBOT_INDEX_BACKEND"),
			Destination: &cfg.indexBackend,
		},
		&cli.StringFlag{
			Name:        "index-path",
			Usage:       "Index file for the sqlite backend",
			Value:       "./survey_index.db",
			Sources:     cli.EnvVars("EXITBOT_INDEX_PATH"),
			Destination: &cfg.indexPath,
		},
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID for Firestore",
			Sources:     cli.EnvVars("EXITBOT_FIRESTORE_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("EXITBOT_FIRESTORE_DATABASE"),
			Destination: &cfg.firestoreDatabase,
		},
		&cli.StringFlag{
			Name:        "pgvector-dsn",
			Usage:       "PostgreSQL DSN for the pgvector backend",
			Sources:     cli.EnvVars("EXITBOT_PGVECTOR_DSN"),
			Destination: &cfg.pgvectorDSN,
		},
		&cli.BoolFlag{
			Name:        "rebuild",
			Usage:       "Drop the index and embed every record again",
			Sources:     cli.EnvVars("EXITBOT_REBUILD"),
			Destination: &cfg.rebuild,
		},
	}
}

// cacheFlags returns flags for the embedding cache
func cacheFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "cache",
			Usage:       "Embedding cache backend (none, memory, redis)",
			Value:       "memory",
			Sources:     cli.EnvVars("EXITBOT_CACHE"),
			Destination: &cfg.cacheBackend,
		},
		&cli.StringFlag{
			Name:        "redis-addr",
			Usage:       "Redis address for the redis cache",
			Value:       "localhost:6379",
			Sources:     cli.EnvVars("EXITBOT_REDIS_ADDR"),
			Destination: &cfg.redisAddr,
		},
		&cli.StringFlag{
			Name:        "redis-password",
			Usage:       "Redis password",
			Sources:     cli.EnvVars("EXITBOT_REDIS_PASSWORD"),
			Destination: &cfg.redisPassword,
		},
		&cli.IntFlag{
			Name:        "redis-db",
			Usage:       "Redis database number",
			Sources:     cli.EnvVars("EXITBOT_REDIS_DB"),
			Destination: &cfg.redisDB,
		},
		&cli.DurationFlag{
			Name:        "cache-ttl",
			Usage:       "Lifetime of cached embeddings",
			Value:       24 * time.Hour,
			Sources:     cli.EnvVars("EXITBOT_CACHE_TTL"),
			Destination: &cfg.cacheTTL,
		},
	}
}

// historyFlags returns flags for transcript persistence
func historyFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "history-bucket",
			Usage:       "Cloud Storage bucket for session transcripts",
			Sources:     cli.EnvVars("EXITBOT_HISTORY_BUCKET"),
			Destination: &cfg.historyBucket,
		},
		&cli.StringFlag{
			Name:        "history-dir",
			Usage:       "Local directory for session transcripts, used when no bucket is set",
			Sources:     cli.EnvVars("EXITBOT_HISTORY_DIR"),
			Destination: &cfg.historyDir,
		},
	}
}

// agentFlags returns flags for the tool router
func agentFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "max-iterations",
			Usage:       "Maximum router decisions per question (1 to 10)",
			Value:       chat.MaxIterations,
			Sources:     cli.EnvVars("EXITBOT_MAX_ITERATIONS"),
			Destination: &cfg.maxIterations,
		},
		&cli.StringFlag{
			Name:        "iteration-policy",
			Usage:       "What to do when the iteration limit is reached (generate, force, error)",
			Value:       string(chat.IterationPolicyGenerate),
			Sources:     cli.EnvVars("EXITBOT_ITERATION_POLICY"),
			Destination: &cfg.iterationPolicy,
		},
	}
}

// newGemini creates a new Gemini adapter instance. An API key selects the
// Developer API, otherwise Vertex AI is used.
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	opts := []adapter.GeminiOption{
		adapter.WithGenerativeModel(cfg.generativeModel),
		adapter.WithEmbeddingModel(cfg.embeddingModel),
		adapter.WithRetry(int(cfg.geminiRetries), time.Second),
	}
	if cfg.geminiAPIKey != "" {
		return adapter.NewGeminiWithAPIKey(ctx, cfg.geminiAPIKey, opts...)
	}

	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project or gemini-api-key is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

// newRepository opens the structured data store
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	switch cfg.storeBackend {
	case "sqlite", "":
		repo, err := repository.NewSQLite(cfg.dbPath)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open sqlite store")
		}
		return repo, nil

	case "bigquery":
		if cfg.bigqueryProject == "" || cfg.bigqueryDataset == "" {
			return nil, goerr.New("bigquery-project and bigquery-dataset are required")
		}
		bq, err := adapter.NewBigQuery(ctx, cfg.bigqueryProject,
			adapter.WithLocation(cfg.bigqueryLocation),
			adapter.WithMaxBytesBilled(cfg.scanLimitMB*1024*1024),
		)
		if err != nil {
			return nil, err
		}
		return repository.NewBigQuery(bq, cfg.bigqueryDataset, repository.WithScanLimitMB(cfg.scanLimitMB)), nil

	default:
		return nil, goerr.New("unknown store backend", goerr.V("store", cfg.storeBackend))
	}
}

// newIndex opens the semantic index
func (cfg *config) newIndex(ctx context.Context) (index.Index, error) {
	switch cfg.indexBackend {
	case "sqlite", "":
		return index.NewSQLite(ctx, cfg.indexPath)

	case "firestore":
		if cfg.firestoreProject == "" {
			return nil, goerr.New("firestore-project is required")
		}
		return index.NewFirestore(ctx, cfg.firestoreProject, cfg.firestoreDatabase)

	case "pgvector":
		if cfg.pgvectorDSN == "" {
			return nil, goerr.New("pgvector-dsn is required")
		}
		return index.NewPGVector(ctx, cfg.pgvectorDSN)

	default:
		return nil, goerr.New("unknown index backend", goerr.V("backend", cfg.indexBackend))
	}
}

// newEmbedder wraps the Gemini client with the configured cache
func (cfg *config) newEmbedder(ctx context.Context, gemini adapter.Gemini) (*adapter.Embedder, error) {
	opts := []adapter.EmbedderOption{
		adapter.WithEmbeddingDimension(int(cfg.embeddingDim)),
		adapter.WithCacheNamespace(cfg.embeddingModel),
	}

	switch cfg.cacheBackend {
	case "none", "":
	case "memory":
		opts = append(opts, adapter.WithEmbeddingCache(adapter.NewMemoryCache(cfg.cacheTTL)))
	case "redis":
		cache, err := adapter.NewRedisCache(ctx, cfg.redisAddr, cfg.redisPassword, int(cfg.redisDB), cfg.cacheTTL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, adapter.WithEmbeddingCache(cache))
	default:
		return nil, goerr.New("unknown cache backend", goerr.V("cache", cfg.cacheBackend))
	}

	return adapter.NewEmbedder(gemini, opts...), nil
}

// newStorage returns transcript storage, or nil when persistence is off
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	switch {
	case cfg.historyBucket != "":
		storage, err := adapter.NewStorage(ctx, cfg.historyBucket)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return storage, nil
	case cfg.historyDir != "":
		return adapter.NewFileStorage(cfg.historyDir)
	default:
		logging.From(ctx).Debug("transcript persistence disabled")
		return nil, nil
	}
}
