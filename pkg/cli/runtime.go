package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/wwetzel/maven-demo-day/pkg/adapter"
	"github.com/wwetzel/maven-demo-day/pkg/index"
	"github.com/wwetzel/maven-demo-day/pkg/repository"
	"github.com/wwetzel/maven-demo-day/pkg/retriever"
	"github.com/wwetzel/maven-demo-day/pkg/synth"
	"github.com/wwetzel/maven-demo-day/pkg/tool"
	"github.com/wwetzel/maven-demo-day/pkg/tool/python"
	sqltool "github.com/wwetzel/maven-demo-day/pkg/tool/sql"
	"github.com/wwetzel/maven-demo-day/pkg/tool/survey"
	"github.com/wwetzel/maven-demo-day/pkg/usecase/chat"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
)

// newRegistry returns every tool the router can use. Flags are bound before Init.
func newRegistry() *tool.Registry {
	// New only fails on a kind outside tool.Kinds
	reg, err := tool.New(sqltool.New(), survey.New(), python.New())
	if err != nil {
		panic(err)
	}
	return reg
}

// runtime holds the collaborators shared by every session of one process
type runtime struct {
	cfg *config

	gemini      *adapter.GeminiClient
	repo        repository.Repository
	index       index.Index
	embedder    *adapter.Embedder
	retriever   *retriever.Retriever
	synthesizer *synth.Synthesizer
	registry    *tool.Registry
	storage     adapter.Storage
	policy      chat.IterationPolicy
}

// setup opens every backend and makes sure the semantic index is ready
// before any question is served
func (cfg *config) setup(ctx context.Context, registry *tool.Registry) (*runtime, error) {
	policy, err := chat.ParseIterationPolicy(cfg.iterationPolicy)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, registry: registry, policy: policy}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	if rt.gemini, err = cfg.newGemini(ctx); err != nil {
		return nil, err
	}
	if rt.repo, err = cfg.newRepository(ctx); err != nil {
		return nil, err
	}
	if err := cfg.seedStore(ctx, rt.repo); err != nil {
		return nil, err
	}
	if rt.index, err = cfg.newIndex(ctx); err != nil {
		return nil, err
	}
	if rt.embedder, err = cfg.newEmbedder(ctx, rt.gemini); err != nil {
		return nil, err
	}
	if rt.storage, err = cfg.newStorage(ctx); err != nil {
		return nil, err
	}

	if _, err := rt.buildIndex(ctx); err != nil {
		return nil, err
	}

	if rt.retriever, err = retriever.New(rt.gemini, rt.embedder, rt.index); err != nil {
		return nil, err
	}
	rt.synthesizer = synth.New(rt.gemini)

	if registry != nil {
		if err := registry.Init(ctx, &tool.Client{
			Repo:        rt.repo,
			Gemini:      rt.gemini,
			Retriever:   rt.retriever,
			Synthesizer: rt.synthesizer,
		}); err != nil {
			return nil, err
		}
	}

	ok = true
	return rt, nil
}

func (rt *runtime) buildIndex(ctx context.Context) (*index.BuildResult, error) {
	var opts []index.BuildOption
	if rt.cfg.rebuild {
		opts = append(opts, index.WithRebuild())
	}
	opts = append(opts, index.WithProgress(func(done, total int) {
		if done%100 == 0 || done == total {
			logging.From(ctx).Info("embedding progress", "done", done, "total", total)
		}
	}))

	result, err := index.LoadOrBuild(ctx, rt.index, rt.repo, rt.embedder, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare semantic index")
	}
	return result, nil
}

// newSession creates a router session with the shared collaborators
func (rt *runtime) newSession(ctx context.Context) (*chat.Session, error) {
	return chat.New(ctx, chat.NewInput{
		Gemini:          rt.gemini,
		Registry:        rt.registry,
		Storage:         rt.storage,
		Model:           rt.cfg.generativeModel,
		MaxIterations:   int(rt.cfg.maxIterations),
		IterationPolicy: rt.policy,
	})
}

func (rt *runtime) Close() {
	if rt.index != nil {
		if err := rt.index.Close(); err != nil {
			logging.Default().Warn("failed to close index", "error", err)
		}
	}
	if rt.repo != nil {
		if err := rt.repo.Close(); err != nil {
			logging.Default().Warn("failed to close store", "error", err)
		}
	}
}

// sessionFlags returns every flag needed to build a runtime
func sessionFlags(cfg *config, registry *tool.Registry) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, storeFlags(cfg)...)
	flags = append(flags, indexFlags(cfg)...)
	flags = append(flags, cacheFlags(cfg)...)
	flags = append(flags, historyFlags(cfg)...)
	flags = append(flags, agentFlags(cfg)...)
	flags = append(flags, registry.Flags()...)
	return flags
}
