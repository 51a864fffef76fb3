package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v3"
	"github.com/wwetzel/maven-demo-day/pkg/index"
)

func indexCommand() *cli.Command {
	var cfg config

	var flags []cli.Flag
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, cacheFlags(&cfg)...)

	return &cli.Command{
		Name:  "index",
		Usage: "Build the semantic index of quit reasons, or load it when present",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()
			if err := cfg.seedStore(ctx, repo); err != nil {
				return err
			}

			idx, err := cfg.newIndex(ctx)
			if err != nil {
				return err
			}
			defer idx.Close()

			embedder, err := cfg.newEmbedder(ctx, gemini)
			if err != nil {
				return err
			}

			sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(c.Root().ErrWriter))
			sp.Suffix = " preparing index"
			sp.Start()

			opts := []index.BuildOption{
				index.WithProgress(func(done, total int) {
					sp.Suffix = fmt.Sprintf(" embedding %d/%d", done, total)
				}),
			}
			if cfg.rebuild {
				opts = append(opts, index.WithRebuild())
			}

			result, err := index.LoadOrBuild(ctx, idx, repo, embedder, opts...)
			sp.Stop()
			if err != nil {
				return err
			}

			state := "loaded"
			if result.Built {
				state = "built"
			}
			fmt.Fprintf(c.Root().Writer, "Index %s with %d documents in %s\n",
				state, result.Documents, result.Elapsed.Round(time.Millisecond))
			return nil
		},
	}
}
