package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"github.com/wwetzel/maven-demo-day/pkg/synth"
)

func searchCommand() *cli.Command {
	var (
		cfg   config
		query string
		limit int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Question about why employees left",
			Sources:     cli.EnvVars("EXITBOT_SEARCH_QUERY"),
			Destination: &query,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of survey responses to use (0 lets the planner decide)",
			Sources:     cli.EnvVars("EXITBOT_SEARCH_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, cacheFlags(&cfg)...)
	flags = append(flags, agentFlags(&cfg)...)

	return &cli.Command{
		Name:  "search",
		Usage: "Answer a question from the free-text survey responses only",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := cfg.setup(ctx, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.retriever.Retrieve(ctx, query, int(limit))
			if err != nil {
				return err
			}
			answer, err := rt.synthesizer.Answer(ctx, query, result.Documents)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "Filter: %s", result.Filter.String())
			if result.Fallback {
				fmt.Fprint(w, " (fallback to unfiltered search)")
			}
			fmt.Fprintf(w, "\nMatched: %d\n\n%s\n\n", len(result.Documents), answer.Text)
			fmt.Fprint(w, synth.FormatSources(answer.Sources))
			return nil
		},
	}
}
