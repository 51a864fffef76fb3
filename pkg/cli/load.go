package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"github.com/wwetzel/maven-demo-day/pkg/usecase/dataset"
)

func loadCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "load",
		Usage: "Load the exit survey dataset into the structured data store",
		Flags: storeFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			records, report, err := cfg.newLoader().Load(ctx, cfg.dataPath)
			if err != nil {
				return err
			}

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := dataset.Import(ctx, repo, records); err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Loaded %d of %d rows from %s (%d skipped)\n",
				report.Loaded, report.Rows, cfg.dataPath, report.Skipped)
			return nil
		},
	}
}
