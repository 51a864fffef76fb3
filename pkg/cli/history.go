package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/wwetzel/maven-demo-day/pkg/adapter"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"github.com/wwetzel/maven-demo-day/pkg/usecase/chat"
)

func historyCommand() *cli.Command {
	var cfg config

	openStorage := func(ctx context.Context) (adapter.Storage, error) {
		st, err := cfg.newStorage(ctx)
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, goerr.New("history-bucket or history-dir is required")
		}
		return st, nil
	}

	return &cli.Command{
		Name:  "history",
		Usage: "Inspect saved chat transcripts",
		Flags: historyFlags(&cfg),
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List saved session IDs",
				Action: func(ctx context.Context, c *cli.Command) error {
					st, err := openStorage(ctx)
					if err != nil {
						return err
					}
					ids, err := chat.ListHistories(ctx, st)
					if err != nil {
						return err
					}
					if len(ids) == 0 {
						fmt.Fprintln(c.Root().Writer, "No saved sessions found")
						return nil
					}
					for _, id := range ids {
						fmt.Fprintln(c.Root().Writer, id)
					}
					return nil
				},
			},
			{
				Name:      "show",
				Usage:     "Print a saved transcript",
				ArgsUsage: "<session-id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() != 1 {
						return goerr.New("session ID is required")
					}
					st, err := openStorage(ctx)
					if err != nil {
						return err
					}
					h, err := chat.LoadHistory(ctx, st, model.SessionID(c.Args().First()))
					if err != nil {
						return err
					}
					return printHistory(c, h)
				},
			},
		},
	}
}

func printHistory(c *cli.Command, h *model.History) error {
	w := c.Root().Writer
	fmt.Fprintf(w, "Session: %s\nModel: %s\nCreated: %s\nUpdated: %s\n\n",
		h.ID, h.Settings.Model,
		h.CreatedAt.Format("2006-01-02 15:04:05"),
		h.UpdatedAt.Format("2006-01-02 15:04:05"))

	for _, content := range h.Contents {
		for _, p := range content.Parts {
			switch {
			case p.Text != "":
				fmt.Fprintf(w, "[%s] %s\n", content.Role, p.Text)
			case p.FunctionCall != nil:
				args, err := json.Marshal(p.FunctionCall.Args)
				if err != nil {
					return goerr.Wrap(err, "failed to marshal function call")
				}
				fmt.Fprintf(w, "[%s] call %s %s\n", content.Role, p.FunctionCall.Name, args)
			case p.FunctionResponse != nil:
				resp, err := json.Marshal(p.FunctionResponse.Response)
				if err != nil {
					return goerr.Wrap(err, "failed to marshal function response")
				}
				fmt.Fprintf(w, "[%s] result %s %s\n", content.Role, p.FunctionResponse.Name, resp)
			}
		}
	}
	return nil
}
