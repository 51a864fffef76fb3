package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func askCommand() *cli.Command {
	var (
		cfg       config
		question  string
		showTrace bool
	)
	registry := newRegistry()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "question",
			Aliases:     []string{"q"},
			Usage:       "Question to answer",
			Sources:     cli.EnvVars("EXITBOT_QUESTION"),
			Destination: &question,
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "trace",
			Usage:       "Print the tool calls made to answer the question",
			Sources:     cli.EnvVars("EXITBOT_TRACE"),
			Destination: &showTrace,
		},
	}
	flags = append(flags, sessionFlags(&cfg, registry)...)

	return &cli.Command{
		Name:  "ask",
		Usage: "Answer a single question",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := cfg.setup(ctx, registry)
			if err != nil {
				return err
			}
			defer rt.Close()

			session, err := rt.newSession(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to create chat session")
			}

			reply, err := session.Send(ctx, question)
			if err != nil {
				return goerr.Wrap(err, "failed to answer question")
			}

			fmt.Fprintln(c.Root().Writer, reply.Text)
			if showTrace {
				raw, err := json.MarshalIndent(reply.Invocation, "", "  ")
				if err != nil {
					return goerr.Wrap(err, "failed to marshal invocation")
				}
				fmt.Fprintf(c.Root().ErrWriter, "%s\n", raw)
			}
			return nil
		},
	}
}
