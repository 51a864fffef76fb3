package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/wwetzel/maven-demo-day/pkg/usecase/chat"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
)

func chatCommand() *cli.Command {
	var (
		cfg         config
		historyFile string
	)
	registry := newRegistry()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "readline-history",
			Usage:       "File keeping the input history of the terminal chat",
			Sources:     cli.EnvVars("EXITBOT_READLINE_HISTORY"),
			Destination: &historyFile,
		},
	}
	flags = append(flags, sessionFlags(&cfg, registry)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive questions about the exit survey",
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

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			w := c.Root().Writer
			fmt.Fprintf(w, "Chat session %s started. Type 'exit' to quit.\n", session.ID())

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				message := strings.TrimSpace(line)
				if message == "exit" || message == "quit" {
					break
				}
				if message == "" {
					continue
				}

				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(c.Root().ErrWriter))
				sp.Suffix = " thinking..."
				sp.Start()
				reply, err := session.Send(ctx, message)
				sp.Stop()

				if err != nil {
					logging.From(ctx).Error("failed to answer message", "error", err)
					fmt.Fprintf(w, "%s\n\n", chat.ApologyMessage)
					continue
				}
				fmt.Fprintf(w, "%s\n\n", reply.Text)
			}

			fmt.Fprintf(w, "\nChat session completed\n")
			return nil
		},
	}
}
