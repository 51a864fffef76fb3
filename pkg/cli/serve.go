package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"github.com/wwetzel/maven-demo-day/pkg/server"
)

func serveCommand() *cli.Command {
	var (
		cfg  config
		addr string
	)
	registry := newRegistry()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address of the chat server",
			Value:       ":8080",
			Sources:     cli.EnvVars("EXITBOT_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, sessionFlags(&cfg, registry)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the chat over WebSocket and HTTP",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := cfg.setup(ctx, registry)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := server.New(ctx, func(ctx context.Context) (server.Session, error) {
				return rt.newSession(ctx)
			})
			return srv.Listen(ctx, addr)
		},
	}
}
