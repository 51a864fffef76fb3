package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"github.com/wwetzel/maven-demo-day/pkg/service/mcp"
)

func mcpCommand() *cli.Command {
	var (
		cfg        config
		transport  string
		addr       string
		maxSources int64
	)
	registry := newRegistry()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "transport",
			Usage:       "MCP transport (stdio, http)",
			Value:       mcp.TransportStdio,
			Sources:     cli.EnvVars("EXITBOT_MCP_TRANSPORT"),
			Destination: &transport,
		},
		&cli.StringFlag{
			Name:        "mcp-addr",
			Usage:       "Listen address for the http transport",
			Value:       ":8090",
			Sources:     cli.EnvVars("EXITBOT_MCP_ADDR"),
			Destination: &addr,
		},
		&cli.IntFlag{
			Name:        "mcp-max-sources",
			Usage:       "Maximum number of sources returned by search_survey",
			Value:       10,
			Sources:     cli.EnvVars("EXITBOT_MCP_MAX_SOURCES"),
			Destination: &maxSources,
		},
	}
	flags = append(flags, sessionFlags(&cfg, registry)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the assistant as an MCP server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := cfg.setup(ctx, registry)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := mcp.NewServer(mcp.ServerInput{
				NewSession: func(ctx context.Context) (mcp.Session, error) {
					return rt.newSession(ctx)
				},
				Retriever:   rt.retriever,
				Synthesizer: rt.synthesizer,
				MaxSources:  int(maxSources),
				Version:     c.Root().Version,
			})
			if err != nil {
				return err
			}
			return srv.Run(ctx, transport, addr)
		},
	}
}
