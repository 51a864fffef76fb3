package cli

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	var logLevel, logFormat string

	cmd := &cli.Command{
		Name:  "exitbot",
		Usage: "Conversational assistant for HR exit survey analysis",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "Log level (debug, info, warn, error)",
				Value:       "info",
				Sources:     cli.EnvVars("EXITBOT_LOG_LEVEL"),
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console, json)",
				Value:       string(logging.FormatConsole),
				Sources:     cli.EnvVars("EXITBOT_LOG_FORMAT"),
				Destination: &logFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			level, err := logging.ParseLevel(logLevel)
			if err != nil {
				return ctx, err
			}
			format, err := logging.ParseFormat(logFormat)
			if err != nil {
				return ctx, err
			}
			// stdout is reserved for answers and the MCP stdio transport
			logger := logging.New(os.Stderr, logging.WithLevel(level), logging.WithFormat(format))
			logging.SetDefault(logger)
			return logging.With(ctx, logger), nil
		},
		Commands: []*cli.Command{
			loadCommand(),
			indexCommand(),
			searchCommand(),
			askCommand(),
			chatCommand(),
			serveCommand(),
			mcpCommand(),
			historyCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.From(ctx).Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
