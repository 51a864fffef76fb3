package python_test

import (
	"context"

	"github.com/urfave/cli/v3"
	"github.com/wwetzel/maven-demo-day/pkg/tool/python"
)

func runFlags(pt *python.Tool, args []string) error {
	cmd := &cli.Command{
		Name:   "test",
		Flags:  pt.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error { return nil },
	}
	return cmd.Run(context.Background(), append([]string{"test"}, args...))
}
