package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/wwetzel/maven-demo-day/pkg/cli"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx := context.Background()
	if err := cli.Run(ctx, os.Args); err != nil {
		os.Exit(err.Code)
	}
}
