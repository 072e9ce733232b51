// Command linkapi serves the link API behind API Gateway.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/linkstore/internal/api"
	"github.com/jacentio/linkstore/internal/config"
	"github.com/jacentio/linkstore/internal/logging"
	"github.com/jacentio/linkstore/link"
	"github.com/jacentio/linkstore/store"
)

func main() {
	h, err := newHandler(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "linkapi: %v\n", err)
		os.Exit(1)
	}
	lambda.Start(h.Handle)
}

func newHandler(ctx context.Context) (*api.Handler, error) {
	cfg, err := config.Load(os.Getenv(config.PathEnv))
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(os.Stdout, cfg.Logging())
	if err != nil {
		return nil, err
	}
	client, err := cfg.DynamoDB(ctx)
	if err != nil {
		return nil, err
	}

	s := store.New(client, cfg.Store())
	s.SetLogger(logger)
	return api.NewHandler(link.NewRepository(s), cfg.Environment, logger), nil
}
