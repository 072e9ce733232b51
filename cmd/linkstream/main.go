// Command linkstream counts link inserts and removals from the table's stream.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/linkstore/internal/config"
	"github.com/jacentio/linkstore/internal/logging"
	"github.com/jacentio/linkstore/link"
	"github.com/jacentio/linkstore/store"
	"github.com/jacentio/linkstore/stream"
)

func main() {
	h, err := newHandler(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "linkstream: %v\n", err)
		os.Exit(1)
	}
	lambda.Start(h.HandleChanges)
}

func newHandler(ctx context.Context) (*stream.Handler, error) {
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

	registry := store.NewRegistry()
	if err := link.Register(registry); err != nil {
		return nil, err
	}
	s := store.New(client, cfg.Store())
	s.SetLogger(logger)
	return stream.NewHandler(s, registry, cfg.Environment, logger), nil
}
