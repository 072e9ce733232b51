// Package stream provides DynamoDB Streams handlers for stored entities.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/linkstore/store"
)

// Handler counts inserted and removed items per table from a change feed.
type Handler struct {
	store    *store.Store
	registry *store.Registry
	env      string
	logger   *slog.Logger
}

// NewHandler creates a new stream handler for tables of env.
func NewHandler(s *store.Store, registry *store.Registry, env string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    s,
		registry: registry,
		env:      env,
		logger:   logger,
	}
}

// CounterName returns the counter incremented for an event on table.
func CounterName(table, eventName string) string {
	switch eventName {
	case "INSERT":
		return table + ".inserted"
	case "REMOVE":
		return table + ".removed"
	}
	return ""
}

// HandleChanges processes DynamoDB stream events.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleChanges(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	counter := CounterName("", record.EventName)
	if counter == "" {
		h.logger.Debug("skipping event", "eventID", record.EventID, "event", record.EventName)
		return nil
	}

	physical := tableFromARN(record.EventSourceArn)
	schema, ok := h.registry.LookupPhysical(physical, h.env)
	if !ok {
		h.logger.Warn("no schema for table", "table", physical, "eventID", record.EventID)
		return nil
	}

	image := record.Change.NewImage
	if record.EventName == "REMOVE" {
		image = record.Change.OldImage
	}
	var raw map[string]types.AttributeValue
	if len(image) > 0 {
		var err error
		if raw, err = ConvertStreamImage(image); err != nil {
			return fmt.Errorf("convert %s image: %w", physical, err)
		}
	} else {
		// KEYS_ONLY streams carry no images.
		raw = ConvertStreamKey(record.Change.Keys)
	}
	item, err := schema.Flatten(raw)
	if err != nil {
		return fmt.Errorf("decode %s image: %w", physical, err)
	}

	n, err := h.store.NextCounter(ctx, h.env, CounterName(schema.TableName(), record.EventName))
	if err != nil {
		return fmt.Errorf("count %s: %w", record.EventName, err)
	}

	h.logger.Info("recorded change",
		"table", physical,
		"event", record.EventName,
		"key", keyOf(schema, item),
		"count", n,
	)
	return nil
}

// tableFromARN extracts the table name from a stream ARN of the form
// arn:aws:dynamodb:region:account:table/Name/stream/label.
func tableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

func keyOf(schema *store.Schema, item store.Attributes) string {
	parts := make([]string, 0, 2)
	for _, id := range schema.IDFields() {
		f, _ := schema.Field(id)
		parts = append(parts, fmt.Sprint(item[f.Native]))
	}
	return strings.Join(parts, "/")
}
