package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// CounterKeyAttr is the partition key of the counters table.
	CounterKeyAttr = "Counter_id"

	// CounterValueAttr holds the current value of a counter.
	CounterValueAttr = "CounterVal"
)

// Store maps native attributes onto DynamoDB items described by a Schema.
type Store struct {
	client  Client
	config  Config
	logger  *slog.Logger
	metrics *Metrics
}

// New creates a new Store instance.
func New(client Client, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
		logger: slog.Default(),
	}
}

// SetLogger sets the logger used for operation logs. A nil logger restores slog.Default().
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
}

// SetMetrics enables Prometheus metrics for store operations.
func (s *Store) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Config returns the validated configuration.
func (s *Store) Config() Config { return s.config }

// CounterTable returns the counters table for an environment.
func (s *Store) CounterTable(env string) string {
	return env + "_" + s.config.CounterTableSuffix
}

// Create writes a new item. All id fields must be set. Empty values are not
// written. With opts.UniqueField the put is conditional on that attribute
// not existing, and a failed condition is reported as an *IntegrityError.
func (s *Store) Create(ctx context.Context, env string, schema *Schema, attrs Attributes, opts CreateOptions) (err error) {
	const op = "create item"
	start := time.Now()
	defer func() { s.metrics.observe("create", start, err) }()

	if missing := schema.missing(attrs, schema.idFields); len(missing) > 0 {
		return validationErr(op, "all id fields are required", missing...)
	}
	item, err := schema.Prepare(attrs)
	if err != nil {
		return err
	}

	table := schema.PhysicalName(env)
	input := &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	}
	if opts.UniqueField != "" {
		f, ok := schema.FieldByNative(opts.UniqueField)
		if !ok {
			return validationErr(op, "cannot check uniqueness on a field which does not exist", opts.UniqueField)
		}
		input.ConditionExpression = aws.String(fmt.Sprintf("attribute_not_exists(%s)", nameRef(f.Name)))
		input.ExpressionAttributeNames = map[string]string{nameRef(f.Name): f.Name}
		s.logger.Debug("checking uniqueness", "table", table, "field", opts.UniqueField)
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var condErr *types.ConditionalCheckFailedException
		if opts.UniqueField != "" && errors.As(err, &condErr) {
			s.logger.Info("uniqueness check failed", "table", table, "field", opts.UniqueField)
			return &IntegrityError{Table: table, Field: opts.UniqueField, Err: err}
		}
		return err
	}
	s.logger.Info("item created", "table", table, "attributes", len(item))
	return nil
}

// GetByKey reads a single item by primary key. filters must contain every
// id field; other filters are checked against the decoded item. A missing
// item, or one that does not match every filter, yields ok == false.
func (s *Store) GetByKey(ctx context.Context, env string, schema *Schema, filters Attributes, opts GetOptions) (_ Attributes, ok bool, err error) {
	const op = "get item"
	start := time.Now()
	defer func() { s.metrics.observe("get", start, err) }()

	for _, native := range sortedKeys(filters) {
		if _, known := schema.byNative[native]; !known {
			return nil, false, validationErr(op, "field is not part of table "+schema.table, native)
		}
	}
	key, err := schema.Key(filters)
	if err != nil {
		return nil, false, err
	}

	table := schema.PhysicalName(env)
	input := &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       key,
	}
	if opts.Consistent {
		input.ConsistentRead = aws.Bool(true)
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, false, err
	}
	if out.Item == nil {
		s.logger.Debug("no item found", "table", table)
		return nil, false, nil
	}

	item, err := schema.Flatten(out.Item)
	if err != nil {
		return nil, false, err
	}
	if !contains(item, filters) {
		s.logger.Debug("item does not match filters", "table", table)
		return nil, false, nil
	}
	s.metrics.itemsRead("get", 1)
	return item, true, nil
}

// Save persists the fields modified in t as a partial update of the item
// identified by key, then clears t. It returns ErrNoChanges if nothing was modified.
func (s *Store) Save(ctx context.Context, env string, schema *Schema, key Attributes, t *Tracker) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("update", start, err) }()

	plan, err := t.Plan(schema)
	if err != nil {
		return err
	}
	pk, err := schema.Key(key)
	if err != nil {
		return err
	}

	table := schema.PhysicalName(env)
	s.logger.Info("saving changes",
		"table", table,
		"changed", len(plan.Changed),
		"removed", len(plan.Removed),
	)
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(table),
		Key:              pk,
		AttributeUpdates: plan.AttributeUpdates(),
	})
	if err != nil {
		return err
	}
	t.Reset()
	return nil
}

// Delete removes the item identified by key.
func (s *Store) Delete(ctx context.Context, env string, schema *Schema, key Attributes) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("delete", start, err) }()

	pk, err := schema.Key(key)
	if err != nil {
		return err
	}
	table := schema.PhysicalName(env)
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       pk,
	}); err != nil {
		return err
	}
	s.logger.Info("item deleted", "table", table)
	return nil
}

// NextCounter atomically increments the named counter in the shared
// counters table and returns its new value. A counter starts at zero.
func (s *Store) NextCounter(ctx context.Context, env, name string) (_ int64, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("counter", start, err) }()

	if name == "" {
		return 0, validationErr("increment counter", "counter name is required")
	}
	table := s.CounterTable(env)
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			CounterKeyAttr: &types.AttributeValueMemberS{Value: name},
		},
		UpdateExpression:         aws.String("ADD #val :one"),
		ExpressionAttributeNames: map[string]string{"#val": CounterValueAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, err
	}
	av, ok := out.Attributes[CounterValueAttr]
	if !ok {
		return 0, fmt.Errorf("counter %s: no value returned", name)
	}
	var n int64
	if err := attributevalue.Unmarshal(av, &n); err != nil {
		return 0, fmt.Errorf("counter %s: %w", name, err)
	}
	s.logger.Debug("counter incremented", "table", table, "counter", name, "value", n)
	return n, nil
}

// NextSequence increments the counter named after the schema's table.
func (s *Store) NextSequence(ctx context.Context, env string, schema *Schema) (int64, error) {
	return s.NextCounter(ctx, env, schema.TableName())
}
