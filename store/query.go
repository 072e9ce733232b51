package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"
)

type rawItem = map[string]types.AttributeValue

// Query reads every item matching in, following continuation tokens until
// the result set is exhausted. Items are returned in store order.
func (s *Store) Query(ctx context.Context, env string, schema *Schema, in QueryInput) (_ []Attributes, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("query", start, err) }()

	input, err := s.buildQuery(env, schema, in)
	if err != nil {
		return nil, err
	}
	var raws []rawItem
	err = s.queryRaw(ctx, input, func(page []rawItem) bool {
		raws = append(raws, page...)
		return true
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("finished query", "table", *input.TableName, "index", in.Index, "items", len(raws))

	items, err := schema.FlattenAll(raws)
	if err != nil {
		return nil, err
	}
	s.metrics.itemsRead("query", len(items))
	return items, nil
}

// QueryPages is the streaming form of Query: fn receives each decoded page
// and may return false to stop before the result set is exhausted.
func (s *Store) QueryPages(ctx context.Context, env string, schema *Schema, in QueryInput, fn func(page []Attributes) bool) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("query_pages", start, err) }()

	input, err := s.buildQuery(env, schema, in)
	if err != nil {
		return err
	}
	var decodeErr error
	err = s.queryRaw(ctx, input, func(page []rawItem) bool {
		items, err := schema.FlattenAll(page)
		if err != nil {
			decodeErr = err
			return false
		}
		s.metrics.itemsRead("query_pages", len(items))
		return fn(items)
	})
	if err != nil {
		return err
	}
	return decodeErr
}

func (s *Store) queryRaw(ctx context.Context, input *dynamodb.QueryInput, fn func(page []rawItem) bool) error {
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		if !fn(page.Items) {
			return nil
		}
	}
	return nil
}

// buildQuery validates in against the schema and renders the DynamoDB input.
func (s *Store) buildQuery(env string, schema *Schema, in QueryInput) (*dynamodb.QueryInput, error) {
	const op = "query"
	for _, native := range sortedKeys(in.Filters) {
		if _, ok := schema.byNative[native]; !ok {
			return nil, validationErr(op, "field is not part of table "+schema.table, native)
		}
	}

	var keyFields []string
	if in.Index != "" {
		idx, ok := schema.indexes[in.Index]
		if !ok {
			return nil, validationErr(op, fmt.Sprintf("index %q is not declared on table %s", in.Index, schema.table))
		}
		if missing := schema.missing(in.Filters, idx); len(missing) > 0 {
			return nil, validationErr(op, fmt.Sprintf("index %q needs all of its key fields", in.Index), missing...)
		}
		keyFields = idx
	} else {
		if missing := schema.missing(in.Filters, schema.idFields[:1]); len(missing) > 0 {
			return nil, validationErr(op, "the partition key is required without an index", missing...)
		}
		for _, id := range schema.idFields {
			if v, ok := in.Filters[schema.fields[id].Native]; ok && !isEmpty(v) {
				keyFields = append(keyFields, id)
			}
		}
	}

	inKey := make(map[string]bool, len(keyFields))
	keyExpr := newExpression()
	for _, typed := range keyFields {
		f := schema.fields[typed]
		av, err := EncodeField(f, in.Filters[f.Native])
		if err != nil {
			return nil, err
		}
		keyExpr.equal(f, av)
		inKey[typed] = true
	}
	keyExpr.raw(in.KeyFilter)

	filterExpr := newExpression()
	for _, native := range sortedKeys(in.Filters) {
		f := schema.byNative[native]
		if inKey[f.Name] {
			continue
		}
		av, err := EncodeField(f, in.Filters[native])
		if err != nil {
			return nil, err
		}
		filterExpr.equal(f, av)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(schema.PhysicalName(env)),
		Select:                    types.SelectAllAttributes,
		KeyConditionExpression:    aws.String(keyExpr.String()),
		ExpressionAttributeNames:  mergeExprNames(keyExpr.names, filterExpr.names, in.KeyFilterNames),
		ExpressionAttributeValues: mergeExprValues(keyExpr.values, filterExpr.values, in.KeyFilterValues),
		Limit:                     aws.Int32(s.config.PageSize),
	}
	if in.Index != "" {
		input.IndexName = aws.String(in.Index)
		input.Select = types.SelectAllProjectedAttributes
		if in.Consistent {
			s.logger.Debug("consistent read ignored for index query", "index", in.Index)
		}
	} else if in.Consistent {
		input.ConsistentRead = aws.Bool(true)
	}
	if !filterExpr.empty() {
		input.FilterExpression = aws.String(filterExpr.String())
	}
	s.logger.Debug("built query",
		"table", *input.TableName,
		"keyCondition", *input.KeyConditionExpression,
		"filter", filterExpr.String(),
	)
	return input, nil
}

// Scan reads every item in the table. It is expensive; prefer Query when
// an index or the partition key is known.
//
// in.Filters is not translated into a store-side predicate: all items are
// returned regardless of it.
func (s *Store) Scan(ctx context.Context, env string, schema *Schema, in ScanInput) (_ []Attributes, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("scan", start, err) }()

	table := schema.PhysicalName(env)
	if len(in.Filters) > 0 {
		s.logger.Warn("scan filters are not applied", "table", table, "filters", sortedKeys(in.Filters))
	}

	segments := s.config.ScanSegments
	var raws []rawItem
	if segments == 1 {
		raws, err = s.scanSegment(ctx, table, in.Consistent, nil, nil)
		if err != nil {
			return nil, err
		}
	} else {
		results := make([][]rawItem, segments)
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < segments; i++ {
			i := i
			g.Go(func() error {
				items, err := s.scanSegment(gctx, table, in.Consistent, aws.Int32(int32(i)), aws.Int32(int32(segments)))
				if err != nil {
					return fmt.Errorf("segment %d: %w", i, err)
				}
				results[i] = items
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, items := range results {
			raws = append(raws, items...)
		}
	}
	s.logger.Info("finished scan", "table", table, "segments", segments, "items", len(raws))

	items, err := schema.FlattenAll(raws)
	if err != nil {
		return nil, err
	}
	s.metrics.itemsRead("scan", len(items))
	return items, nil
}

func (s *Store) scanSegment(ctx context.Context, table string, consistent bool, segment, total *int32) ([]rawItem, error) {
	input := &dynamodb.ScanInput{
		TableName:     aws.String(table),
		Limit:         aws.Int32(s.config.PageSize),
		Segment:       segment,
		TotalSegments: total,
	}
	if consistent {
		input.ConsistentRead = aws.Bool(true)
	}
	var items []rawItem
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}
