package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TableCreator creates tables. *dynamodb.Client satisfies it.
type TableCreator interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// CreateTableInput describes the physical table of s in env, with one
// global secondary index per declared index. Tables are billed on demand.
func (s *Schema) CreateTableInput(env string) *dynamodb.CreateTableInput {
	attrs := map[string]types.ScalarAttributeType{}
	keySchema := func(fields []string) []types.KeySchemaElement {
		out := make([]types.KeySchemaElement, 0, len(fields))
		for i, typed := range fields {
			kt := types.KeyTypeHash
			if i > 0 {
				kt = types.KeyTypeRange
			}
			out = append(out, types.KeySchemaElement{AttributeName: aws.String(typed), KeyType: kt})
			attrs[typed] = s.keyAttributeType(typed)
		}
		return out
	}

	in := &dynamodb.CreateTableInput{
		TableName:   aws.String(s.PhysicalName(env)),
		KeySchema:   keySchema(s.idFields),
		BillingMode: types.BillingModePayPerRequest,
	}

	names := make([]string, 0, len(s.indexes))
	for name := range s.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		in.GlobalSecondaryIndexes = append(in.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName:  aws.String(name),
			KeySchema:  keySchema(s.indexes[name]),
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}

	defined := make([]string, 0, len(attrs))
	for name := range attrs {
		defined = append(defined, name)
	}
	sort.Strings(defined)
	for _, name := range defined {
		in.AttributeDefinitions = append(in.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: attrs[name],
		})
	}
	return in
}

// Number fields key as N; everything else, untyped key fields included, as S.
func (s *Schema) keyAttributeType(typed string) types.ScalarAttributeType {
	if f, ok := s.fields[typed]; ok && f.Type.Kind == KindNumber {
		return types.ScalarAttributeTypeN
	}
	return types.ScalarAttributeTypeS
}

// CounterTableInput describes the counters table of env.
func (s *Store) CounterTableInput(env string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(s.CounterTable(env)),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(CounterKeyAttr), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(CounterKeyAttr), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	}
}

// Provision creates each table, skipping those that already exist.
// It returns the names of the tables it created.
func Provision(ctx context.Context, c TableCreator, inputs ...*dynamodb.CreateTableInput) ([]string, error) {
	var created []string
	for _, in := range inputs {
		_, err := c.CreateTable(ctx, in)
		var inUse *types.ResourceInUseException
		switch {
		case errors.As(err, &inUse):
			continue
		case err != nil:
			return created, fmt.Errorf("create table %s: %w", aws.ToString(in.TableName), err)
		}
		created = append(created, aws.ToString(in.TableName))
	}
	return created, nil
}
