package store

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// Client is the part of the DynamoDB API the Store uses. *dynamodb.Client
// satisfies it, as do in-memory doubles in tests.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// CreateOptions configures Create.
type CreateOptions struct {
	// UniqueField is a native attribute name that must not already exist on
	// the stored item. The put fails with an *IntegrityError if it does.
	UniqueField string
}

// GetOptions configures GetByKey.
type GetOptions struct {
	// Consistent requests a strongly consistent read.
	Consistent bool
}

// QueryInput defines parameters for querying entities.
type QueryInput struct {
	// Index is the optional index to query. All of its key fields must be in Filters.
	// Without an index, Filters must contain at least the partition key.
	Index string

	// Filters are equality conditions keyed by native attribute name. Key
	// fields go into the key condition, the rest into the filter expression.
	Filters Attributes

	// Consistent requests a strongly consistent read. Ignored for index queries.
	Consistent bool

	// KeyFilter is an optional key condition fragment ANDed to the generated one,
	// for comparisons the equality builder cannot express.
	KeyFilter string

	// KeyFilterNames maps expression attribute name placeholders used in KeyFilter.
	KeyFilterNames map[string]string

	// KeyFilterValues maps expression attribute value placeholders used in KeyFilter.
	KeyFilterValues map[string]types.AttributeValue
}

// ScanInput defines parameters for scanning a table.
type ScanInput struct {
	// Filters are accepted but not sent to the store; every item is returned.
	Filters Attributes

	// Consistent requests a strongly consistent read.
	Consistent bool
}
