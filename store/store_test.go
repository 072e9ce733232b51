package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/linkstore/store"
)

func seedLinks(t *testing.T, s *store.Store, user string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		err := s.Create(ctx, testEnv, testSchema, store.Attributes{
			"user_id": user,
			"link_id": fmt.Sprintf("%s-%04d", user, i),
			"url":     fmt.Sprintf("https://example.com/%d", i),
		}, store.CreateOptions{})
		require.NoError(t, err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := store.DefaultConfig()

	assert.Equal(t, int32(100), cfg.PageSize)
	assert.Equal(t, "Counters", cfg.CounterTableSuffix)
	assert.Equal(t, 1, cfg.ScanSegments)
}

func TestNew_ClampsConfig(t *testing.T) {
	tests := []struct {
		name string
		in   store.Config
		want store.Config
	}{
		{"zero value", store.Config{}, store.DefaultConfig()},
		{"too large", store.Config{PageSize: 5000, ScanSegments: 500}, store.Config{PageSize: 1000, CounterTableSuffix: "Counters", ScanSegments: 64}},
		{"kept", store.Config{PageSize: 25, CounterTableSuffix: "Seq", ScanSegments: 4}, store.Config{PageSize: 25, CounterTableSuffix: "Seq", ScanSegments: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.New(nil, tt.in)
			assert.Equal(t, tt.want, s.Config())
		})
	}
}

func TestCreateAndGetByKey(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	err := s.Create(ctx, testEnv, testSchema, store.Attributes{
		"user_id":    "u1",
		"link_id":    "abc123",
		"url":        "https://example.com",
		"title":      "",
		"clicks":     0,
		"tags":       []string{"go", "aws"},
		"created_at": created,
		"owner":      map[string]any{"name": "ana"},
	}, store.CreateOptions{})
	require.NoError(t, err)

	puts := mem.Puts()
	require.Len(t, puts, 1)
	assert.Equal(t, testTable, aws.ToString(puts[0].TableName))
	assert.NotContains(t, puts[0].Item, "s_Title")
	assert.Contains(t, puts[0].Item, "n_Clicks")
	assert.Nil(t, puts[0].ConditionExpression)

	item, ok, err := s.GetByKey(ctx, testEnv, testSchema, store.Attributes{"user_id": "u1", "link_id": "abc123"}, store.GetOptions{Consistent: true})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://example.com", item["url"])
	assert.Equal(t, int64(0), item["clicks"])
	assert.Equal(t, []any{"go", "aws"}, item["tags"])
	assert.True(t, created.Equal(item["created_at"].(time.Time)))
	assert.Equal(t, map[string]any{"name": "ana"}, item["owner"])
	assert.NotContains(t, item, "title")
}

func TestCreate_RequiresIDFields(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())

	err := s.Create(context.Background(), testEnv, testSchema, store.Attributes{"user_id": "u1"}, store.CreateOptions{})

	var valErr *store.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, []string{"link_id"}, valErr.Fields)
	assert.Zero(t, mem.Calls("PutItem"))
}

func TestCreate_Unique(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())
	ctx := context.Background()
	attrs := store.Attributes{"user_id": "u1", "link_id": "abc123", "url": "https://a"}
	opts := store.CreateOptions{UniqueField: "link_id"}

	require.NoError(t, s.Create(ctx, testEnv, testSchema, attrs, opts))
	assert.Equal(t, "attribute_not_exists(#Link_id)", aws.ToString(mem.Puts()[0].ConditionExpression))
	assert.Equal(t, map[string]string{"#Link_id": "Link_id"}, mem.Puts()[0].ExpressionAttributeNames)

	err := s.Create(ctx, testEnv, testSchema, attrs, opts)
	require.ErrorIs(t, err, store.ErrIntegrity)

	var integrity *store.IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, "link_id", integrity.Field)
	assert.Equal(t, testTable, integrity.Table)

	var condErr *types.ConditionalCheckFailedException
	assert.ErrorAs(t, err, &condErr)
}

func TestCreate_UniqueOnUnknownField(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())

	err := s.Create(context.Background(), testEnv, testSchema,
		store.Attributes{"user_id": "u1", "link_id": "a"},
		store.CreateOptions{UniqueField: "slug"})

	assert.ErrorIs(t, err, store.ErrValidation)
	assert.Zero(t, mem.Calls("PutItem"))
}

func TestCreate_PassesThroughStoreErrors(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())
	boom := errors.New("throttled")
	mem.Fail("PutItem", boom)

	err := s.Create(context.Background(), testEnv, testSchema,
		store.Attributes{"user_id": "u1", "link_id": "a"},
		store.CreateOptions{UniqueField: "link_id"})

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, store.ErrIntegrity)
}

func TestGetByKey_NotFound(t *testing.T) {
	s, _ := newTestStore(t, store.DefaultConfig())

	item, ok, err := s.GetByKey(context.Background(), testEnv, testSchema,
		store.Attributes{"user_id": "u1", "link_id": "missing"}, store.GetOptions{})

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, item)
}

func TestGetByKey_ContainmentCheck(t *testing.T) {
	s, _ := newTestStore(t, store.DefaultConfig())
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, testEnv, testSchema, store.Attributes{
		"user_id": "u1", "link_id": "a", "url": "https://a", "clicks": 7,
	}, store.CreateOptions{}))

	tests := []struct {
		name    string
		filters store.Attributes
		want    bool
	}{
		{"key only", store.Attributes{"user_id": "u1", "link_id": "a"}, true},
		{"matching url", store.Attributes{"user_id": "u1", "link_id": "a", "url": "https://a"}, true},
		{"number across kinds", store.Attributes{"user_id": "u1", "link_id": "a", "clicks": 7.0}, true},
		{"different url", store.Attributes{"user_id": "u1", "link_id": "a", "url": "https://b"}, false},
		{"absent attribute", store.Attributes{"user_id": "u1", "link_id": "a", "title": "t"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := s.GetByKey(ctx, testEnv, testSchema, tt.filters, store.GetOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestGetByKey_Validation(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())
	ctx := context.Background()

	_, _, err := s.GetByKey(ctx, testEnv, testSchema, store.Attributes{"user_id": "u1"}, store.GetOptions{})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, _, err = s.GetByKey(ctx, testEnv, testSchema, store.Attributes{"user_id": "u1", "link_id": "a", "nickname": "x"}, store.GetOptions{})
	assert.ErrorIs(t, err, store.ErrValidation)

	assert.Zero(t, mem.Calls("GetItem"))
}

func TestSave(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())
	ctx := context.Background()
	key := store.Attributes{"user_id": "u1", "link_id": "a"}
	require.NoError(t, s.Create(ctx, testEnv, testSchema, store.Attributes{
		"user_id": "u1", "link_id": "a", "url": "https://a", "title": "old",
	}, store.CreateOptions{}))

	var tr store.Tracker
	require.NoError(t, tr.Mark("title", "new", false))
	require.NoError(t, tr.Mark("url", "", false))
	require.NoError(t, s.Save(ctx, testEnv, testSchema, key, &tr))

	assert.Zero(t, tr.Len())
	updates := mem.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, types.AttributeActionDelete, updates[0].AttributeUpdates["s_Url"].Action)
	assert.Equal(t, types.AttributeActionPut, updates[0].AttributeUpdates["s_Title"].Action)

	item, ok, err := s.GetByKey(ctx, testEnv, testSchema, key, store.GetOptions{Consistent: true})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", item["title"])
	assert.NotContains(t, item, "url")

	err = s.Save(ctx, testEnv, testSchema, key, &tr)
	assert.ErrorIs(t, err, store.ErrNoChanges)
	assert.Equal(t, 1, mem.Calls("UpdateItem"))
}

func TestSave_KeepsChangesOnFailure(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())
	mem.Fail("UpdateItem", errors.New("unavailable"))

	var tr store.Tracker
	require.NoError(t, tr.Mark("title", "new", false))
	err := s.Save(context.Background(), testEnv, testSchema, store.Attributes{"user_id": "u1", "link_id": "a"}, &tr)

	assert.Error(t, err)
	assert.True(t, tr.IsModified("title"))
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t, store.DefaultConfig())
	ctx := context.Background()
	key := store.Attributes{"user_id": "u1", "link_id": "a"}
	require.NoError(t, s.Create(ctx, testEnv, testSchema, key, store.CreateOptions{}))

	require.NoError(t, s.Delete(ctx, testEnv, testSchema, key))

	_, ok, err := s.GetByKey(ctx, testEnv, testSchema, key, store.GetOptions{})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.Delete(ctx, testEnv, testSchema, store.Attributes{"user_id": "u1"}), store.ErrValidation)
}

func TestQuery_Validation(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())

	tests := []struct {
		name string
		in   store.QueryInput
	}{
		{"no partition key", store.QueryInput{Filters: store.Attributes{"link_id": "a"}}},
		{"empty partition key", store.QueryInput{Filters: store.Attributes{"user_id": ""}}},
		{"unknown index", store.QueryInput{Index: "ByUrl", Filters: store.Attributes{"url": "x"}}},
		{"index key missing", store.QueryInput{Index: "ByLink", Filters: store.Attributes{"user_id": "u1"}}},
		{"unknown filter", store.QueryInput{Filters: store.Attributes{"user_id": "u1", "nickname": "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Query(context.Background(), testEnv, testSchema, tt.in)
			assert.ErrorIs(t, err, store.ErrValidation)
		})
	}
	assert.Zero(t, mem.Calls("Query"))
}

func TestQuery_BuildsExpressions(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())
	ctx := context.Background()

	_, err := s.Query(ctx, testEnv, testSchema, store.QueryInput{
		Filters:    store.Attributes{"user_id": "u1", "title": "t", "clicks": 3},
		Consistent: true,
	})
	require.NoError(t, err)

	q := mem.Queries()[0]
	assert.Equal(t, testTable, aws.ToString(q.TableName))
	assert.Equal(t, "#User_id = :user_id", aws.ToString(q.KeyConditionExpression))
	assert.Equal(t, "#n_Clicks = :clicks AND #s_Title = :title", aws.ToString(q.FilterExpression))
	assert.Equal(t, types.SelectAllAttributes, q.Select)
	assert.True(t, aws.ToBool(q.ConsistentRead))
	assert.Equal(t, int32(100), aws.ToInt32(q.Limit))
	assert.Equal(t, &types.AttributeValueMemberN{Value: "3"}, q.ExpressionAttributeValues[":clicks"])
	assert.Equal(t, "s_Title", q.ExpressionAttributeNames["#s_Title"])

	_, err = s.Query(ctx, testEnv, testSchema, store.QueryInput{
		Index:      "ByLink",
		Filters:    store.Attributes{"link_id": "a"},
		Consistent: true,
	})
	require.NoError(t, err)

	q = mem.Queries()[1]
	assert.Equal(t, "ByLink", aws.ToString(q.IndexName))
	assert.Equal(t, "#Link_id = :link_id", aws.ToString(q.KeyConditionExpression))
	assert.Nil(t, q.FilterExpression)
	assert.Nil(t, q.ConsistentRead)
	assert.Equal(t, types.SelectAllProjectedAttributes, q.Select)
}

func TestQuery_SortKeyInKeyCondition(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())
	seedLinks(t, s, "u1", 3)

	items, err := s.Query(context.Background(), testEnv, testSchema, store.QueryInput{
		Filters: store.Attributes{"user_id": "u1", "link_id": "u1-0001"},
	})
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, "u1-0001", items[0]["link_id"])
	assert.Equal(t, "#User_id = :user_id AND #Link_id = :link_id", aws.ToString(mem.Queries()[0].KeyConditionExpression))
}

func TestQuery_KeyFilterIsAppended(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())

	// The in-memory table only evaluates equality, so the call itself fails.
	_, err := s.Query(context.Background(), testEnv, testSchema, store.QueryInput{
		Filters:         store.Attributes{"user_id": "u1"},
		KeyFilter:       "begins_with(#lk, :prefix)",
		KeyFilterNames:  map[string]string{"#lk": "Link_id"},
		KeyFilterValues: map[string]types.AttributeValue{":prefix": &types.AttributeValueMemberS{Value: "a"}},
	})
	require.Error(t, err)

	q := mem.Queries()[0]
	assert.Equal(t, "#User_id = :user_id AND begins_with(#lk, :prefix)", aws.ToString(q.KeyConditionExpression))
	assert.Equal(t, "Link_id", q.ExpressionAttributeNames["#lk"])
	assert.Contains(t, q.ExpressionAttributeValues, ":prefix")
}

func TestQuery_DrainsAllPages(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())
	seedLinks(t, s, "u1", 237)
	seedLinks(t, s, "u2", 5)

	items, err := s.Query(context.Background(), testEnv, testSchema, store.QueryInput{
		Filters: store.Attributes{"user_id": "u1"},
	})
	require.NoError(t, err)

	assert.Len(t, items, 237)
	assert.Equal(t, 3, mem.Calls("Query"))
	assert.Equal(t, "u1-0000", items[0]["link_id"])
	assert.Equal(t, "u1-0236", items[236]["link_id"])
}

func TestQueryPages(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())
	seedLinks(t, s, "u1", 237)
	ctx := context.Background()
	in := store.QueryInput{Filters: store.Attributes{"user_id": "u1"}}

	var sizes []int
	err := s.QueryPages(ctx, testEnv, testSchema, in, func(page []store.Attributes) bool {
		sizes = append(sizes, len(page))
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []int{100, 100, 37}, sizes)

	before := mem.Calls("Query")
	pages := 0
	err = s.QueryPages(ctx, testEnv, testSchema, in, func(page []store.Attributes) bool {
		pages++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
	assert.Equal(t, before+1, mem.Calls("Query"))
}

func TestQuery_DecodeFailure(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())
	require.NoError(t, mem.Seed(testTable, map[string]types.AttributeValue{
		"User_id":  &types.AttributeValueMemberS{Value: "u1"},
		"Link_id":  &types.AttributeValueMemberS{Value: "a"},
		"s_Legacy": &types.AttributeValueMemberS{Value: "x"},
	}))

	_, err := s.Query(context.Background(), testEnv, testSchema, store.QueryInput{
		Filters: store.Attributes{"user_id": "u1"},
	})
	assert.ErrorIs(t, err, store.ErrEncoding)
}

func TestScan_IgnoresFilters(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())
	seedLinks(t, s, "u1", 4)
	seedLinks(t, s, "u2", 3)

	items, err := s.Scan(context.Background(), testEnv, testSchema, store.ScanInput{
		Filters: store.Attributes{"user_id": "u1"},
	})
	require.NoError(t, err)

	assert.Len(t, items, 7)
	scans := mem.Scans()
	require.Len(t, scans, 1)
	assert.Nil(t, scans[0].FilterExpression)
	assert.Nil(t, scans[0].TotalSegments)
}

func TestScan_ParallelSegments(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.ScanSegments = 4
	cfg.PageSize = 10
	s, mem := newTestStore(t, cfg)
	for i := 0; i < 30; i++ {
		seedLinks(t, s, fmt.Sprintf("user%02d", i), 2)
	}

	items, err := s.Scan(context.Background(), testEnv, testSchema, store.ScanInput{})
	require.NoError(t, err)

	assert.Len(t, items, 60)
	seen := make(map[int32]bool)
	for _, in := range mem.Scans() {
		assert.Equal(t, int32(4), aws.ToInt32(in.TotalSegments))
		seen[aws.ToInt32(in.Segment)] = true
	}
	assert.Len(t, seen, 4)
}

func TestScan_SegmentError(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.ScanSegments = 2
	s, mem := newTestStore(t, cfg)
	boom := errors.New("boom")
	mem.Fail("Scan", boom)

	_, err := s.Scan(context.Background(), testEnv, testSchema, store.ScanInput{})
	assert.ErrorIs(t, err, boom)
}

func TestNextCounter(t *testing.T) {
	s, mem := newTestStore(t, store.DefaultConfig())
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := s.NextCounter(ctx, testEnv, "clicks")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	n, err := s.NextSequence(ctx, testEnv, testSchema)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	u := mem.Updates()[0]
	assert.Equal(t, "test_Counters", aws.ToString(u.TableName))
	assert.Equal(t, "ADD #val :one", aws.ToString(u.UpdateExpression))
	assert.Equal(t, types.ReturnValueUpdatedNew, u.ReturnValues)

	_, err = s.NextCounter(ctx, testEnv, "")
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestNextCounter_MissingTable(t *testing.T) {
	s, _ := newTestStore(t, store.DefaultConfig())

	_, err := s.NextCounter(context.Background(), "other", "clicks")

	var notFound *types.ResourceNotFoundException
	assert.ErrorAs(t, err, &notFound)
}

func TestMetrics(t *testing.T) {
	s, _ := newTestStore(t, store.DefaultConfig())
	m := store.NewMetrics(prometheus.NewRegistry())
	s.SetMetrics(m)
	ctx := context.Background()
	attrs := store.Attributes{"user_id": "u1", "link_id": "a"}
	opts := store.CreateOptions{UniqueField: "link_id"}

	require.NoError(t, s.Create(ctx, testEnv, testSchema, attrs, opts))
	require.Error(t, s.Create(ctx, testEnv, testSchema, attrs, opts))
	require.Error(t, s.Create(ctx, testEnv, testSchema, store.Attributes{}, opts))
	_, err := s.Query(ctx, testEnv, testSchema, store.QueryInput{Filters: store.Attributes{"user_id": "u1"}})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("create", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("create", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("query", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ItemsRead.WithLabelValues("query")))
}

func TestSetLogger_Nil(t *testing.T) {
	s, _ := newTestStore(t, store.DefaultConfig())
	s.SetLogger(nil)

	_, _, err := s.GetByKey(context.Background(), testEnv, testSchema,
		store.Attributes{"user_id": "u1", "link_id": "a"}, store.GetOptions{})
	assert.NoError(t, err)
}
