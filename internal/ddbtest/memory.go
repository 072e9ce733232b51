// Package ddbtest provides an in-memory stand-in for the DynamoDB operations
// used by the store package. It understands the expression subset the store
// emits: equality conditions joined by AND, attribute_not_exists on puts,
// and a single ADD in update expressions.
package ddbtest

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/linkstore/internal/shard"
)

type item = map[string]types.AttributeValue

type keySchema struct {
	hash string
	sort string
}

type table struct {
	key     keySchema
	indexes map[string]keySchema
	items   []item
}

// Memory is a goroutine-safe in-memory table set. The zero value is not usable; call New.
type Memory struct {
	mu     sync.Mutex
	tables map[string]*table
	calls  map[string]int
	fail   map[string]error

	queries []*dynamodb.QueryInput
	scans   []*dynamodb.ScanInput
	updates []*dynamodb.UpdateItemInput
	puts    []*dynamodb.PutItemInput
}

// New returns an empty Memory with no tables.
func New() *Memory {
	return &Memory{
		tables: make(map[string]*table),
		calls:  make(map[string]int),
		fail:   make(map[string]error),
	}
}

// CreateTable declares a table keyed by key (partition key, optional sort
// key) with optional secondary indexes. Items without an index's partition
// key are left out of that index.
func (m *Memory) CreateTable(name string, key []string, indexes map[string][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &table{key: toKeySchema(key), indexes: make(map[string]keySchema, len(indexes))}
	for idx, keys := range indexes {
		t.indexes[idx] = toKeySchema(keys)
	}
	m.tables[name] = t
}

func toKeySchema(keys []string) keySchema {
	ks := keySchema{hash: keys[0]}
	if len(keys) > 1 {
		ks.sort = keys[1]
	}
	return ks
}

// Fail makes every later call to op ("GetItem", "Query", ...) return err.
// A nil err clears the failure.
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Queries returns the Query inputs received so far.
func (m *Memory) Queries() []*dynamodb.QueryInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*dynamodb.QueryInput(nil), m.queries...)
}

// Scans returns the Scan inputs received so far.
func (m *Memory) Scans() []*dynamodb.ScanInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*dynamodb.ScanInput(nil), m.scans...)
}

// Updates returns the UpdateItem inputs received so far.
func (m *Memory) Updates() []*dynamodb.UpdateItemInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*dynamodb.UpdateItemInput(nil), m.updates...)
}

// Puts returns the PutItem inputs received so far.
func (m *Memory) Puts() []*dynamodb.PutItemInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*dynamodb.PutItemInput(nil), m.puts...)
}

// Seed stores raw items as they are, bypassing conditions.
func (m *Memory) Seed(name string, items ...map[string]types.AttributeValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(name)
	if err != nil {
		return err
	}
	for _, it := range items {
		t.put(copyItem(it))
	}
	return nil
}

// Items returns a copy of every item in name, in insertion order.
func (m *Memory) Items(name string) []map[string]types.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[name]
	if !ok {
		return nil
	}
	out := make([]item, 0, len(t.items))
	for _, it := range t.items {
		out = append(out, copyItem(it))
	}
	return out
}

func (m *Memory) begin(op string) error {
	m.calls[op]++
	return m.fail[op]
}

func (m *Memory) table(name string) (*table, error) {
	t, ok := m.tables[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String("Requested resource not found: Table: " + name + " not found"),
		}
	}
	return t, nil
}

func (m *Memory) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("GetItem"); err != nil {
		return nil, err
	}
	t, err := m.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	i := t.find(in.Key)
	if i < 0 {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(t.items[i])}, nil
}

var notExistsExpr = regexp.MustCompile(`^attribute_not_exists\((#?[\w.]+)\)$`)

func (m *Memory) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("PutItem"); err != nil {
		return nil, err
	}
	m.puts = append(m.puts, in)
	t, err := m.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	if err := t.checkKey(in.Item); err != nil {
		return nil, err
	}

	if cond := aws.ToString(in.ConditionExpression); cond != "" {
		match := notExistsExpr.FindStringSubmatch(cond)
		if match == nil {
			return nil, fmt.Errorf("ddbtest: unsupported condition expression %q", cond)
		}
		attr, err := resolveName(match[1], in.ExpressionAttributeNames)
		if err != nil {
			return nil, err
		}
		if i := t.find(in.Item); i >= 0 {
			if _, exists := t.items[i][attr]; exists {
				return nil, &types.ConditionalCheckFailedException{
					Message: aws.String("The conditional request failed"),
				}
			}
		}
	}
	t.put(copyItem(in.Item))
	return &dynamodb.PutItemOutput{}, nil
}

func (m *Memory) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("DeleteItem"); err != nil {
		return nil, err
	}
	t, err := m.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	if i := t.find(in.Key); i >= 0 {
		t.items = append(t.items[:i], t.items[i+1:]...)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

var addExpr = regexp.MustCompile(`^ADD (#?[\w.]+) (:\w+)$`)

func (m *Memory) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("UpdateItem"); err != nil {
		return nil, err
	}
	m.updates = append(m.updates, in)
	t, err := m.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	if err := t.checkKey(in.Key); err != nil {
		return nil, err
	}

	current := item{}
	if i := t.find(in.Key); i >= 0 {
		current = t.items[i]
	} else {
		for k, v := range in.Key {
			current[k] = copyValue(v)
		}
		t.items = append(t.items, current)
	}

	out := &dynamodb.UpdateItemOutput{}
	for name, u := range in.AttributeUpdates {
		switch u.Action {
		case types.AttributeActionPut, "":
			current[name] = copyValue(u.Value)
		case types.AttributeActionDelete:
			delete(current, name)
		default:
			return nil, fmt.Errorf("ddbtest: unsupported attribute action %q", u.Action)
		}
	}

	if expr := aws.ToString(in.UpdateExpression); expr != "" {
		match := addExpr.FindStringSubmatch(expr)
		if match == nil {
			return nil, fmt.Errorf("ddbtest: unsupported update expression %q", expr)
		}
		attr, err := resolveName(match[1], in.ExpressionAttributeNames)
		if err != nil {
			return nil, err
		}
		delta, ok := in.ExpressionAttributeValues[match[2]].(*types.AttributeValueMemberN)
		if !ok {
			return nil, fmt.Errorf("ddbtest: ADD operand %s must be a number", match[2])
		}
		step, err := strconv.ParseInt(delta.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ddbtest: ADD operand: %w", err)
		}
		var base int64
		if prev, ok := current[attr].(*types.AttributeValueMemberN); ok {
			if base, err = strconv.ParseInt(prev.Value, 10, 64); err != nil {
				return nil, fmt.Errorf("ddbtest: ADD target: %w", err)
			}
		}
		current[attr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(base+step, 10)}
		if in.ReturnValues == types.ReturnValueUpdatedNew {
			out.Attributes = item{attr: copyValue(current[attr])}
		}
	}
	return out, nil
}

func (m *Memory) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("Query"); err != nil {
		return nil, err
	}
	m.queries = append(m.queries, in)
	t, err := m.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	ks := t.key
	if idx := aws.ToString(in.IndexName); idx != "" {
		var ok bool
		if ks, ok = t.indexes[idx]; !ok {
			return nil, fmt.Errorf("ddbtest: table %s has no index %s", aws.ToString(in.TableName), idx)
		}
	}

	keyCond, err := parseEqualities(aws.ToString(in.KeyConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if _, ok := keyCond[ks.hash]; !ok {
		return nil, fmt.Errorf("ddbtest: key condition must constrain %s", ks.hash)
	}
	for attr := range keyCond {
		if attr != ks.hash && attr != ks.sort {
			return nil, fmt.Errorf("ddbtest: %s is not a key attribute", attr)
		}
	}
	filter, err := parseEqualities(aws.ToString(in.FilterExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}

	var candidates []item
	for _, it := range t.items {
		if _, indexed := it[ks.hash]; indexed && matches(it, keyCond) {
			candidates = append(candidates, it)
		}
	}
	page, scanned, last := t.page(candidates, in.ExclusiveStartKey, in.Limit)
	out := &dynamodb.QueryOutput{ScannedCount: int32(scanned), LastEvaluatedKey: last}
	for _, it := range page {
		if matches(it, filter) {
			out.Items = append(out.Items, copyItem(it))
		}
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (m *Memory) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("Scan"); err != nil {
		return nil, err
	}
	m.scans = append(m.scans, in)
	t, err := m.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	filter, err := parseEqualities(aws.ToString(in.FilterExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}

	candidates := t.items
	if total := aws.ToInt32(in.TotalSegments); total > 1 {
		segment := int(aws.ToInt32(in.Segment))
		candidates = nil
		for _, it := range t.items {
			if shard.Of(valueKey(it[t.key.hash]), int(total)) == segment {
				candidates = append(candidates, it)
			}
		}
	}
	page, scanned, last := t.page(candidates, in.ExclusiveStartKey, in.Limit)
	out := &dynamodb.ScanOutput{ScannedCount: int32(scanned), LastEvaluatedKey: last}
	for _, it := range page {
		if matches(it, filter) {
			out.Items = append(out.Items, copyItem(it))
		}
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

// page returns the candidates following start, at most limit of them, and
// the key to resume from when more remain.
func (t *table) page(candidates []item, start item, limit *int32) ([]item, int, item) {
	from := 0
	if len(start) > 0 {
		want := t.identity(start)
		for i, it := range candidates {
			if t.identity(it) == want {
				from = i + 1
				break
			}
		}
	}
	rest := candidates[from:]
	n := len(rest)
	if limit != nil && int(*limit) < n {
		n = int(*limit)
	}
	page := rest[:n]
	var last item
	if n > 0 && n < len(rest) {
		last = t.keyOf(page[n-1])
	}
	return page, n, last
}

func (t *table) keyOf(it item) item {
	key := item{t.key.hash: copyValue(it[t.key.hash])}
	if t.key.sort != "" {
		key[t.key.sort] = copyValue(it[t.key.sort])
	}
	return key
}

func (t *table) identity(it item) string {
	id := valueKey(it[t.key.hash])
	if t.key.sort != "" {
		id += "\x00" + valueKey(it[t.key.sort])
	}
	return id
}

func (t *table) checkKey(it item) error {
	for _, attr := range []string{t.key.hash, t.key.sort} {
		if attr == "" {
			continue
		}
		if _, ok := it[attr]; !ok {
			return fmt.Errorf("ddbtest: missing key attribute %s", attr)
		}
	}
	return nil
}

func (t *table) find(key item) int {
	want := t.identity(key)
	for i, it := range t.items {
		if t.identity(it) == want {
			return i
		}
	}
	return -1
}

func (t *table) put(it item) {
	if i := t.find(it); i >= 0 {
		t.items[i] = it
		return
	}
	t.items = append(t.items, it)
}

var equalityClause = regexp.MustCompile(`^(#?[\w.]+) = (:\w+)$`)

// parseEqualities parses "a = :x AND b = :y" into attribute/value pairs.
func parseEqualities(expr string, names map[string]string, values map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue)
	if strings.TrimSpace(expr) == "" {
		return out, nil
	}
	for _, clause := range strings.Split(expr, " AND ") {
		match := equalityClause.FindStringSubmatch(strings.TrimSpace(clause))
		if match == nil {
			return nil, fmt.Errorf("ddbtest: unsupported clause %q", clause)
		}
		attr, err := resolveName(match[1], names)
		if err != nil {
			return nil, err
		}
		v, ok := values[match[2]]
		if !ok {
			return nil, fmt.Errorf("ddbtest: value placeholder %s is not defined", match[2])
		}
		out[attr] = v
	}
	return out, nil
}

func resolveName(ref string, names map[string]string) (string, error) {
	if !strings.HasPrefix(ref, "#") {
		return ref, nil
	}
	name, ok := names[ref]
	if !ok {
		return "", fmt.Errorf("ddbtest: name placeholder %s is not defined", ref)
	}
	return name, nil
}

func matches(it item, conds map[string]types.AttributeValue) bool {
	for attr, want := range conds {
		got, ok := it[attr]
		if !ok || valueKey(got) != valueKey(want) {
			return false
		}
	}
	return true
}

// valueKey renders an attribute value as a comparable string.
func valueKey(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + v.Value
	case *types.AttributeValueMemberN:
		return "N:" + v.Value
	case *types.AttributeValueMemberB:
		return "B:" + string(v.Value)
	case *types.AttributeValueMemberBOOL:
		return "BOOL:" + strconv.FormatBool(v.Value)
	case *types.AttributeValueMemberNULL:
		return "NULL"
	case *types.AttributeValueMemberL:
		var b bytes.Buffer
		b.WriteString("L[")
		for _, e := range v.Value {
			b.WriteString(valueKey(e))
			b.WriteByte(',')
		}
		b.WriteByte(']')
		return b.String()
	default:
		return fmt.Sprintf("%T:%v", av, av)
	}
}

func copyItem(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(av types.AttributeValue) types.AttributeValue {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: v.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: v.Value}
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: append([]byte(nil), v.Value...)}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: v.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: v.Value}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: append([]string(nil), v.Value...)}
	case *types.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: append([]string(nil), v.Value...)}
	case *types.AttributeValueMemberL:
		l := make([]types.AttributeValue, len(v.Value))
		for i, e := range v.Value {
			l[i] = copyValue(e)
		}
		return &types.AttributeValueMemberL{Value: l}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: copyItem(v.Value)}
	default:
		return av
	}
}
