package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// memoryTable is a small in-memory single-table mock. It understands the
// subset of DynamoDB semantics the stores rely on: composite PK/SK keys,
// attribute_not_exists / attribute_exists conditions, begins_with key
// conditions, descending queries with limits, the GSI1 index, and simple
// SET update expressions.
type memoryTable struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	putErr    error
	queryErr  error
	updateErr error

	// unprocessedRounds makes BatchWriteItem echo every request back as
	// unprocessed (without applying it) that many times, as a throttled
	// table does.
	unprocessedRounds int
}

func newMemoryTable() *memoryTable {
	return &memoryTable{items: map[string]map[string]types.AttributeValue{}}
}

func strVal(item map[string]types.AttributeValue, attr string) string {
	if v, ok := item[attr].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func itemKey(item map[string]types.AttributeValue) string {
	return strVal(item, "PK") + "|" + strVal(item, "SK")
}

func keyOf(key map[string]types.AttributeValue) string {
	return strVal(key, "PK") + "|" + strVal(key, "SK")
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (m *memoryTable) PutItem(_ context.Context, params *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return nil, m.putErr
	}
	k := itemKey(params.Item)
	if params.ConditionExpression != nil && strings.Contains(*params.ConditionExpression, "attribute_not_exists") {
		if _, exists := m.items[k]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.items[k] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *memoryTable) GetItem(_ context.Context, params *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[keyOf(params.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *memoryTable) Query(_ context.Context, params *dyn.QueryInput, _ ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}

	var matched []map[string]types.AttributeValue
	if params.IndexName != nil {
		pk := strVal(params.ExpressionAttributeValues, ":pk")
		for _, item := range m.items {
			if strVal(item, "GSI1PK") == pk {
				matched = append(matched, copyItem(item))
			}
		}
	} else {
		pk := strVal(params.ExpressionAttributeValues, ":pk")
		prefix := strVal(params.ExpressionAttributeValues, ":prefix")
		hasPrefix := strings.Contains(*params.KeyConditionExpression, "begins_with")
		for _, item := range m.items {
			if strVal(item, "PK") != pk {
				continue
			}
			if hasPrefix && !strings.HasPrefix(strVal(item, "SK"), prefix) {
				continue
			}
			matched = append(matched, copyItem(item))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return strVal(matched[i], "SK") < strVal(matched[j], "SK")
	})
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if params.Limit != nil && int(*params.Limit) < len(matched) {
		matched = matched[:*params.Limit]
	}
	return &dyn.QueryOutput{Items: matched}, nil
}

func (m *memoryTable) UpdateItem(_ context.Context, params *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	k := keyOf(params.Key)
	item, exists := m.items[k]
	if !exists {
		if params.ConditionExpression != nil && strings.Contains(*params.ConditionExpression, "attribute_exists") {
			return nil, &types.ConditionalCheckFailedException{}
		}
		item = copyItem(params.Key)
		m.items[k] = item
	}
	applySet(item, params.UpdateExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	return &dyn.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

func (m *memoryTable) BatchWriteItem(_ context.Context, params *dyn.BatchWriteItemInput, _ ...func(*dyn.Options)) (*dyn.BatchWriteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unprocessedRounds > 0 {
		m.unprocessedRounds--
		return &dyn.BatchWriteItemOutput{UnprocessedItems: params.RequestItems}, nil
	}
	for _, requests := range params.RequestItems {
		for _, req := range requests {
			if req.DeleteRequest != nil {
				delete(m.items, keyOf(req.DeleteRequest.Key))
			}
		}
	}
	return &dyn.BatchWriteItemOutput{}, nil
}

func (m *memoryTable) TransactWriteItems(_ context.Context, params *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// first pass: verify conditions
	for _, it := range params.TransactItems {
		if p := it.Put; p != nil && p.ConditionExpression != nil && strings.Contains(*p.ConditionExpression, "attribute_not_exists") {
			if _, exists := m.items[itemKey(p.Item)]; exists {
				return nil, &types.TransactionCanceledException{}
			}
		}
		if u := it.Update; u != nil && u.ConditionExpression != nil && strings.Contains(*u.ConditionExpression, "attribute_exists") {
			if _, exists := m.items[keyOf(u.Key)]; !exists {
				return nil, &types.TransactionCanceledException{}
			}
		}
	}
	// second pass: apply
	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			m.items[itemKey(p.Item)] = copyItem(p.Item)
		}
		if u := it.Update; u != nil {
			item := m.items[keyOf(u.Key)]
			applySet(item, u.UpdateExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// applySet interprets "SET a = :x, #n = :y" update expressions.
func applySet(item map[string]types.AttributeValue, expr *string, names map[string]string, values map[string]types.AttributeValue) {
	if expr == nil {
		return
	}
	body, ok := strings.CutPrefix(*expr, "SET ")
	if !ok {
		return
	}
	for _, clause := range strings.Split(body, ",") {
		parts := strings.SplitN(clause, "=", 2)
		if len(parts) != 2 {
			continue
		}
		attr := strings.TrimSpace(parts[0])
		if resolved, ok := names[attr]; ok {
			attr = resolved
		}
		placeholder := strings.TrimSpace(parts[1])
		if v, ok := values[placeholder]; ok {
			item[attr] = v
		}
	}
}

// countKeys returns the number of stored rows whose SK carries the prefix
// inside the given partition.
func (m *memoryTable) countKeys(pk, skPrefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, item := range m.items {
		if strVal(item, "PK") == pk && strings.HasPrefix(strVal(item, "SK"), skPrefix) {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")
