package store_test

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type attrs = map[string]types.AttributeValue

// fakeDynamo is an in-memory DynamoDB understanding the expressions the
// store writes. Tables are keyed by "id", the unique table by "pk" and "sk".
type fakeDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]attrs

	getErr   error
	queryErr error
	txCalls  int
	updCalls int
	queries  []*dynamodb.QueryInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{tables: make(map[string]map[string]attrs)}
}

func keyString(key attrs) string {
	parts := make([]string, 0, len(key))
	for _, name := range []string{"id", "pk", "sk"} {
		if v, ok := key[name].(*types.AttributeValueMemberS); ok {
			parts = append(parts, v.Value)
		}
	}
	return strings.Join(parts, "|")
}

func itemKey(item attrs) attrs {
	key := attrs{}
	for _, name := range []string{"id", "pk", "sk"} {
		if v, ok := item[name]; ok {
			key[name] = v
		}
	}
	return key
}

func (f *fakeDynamo) table(name string) map[string]attrs {
	tbl, ok := f.tables[name]
	if !ok {
		tbl = make(map[string]attrs)
		f.tables[name] = tbl
	}
	return tbl
}

func (f *fakeDynamo) item(table string, key attrs) attrs {
	return f.table(table)[keyString(key)]
}

func (f *fakeDynamo) count(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	item := f.item(aws.ToString(in.TableName), in.Key)
	if item == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyAttrs(item)}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	field := in.ExpressionAttributeNames["#field"]
	want := in.ExpressionAttributeValues[":value"].(*types.AttributeValueMemberS).Value
	now, _ := strconv.ParseInt(in.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN).Value, 10, 64)

	tbl := f.table(aws.ToString(in.TableName))
	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &dynamodb.QueryOutput{}
	for _, k := range keys {
		item := tbl[k]
		v, ok := item[field].(*types.AttributeValueMemberS)
		if !ok || v.Value != want {
			continue
		}
		if ttl, ok := item["ttl"].(*types.AttributeValueMemberN); ok {
			n, _ := strconv.ParseInt(ttl.Value, 10, 64)
			if n <= now {
				continue
			}
		}
		out.Items = append(out.Items, copyAttrs(item))
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updCalls++
	table := aws.ToString(in.TableName)
	existing := f.item(table, in.Key)
	if !conditionHolds(aws.ToString(in.ConditionExpression), existing) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	f.table(table)[keyString(in.Key)] = applyUpdate(existing, aws.ToString(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		ok := true
		switch {
		case ti.Put != nil:
			existing := f.item(aws.ToString(ti.Put.TableName), itemKey(ti.Put.Item))
			ok = conditionHolds(aws.ToString(ti.Put.ConditionExpression), existing)
		case ti.Update != nil:
			existing := f.item(aws.ToString(ti.Update.TableName), ti.Update.Key)
			ok = conditionHolds(aws.ToString(ti.Update.ConditionExpression), existing)
		case ti.Delete != nil:
			existing := f.item(aws.ToString(ti.Delete.TableName), ti.Delete.Key)
			ok = conditionHolds(aws.ToString(ti.Delete.ConditionExpression), existing)
		}
		code := "None"
		if !ok {
			code = "ConditionalCheckFailed"
			failed = true
		}
		reasons[i] = types.CancellationReason{Code: aws.String(code)}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			f.table(aws.ToString(ti.Put.TableName))[keyString(itemKey(ti.Put.Item))] = copyAttrs(ti.Put.Item)
		case ti.Update != nil:
			table := aws.ToString(ti.Update.TableName)
			existing := f.item(table, ti.Update.Key)
			f.table(table)[keyString(ti.Update.Key)] = applyUpdate(existing, aws.ToString(ti.Update.UpdateExpression),
				ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues)
		case ti.Delete != nil:
			delete(f.table(aws.ToString(ti.Delete.TableName)), keyString(ti.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// conditionHolds evaluates the condition forms the store uses.
func conditionHolds(cond string, existing attrs) bool {
	switch {
	case cond == "":
		return true
	case strings.HasPrefix(cond, "attribute_not_exists(") && !strings.Contains(cond, " AND "):
		return existing == nil
	case strings.HasPrefix(cond, "attribute_exists("):
		if existing == nil {
			return false
		}
		if strings.Contains(cond, "attribute_not_exists(#ttl)") {
			_, hasTTL := existing["ttl"]
			return !hasTTL
		}
		return true
	}
	return false
}

// applyUpdate applies "SET a = :v, b = b + :n REMOVE c" expressions.
func applyUpdate(existing attrs, expr string, names map[string]string, values attrs) attrs {
	item := copyAttrs(existing)
	if item == nil {
		item = attrs{}
	}
	resolve := func(s string) string {
		s = strings.TrimSpace(s)
		if n, ok := names[s]; ok {
			return n
		}
		return s
	}

	setPart, removePart, _ := strings.Cut(expr, " REMOVE ")
	setPart = strings.TrimPrefix(setPart, "SET ")
	for _, clause := range strings.Split(setPart, ", ") {
		lhs, rhs, ok := strings.Cut(clause, " = ")
		if !ok {
			continue
		}
		name := resolve(lhs)
		if base, inc, ok := strings.Cut(rhs, " + "); ok {
			cur := int64(0)
			if n, ok := item[resolve(base)].(*types.AttributeValueMemberN); ok {
				cur, _ = strconv.ParseInt(n.Value, 10, 64)
			}
			step, _ := strconv.ParseInt(values[strings.TrimSpace(inc)].(*types.AttributeValueMemberN).Value, 10, 64)
			item[name] = &types.AttributeValueMemberN{Value: strconv.FormatInt(cur+step, 10)}
			continue
		}
		item[name] = values[strings.TrimSpace(rhs)]
	}
	if removePart != "" {
		for _, n := range strings.Split(removePart, ", ") {
			delete(item, resolve(n))
		}
	}
	return item
}

func copyAttrs(m attrs) attrs {
	if m == nil {
		return nil
	}
	out := make(attrs, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var errThrottled = errors.New("throttled")
