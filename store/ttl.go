package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// liveCondition guards writes to an existing entity. #pk names the table's
// primary key attribute and #ttl the soft-delete marker.
const liveCondition = "attribute_exists(#pk) AND attribute_not_exists(#ttl)"

// IsDeleted reports whether an item carries a soft-delete TTL that has passed.
// Items without a TTL, or with a malformed one, are live.
func IsDeleted(item map[string]types.AttributeValue) bool {
	return expired(item, time.Now())
}

func expired(item map[string]types.AttributeValue, now time.Time) bool {
	n, ok := item[attrTTL].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= now.Unix()
}

// liveFilter is the query filter that hides soft-deleted items as of a point
// in time, with its placeholder bindings.
type liveFilter struct {
	expr   string
	names  map[string]string
	values map[string]types.AttributeValue
}

func liveFilterAt(now time.Time) liveFilter {
	return liveFilter{
		expr:  "attribute_not_exists(#ttl) OR #ttl > :now",
		names: map[string]string{"#ttl": attrTTL},
		values: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	}
}

// withNames returns the filter's names joined with extra.
func (f liveFilter) withNames(extra map[string]string) map[string]string {
	out := make(map[string]string, len(f.names)+len(extra))
	for k, v := range f.names {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// withValues returns the filter's values joined with extra.
func (f liveFilter) withValues(extra map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(f.values)+len(extra))
	for k, v := range f.values {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
