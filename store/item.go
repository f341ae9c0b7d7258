package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/internal/shard"
	"github.com/jacentio/arbor/model"
)

// ORM-managed attribute names.
const (
	attrEntityRef = "entity_ref"
	attrVersion   = "version"
	attrCreatedAt = "created_at"
	attrUpdatedAt = "updated_at"
	attrTTL       = "ttl"
	attrUniquePKs = "_unique_pks"

	guardSortKey = "CONSTRAINT"

	// nullToken stands for NULL in guard rows of null-constrained indexes.
	nullToken = "\x00"
)

// Item represents a retrieved DynamoDB item with common fields.
type Item struct {
	// Raw is the raw DynamoDB item.
	Raw map[string]types.AttributeValue

	// Version counts the writes made to the item.
	Version int64

	// CreatedAt is the ISO 8601 creation timestamp.
	CreatedAt string

	// UpdatedAt is the ISO 8601 last update timestamp.
	UpdatedAt string

	// EntityRef is the type-qualified entity reference.
	EntityRef string

	// UniquePKs lists the guard rows owned by the entity.
	UniquePKs []string
}

// EntityRef returns the type-qualified reference of a row, e.g. "author#uuid".
func EntityRef(table, id string) string {
	return table + "#" + id
}

// ParseEntityRef splits a reference produced by EntityRef.
func ParseEntityRef(ref string) (table, id string, ok bool) {
	return strings.Cut(ref, "#")
}

// unmarshalItem converts a DynamoDB item to an Item struct.
func unmarshalItem(raw map[string]types.AttributeValue) *Item {
	item := &Item{Raw: raw}

	if v, ok := raw[attrVersion].(*types.AttributeValueMemberN); ok {
		item.Version, _ = strconv.ParseInt(v.Value, 10, 64)
	}
	if v, ok := raw[attrCreatedAt].(*types.AttributeValueMemberS); ok {
		item.CreatedAt = v.Value
	}
	if v, ok := raw[attrUpdatedAt].(*types.AttributeValueMemberS); ok {
		item.UpdatedAt = v.Value
	}
	if v, ok := raw[attrEntityRef].(*types.AttributeValueMemberS); ok {
		item.EntityRef = v.Value
	}
	if v, ok := raw[attrUniquePKs]; ok {
		_ = attributevalue.Unmarshal(v, &item.UniquePKs)
	}

	return item
}

// encodeValues marshals the declared fields of t. NULL fields are left out
// so that sparse secondary indexes on foreign keys stay valid.
func encodeValues(t *model.Table, values map[string]any) (map[string]types.AttributeValue, error) {
	item := make(map[string]types.AttributeValue, len(values)+6)
	for _, f := range t.Fields() {
		v := values[f.Name]
		if v == nil {
			continue
		}
		av, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s.%s: %w", t.Name, f.Name, err)
		}
		item[f.Name] = av
	}
	return item, nil
}

func encodeValue(v any) (types.AttributeValue, error) {
	if ts, ok := v.(time.Time); ok {
		return &types.AttributeValueMemberS{Value: ts.UTC().Format(time.RFC3339Nano)}, nil
	}
	return attributevalue.Marshal(v)
}

// decodeItem returns the declared fields of t found in raw.
func decodeItem(t *model.Table, raw map[string]types.AttributeValue) (map[string]any, error) {
	values := make(map[string]any, len(t.Fields()))
	for _, f := range t.Fields() {
		av, ok := raw[f.Name]
		if !ok {
			continue
		}
		var v any
		if err := attributevalue.Unmarshal(av, &v); err != nil {
			return nil, fmt.Errorf("unmarshal %s.%s: %w", t.Name, f.Name, err)
		}
		values[f.Name] = v
	}
	return values, nil
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// guard is one unique index entry of an entity.
type guard struct {
	index string
	pk    string
}

// guardRows returns the guard rows values occupy, in index declaration order.
// Indexes exempted by a NULL are skipped.
func guardRows(t *model.Table, values map[string]any) []guard {
	var guards []guard
	for _, idx := range t.UniqueIndexes() {
		parts := make([]string, 0, len(idx.Fields))
		exempt := false
		for _, f := range idx.Fields {
			v := values[f]
			if v == nil && !idx.NullConstrained {
				exempt = true
				break
			}
			parts = append(parts, guardValue(v))
		}
		if exempt {
			continue
		}
		guards = append(guards, guard{index: idx.Name, pk: shard.UniqueConstraintPK(t.Name, idx.Name, parts)})
	}
	return guards
}

// predicateGuard returns the guard row a uniqueness predicate looks up.
func predicateGuard(t *model.Table, p model.Predicate) guard {
	parts := make([]string, len(p.Terms))
	for i, term := range p.Terms {
		if term.IsNull {
			parts[i] = nullToken
			continue
		}
		v := term.Value
		if f, ok := t.Field(term.Field); ok {
			if n, err := f.Type.Normalize(v); err == nil {
				v = n
			}
		}
		parts[i] = guardValue(v)
	}
	return guard{index: p.Index, pk: shard.UniqueConstraintPK(t.Name, p.Index, parts)}
}

// guardValue renders a normalised field value for hashing.
func guardValue(v any) string {
	switch x := v.(type) {
	case nil:
		return nullToken
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	default:
		return fmt.Sprint(x)
	}
}

func guardKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: guardSortKey},
	}
}

func guardPKs(guards []guard) []string {
	pks := make([]string, len(guards))
	for i, g := range guards {
		pks[i] = g.pk
	}
	return pks
}
