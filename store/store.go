package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/arbor/model"
	"github.com/jacentio/arbor/unique"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
// *dynamodb.Client satisfies it.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store provides DynamoDB operations for sessions.
type Store struct {
	client   DynamoAPI
	registry *model.Registry
	config   Config
	now      func() time.Time
}

// New creates a new Store instance for the registry's tables.
func New(client DynamoAPI, reg *model.Registry, config Config) *Store {
	config.validate()
	return &Store{
		client:   client,
		registry: reg,
		config:   config,
		now:      time.Now,
	}
}

// TableName returns the DynamoDB table that holds rows of the model table.
func (s *Store) TableName(table string) string {
	return s.config.TablePrefix + table
}

// IndexName returns the secondary index that serves lookups by field.
func (s *Store) IndexName(field string) string {
	return fmt.Sprintf(s.config.IndexNameFormat, field)
}

func (s *Store) schema(name string) (*model.Table, error) {
	t, ok := s.registry.Table(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownTable, name)
	}
	return t, nil
}

func entityKey(t *model.Table, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		t.PrimaryKey: &types.AttributeValueMemberS{Value: id},
	}
}

// Get retrieves the raw item of an entity, returning ErrNotFound if deleted or missing.
func (s *Store) Get(ctx context.Context, table, id string) (*Item, error) {
	t, err := s.schema(table)
	if err != nil {
		return nil, err
	}
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.TableName(table)),
		Key:            entityKey(t, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil || expired(result.Item, s.now()) {
		return nil, &model.NotFoundError{Table: table, Key: id}
	}
	return unmarshalItem(result.Item), nil
}

// Load returns the row with the given identifier.
func (s *Store) Load(ctx context.Context, table, id string) (model.Row, bool, error) {
	t, err := s.schema(table)
	if err != nil {
		return model.Row{}, false, err
	}
	item, err := s.Get(ctx, table, id)
	if errors.Is(err, ErrNotFound) {
		return model.Row{}, false, nil
	}
	if err != nil {
		return model.Row{}, false, err
	}
	values, err := decodeItem(t, item.Raw)
	if err != nil {
		return model.Row{}, false, err
	}
	return model.Row{Table: table, ID: id, Values: values}, true, nil
}

// FetchOneWhere returns a live row whose field equals the value, querying
// the field's secondary index. NULL never matches.
func (s *Store) FetchOneWhere(ctx context.Context, cond model.Condition) (model.Row, bool, error) {
	t, err := s.schema(cond.Table)
	if err != nil {
		return model.Row{}, false, err
	}
	if cond.Value == nil {
		return model.Row{}, false, nil
	}
	if !t.HasField(cond.Field) {
		return model.Row{}, false, fmt.Errorf("%w: %s.%s", model.ErrUnknownField, cond.Table, cond.Field)
	}
	value, err := encodeValue(cond.Value)
	if err != nil {
		return model.Row{}, false, fmt.Errorf("marshal %s.%s: %w", cond.Table, cond.Field, err)
	}

	live := liveFilterAt(s.now())
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.TableName(cond.Table)),
		IndexName:                 aws.String(s.IndexName(cond.Field)),
		KeyConditionExpression:    aws.String("#field = :value"),
		FilterExpression:          aws.String(live.expr),
		ExpressionAttributeNames:  live.withNames(map[string]string{"#field": cond.Field}),
		ExpressionAttributeValues: live.withValues(map[string]types.AttributeValue{":value": value}),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return model.Row{}, false, fmt.Errorf("query %s by %s: %w", cond.Table, cond.Field, err)
		}
		for _, raw := range page.Items {
			values, err := decodeItem(t, raw)
			if err != nil {
				return model.Row{}, false, err
			}
			return model.Row{Table: cond.Table, ID: stringAttr(raw, t.PrimaryKey), Values: values}, true, nil
		}
	}
	return model.Row{}, false, nil
}

// ExistsMatchingAny reports whether a guard row held by an entity other than
// criteria.ExcludeID exists for any of the predicates. Each predicate must
// name the unique index it was built from.
func (s *Store) ExistsMatchingAny(ctx context.Context, c model.Criteria) (bool, error) {
	t, err := s.schema(c.Table)
	if err != nil {
		return false, err
	}
	var self string
	if c.ExcludeID != "" {
		self = EntityRef(c.Table, c.ExcludeID)
	}
	for _, p := range c.Any {
		if p.Index == "" {
			return false, fmt.Errorf("%w: %s", ErrUnsupportedPredicate, p)
		}
		g := predicateGuard(t, p)
		result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.config.UniqueTable),
			Key:            guardKey(g.pk),
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return false, fmt.Errorf("get guard %s.%s: %w", c.Table, p.Index, err)
		}
		if result.Item == nil || expired(result.Item, s.now()) {
			continue
		}
		if self != "" && stringAttr(result.Item, attrEntityRef) == self {
			continue
		}
		return true, nil
	}
	return false, nil
}

// Insert creates the entity and its guard rows in one transaction and
// returns the new identifier.
func (s *Store) Insert(ctx context.Context, e *model.Entity) (string, error) {
	t := e.Table()
	values := e.Values()
	id := uuid.NewString()
	ref := EntityRef(t.Name, id)
	nowISO := s.now().UTC().Format(time.RFC3339)

	item, err := encodeValues(t, values)
	if err != nil {
		return "", err
	}

	// ORM-managed fields
	item[t.PrimaryKey] = &types.AttributeValueMemberS{Value: id}
	item[attrEntityRef] = &types.AttributeValueMemberS{Value: ref}
	item[attrVersion] = &types.AttributeValueMemberN{Value: "1"}
	item[attrCreatedAt] = &types.AttributeValueMemberS{Value: nowISO}
	item[attrUpdatedAt] = &types.AttributeValueMemberS{Value: nowISO}

	// Guard rows come first so that their transaction index equals their
	// position in guards.
	guards := guardRows(t, values)
	items := make([]types.TransactWriteItem, 0, len(guards)+1)
	for _, g := range guards {
		items = append(items, s.putGuard(t.Name, g, ref))
	}
	if len(guards) > 0 {
		pks, _ := attributevalue.MarshalList(guardPKs(guards))
		item[attrUniquePKs] = &types.AttributeValueMemberL{Value: pks}
	}

	entityPutIndex := len(items)
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:                aws.String(s.TableName(t.Name)),
			Item:                     item,
			ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
			ExpressionAttributeNames: map[string]string{"#pk": t.PrimaryKey},
		},
	})

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err := s.mapCreateTransactionError(t.Name, err, guards, entityPutIndex); err != nil {
		return "", err
	}
	return id, nil
}

// Update writes the modified fields of an existing entity. Guard rows of
// unique indexes whose values changed are swapped in the same transaction.
func (s *Store) Update(ctx context.Context, e *model.Entity) error {
	t := e.Table()
	changes := e.Changes()
	if len(changes) == 0 {
		return nil
	}
	ref := EntityRef(t.Name, e.ID())

	// Swap guard rows of changed indexes
	oldGuards := indexGuards(guardRows(t, e.Baseline()))
	newGuards := guardRows(t, e.Values())
	items := []types.TransactWriteItem{}
	putIndex := make(map[int]string)
	for _, idx := range t.UniqueIndexes() {
		oldG, hadOld := oldGuards[idx.Name]
		newG, hasNew := findGuard(newGuards, idx.Name)
		if hadOld && hasNew && oldG.pk == newG.pk {
			continue
		}
		if hadOld {
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName: aws.String(s.config.UniqueTable),
					Key:       guardKey(oldG.pk),
				},
			})
		}
		if hasNew {
			putIndex[len(items)] = idx.Name
			items = append(items, s.putGuard(t.Name, newG, ref))
		}
	}

	// Build the entity update
	var setClauses, removeClauses []string
	exprNames := map[string]string{
		"#pk":         t.PrimaryKey,
		"#updated_at": attrUpdatedAt,
		"#version":    attrVersion,
		"#ttl":        attrTTL,
	}
	exprValues := map[string]types.AttributeValue{
		":updated_at": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)},
		":one":        &types.AttributeValueMemberN{Value: "1"},
	}

	i := 0
	for _, f := range t.Fields() {
		v, ok := changes[f.Name]
		if !ok {
			continue
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		exprNames[nameKey] = f.Name
		i++
		if v == nil {
			removeClauses = append(removeClauses, nameKey)
			continue
		}
		av, err := encodeValue(v)
		if err != nil {
			return fmt.Errorf("marshal %s.%s: %w", t.Name, f.Name, err)
		}
		exprValues[valueKey] = av
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}

	// Add managed field updates
	setClauses = append(setClauses, "#updated_at = :updated_at", "#version = #version + :one")
	if len(items) > 0 {
		exprNames["#unique_pks"] = attrUniquePKs
		if len(newGuards) > 0 {
			pks, _ := attributevalue.MarshalList(guardPKs(newGuards))
			exprValues[":unique_pks"] = &types.AttributeValueMemberL{Value: pks}
			setClauses = append(setClauses, "#unique_pks = :unique_pks")
		} else {
			removeClauses = append(removeClauses, "#unique_pks")
		}
	}

	updateExpr := "SET " + strings.Join(setClauses, ", ")
	if len(removeClauses) > 0 {
		updateExpr += " REMOVE " + strings.Join(removeClauses, ", ")
	}

	if len(items) == 0 {
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(s.TableName(t.Name)),
			Key:                       entityKey(t, e.ID()),
			UpdateExpression:          aws.String(updateExpr),
			ConditionExpression:       aws.String(liveCondition),
			ExpressionAttributeNames:  exprNames,
			ExpressionAttributeValues: exprValues,
		})
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return &model.NotFoundError{Table: t.Name, Key: e.ID()}
		}
		return err
	}

	entityUpdateIndex := len(items)
	items = append(items, types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 aws.String(s.TableName(t.Name)),
			Key:                       entityKey(t, e.ID()),
			UpdateExpression:          aws.String(updateExpr),
			ConditionExpression:       aws.String(liveCondition),
			ExpressionAttributeNames:  exprNames,
			ExpressionAttributeValues: exprValues,
		},
	})

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return s.mapUpdateTransactionError(t.Name, e.ID(), err, putIndex, entityUpdateIndex)
}

// Delete marks the entity for deletion by setting its TTL to now and
// releases its guard rows. The version is incremented to fail concurrent
// writers.
func (s *Store) Delete(ctx context.Context, e *model.Entity) error {
	t := e.Table()
	update := &types.Update{
		TableName:           aws.String(s.TableName(t.Name)),
		Key:                 entityKey(t, e.ID()),
		UpdateExpression:    aws.String("SET #ttl = :now, #version = #version + :one"),
		ConditionExpression: aws.String(liveCondition),
		ExpressionAttributeNames: map[string]string{
			"#pk":      t.PrimaryKey,
			"#ttl":     attrTTL,
			"#version": attrVersion,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{
				Value: strconv.FormatInt(s.now().Unix(), 10),
			},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	}

	guards := guardRows(t, e.Baseline())
	if len(guards) == 0 {
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 update.TableName,
			Key:                       update.Key,
			UpdateExpression:          update.UpdateExpression,
			ConditionExpression:       update.ConditionExpression,
			ExpressionAttributeNames:  update.ExpressionAttributeNames,
			ExpressionAttributeValues: update.ExpressionAttributeValues,
		})
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return s.deletedError(t.Name, e.ID())
		}
		return err
	}

	items := []types.TransactWriteItem{{Update: update}}
	for _, g := range guards {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(s.config.UniqueTable),
				Key:       guardKey(g.pk),
			},
		})
	}
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) && failedAt(txErr, 0) {
		return s.deletedError(t.Name, e.ID())
	}
	return err
}

func (s *Store) deletedError(table, id string) error {
	return fmt.Errorf("%w: %w", ErrAlreadyDeleted, &model.NotFoundError{Table: table, Key: id})
}

func (s *Store) putGuard(table string, g guard, ref string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(s.config.UniqueTable),
			Item: map[string]types.AttributeValue{
				"pk":         &types.AttributeValueMemberS{Value: g.pk},
				"sk":         &types.AttributeValueMemberS{Value: guardSortKey},
				"table_name": &types.AttributeValueMemberS{Value: table},
				"index_name": &types.AttributeValueMemberS{Value: g.index},
				attrEntityRef: &types.AttributeValueMemberS{Value: ref},
			},
			// Fails if another entity already holds this index entry
			ConditionExpression: aws.String("attribute_not_exists(pk)"),
		},
	}
}

// mapCreateTransactionError maps DynamoDB transaction errors for Insert.
// Guard rows occupy the first len(guards) transaction items.
func (s *Store) mapCreateTransactionError(table string, err error, guards []guard, entityPutIndex int) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if !conditionFailed(reason) {
				continue
			}
			if i == entityPutIndex {
				return ErrAlreadyExists
			}
			if i < len(guards) {
				return &unique.ViolationError{Table: table, Index: guards[i].index}
			}
			return &unique.ViolationError{Table: table}
		}
	}

	return err
}

// mapUpdateTransactionError maps DynamoDB transaction errors for Update.
// putIndex maps transaction items that claim a guard row to their index name.
func (s *Store) mapUpdateTransactionError(table, id string, err error, putIndex map[int]string, entityUpdateIndex int) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if !conditionFailed(reason) {
				continue
			}
			if i == entityUpdateIndex {
				return &model.NotFoundError{Table: table, Key: id}
			}
			return &unique.ViolationError{Table: table, Index: putIndex[i]}
		}
	}

	return err
}

func conditionFailed(reason types.CancellationReason) bool {
	return reason.Code != nil && *reason.Code == "ConditionalCheckFailed"
}

func failedAt(txErr *types.TransactionCanceledException, i int) bool {
	return i < len(txErr.CancellationReasons) && conditionFailed(txErr.CancellationReasons[i])
}

func indexGuards(guards []guard) map[string]guard {
	m := make(map[string]guard, len(guards))
	for _, g := range guards {
		m[g.index] = g
	}
	return m
}

func findGuard(guards []guard, index string) (guard, bool) {
	for _, g := range guards {
		if g.index == index {
			return g, true
		}
	}
	return guard{}, false
}
