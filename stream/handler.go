// Package stream provides DynamoDB Streams handlers that keep sessions
// coherent with deletes made elsewhere.
package stream

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/store"
)

// Evictor drops a cached entity. *session.Session satisfies it.
type Evictor interface {
	Evict(table, id string) bool
}

// Handler evicts deleted entities from registered sessions.
type Handler struct {
	evictors    []Evictor
	tablePrefix string
	logger      *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(logger *slog.Logger, evictors ...Evictor) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		evictors: evictors,
		logger:   logger,
	}
}

// WithTablePrefix sets the prefix stripped from table names found in event
// source ARNs. It must match store.Config.TablePrefix.
func (h *Handler) WithTablePrefix(prefix string) *Handler {
	h.tablePrefix = prefix
	return h
}

// HandleEvictions processes DynamoDB stream events and evicts every entity
// that was soft deleted (TTL newly set) or removed.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleEvictions(ctx context.Context, event events.DynamoDBEvent) error {
	for i := range event.Records {
		h.processRecord(ctx, &event.Records[i])
	}
	return nil
}

// processRecord evicts the entity of a single record and reports how many
// evictors held it.
func (h *Handler) processRecord(_ context.Context, record *events.DynamoDBEventRecord) int {
	var image map[string]events.DynamoDBAttributeValue
	switch record.EventName {
	case "REMOVE":
		image = record.Change.OldImage
	case "MODIFY":
		oldTTL := getNumberAttr(record.Change.OldImage, "ttl")
		newTTL := getNumberAttr(record.Change.NewImage, "ttl")

		// Only process when TTL is newly set (was absent/0, now present)
		if oldTTL != 0 || newTTL == 0 {
			return 0
		}
		image = record.Change.NewImage
	default:
		return 0
	}

	table, id, ok := h.identify(record, image)
	if !ok {
		h.logger.Warn("skipping record without entity reference",
			"eventID", record.EventID,
			"eventName", record.EventName,
		)
		return 0
	}

	evicted := 0
	for _, e := range h.evictors {
		if e.Evict(table, id) {
			evicted++
		}
	}
	h.logger.Debug("processed delete",
		"entityRef", store.EntityRef(table, id),
		"eventName", record.EventName,
		"evicted", evicted,
	)
	return evicted
}

// identify resolves the entity of a record from its entity_ref, falling
// back to the event source table and a single-attribute key.
func (h *Handler) identify(record *events.DynamoDBEventRecord, image map[string]events.DynamoDBAttributeValue) (string, string, bool) {
	if ref := getStringAttr(image, "entity_ref"); ref != "" {
		return store.ParseEntityRef(ref)
	}

	table := tableFromARN(record.EventSourceArn)
	if table == "" || !strings.HasPrefix(table, h.tablePrefix) {
		return "", "", false
	}
	key := ConvertStreamKey(record.Change.Keys)
	if len(key) != 1 {
		return "", "", false
	}
	for _, v := range key {
		if s, ok := v.(*types.AttributeValueMemberS); ok && s.Value != "" {
			return strings.TrimPrefix(table, h.tablePrefix), s.Value, true
		}
	}
	return "", "", false
}

// tableFromARN extracts the table name from a stream ARN such as
// arn:aws:dynamodb:us-east-1:123456789012:table/author/stream/2024-01-01T00:00:00.000.
func tableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	table, _, _ := strings.Cut(rest, "/")
	return table
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// ConvertStreamKey converts a DynamoDB stream key to SDK attribute values.
// Use this when you need to convert keys from stream records to store operations.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for k, v := range streamKey {
		switch v.DataType() {
		case events.DataTypeString:
			result[k] = &types.AttributeValueMemberS{Value: v.String()}
		case events.DataTypeNumber:
			result[k] = &types.AttributeValueMemberN{Value: v.Number()}
		case events.DataTypeBinary:
			result[k] = &types.AttributeValueMemberB{Value: v.Binary()}
		}
	}
	return result
}
