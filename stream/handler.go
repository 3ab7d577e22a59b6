// Package stream turns DynamoDB stream records of model tables into document
// change events on the registry's event bus.
package stream

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/jacentio/moody/model"
	"github.com/jacentio/moody/store"
)

// Handler processes DynamoDB stream events for registered models.
type Handler struct {
	registry *model.Registry
	prefix   string
	logger   *zap.Logger
}

// NewHandler creates a stream handler. Table names are mapped to model names
// by stripping prefix.
func NewHandler(reg *model.Registry, prefix string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: reg,
		prefix:   prefix,
		logger:   logger,
	}
}

// HandleRecords emits a change event for every record of a registered model.
// Records of other tables are skipped. This function is designed to be used
// as an AWS Lambda handler.
func (h *Handler) HandleRecords(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.processRecord(record); err != nil {
			h.logger.Error("failed to process record",
				zap.String("eventID", record.EventID),
				zap.Error(err),
			)
			return err // Lambda retries the batch
		}
	}
	return nil
}

func (h *Handler) processRecord(record events.DynamoDBEventRecord) error {
	table := TableName(record.EventSourceArn)
	name := strings.TrimPrefix(table, h.prefix)
	m, err := h.registry.Model(name)
	if err != nil {
		h.logger.Debug("skipping record of unregistered table", zap.String("table", table))
		return nil
	}

	var (
		kind  model.EventType
		image map[string]events.DynamoDBAttributeValue
	)
	switch record.EventName {
	case "INSERT":
		kind, image = model.EventDocumentCreated, record.Change.NewImage
	case "MODIFY":
		kind, image = model.EventDocumentUpdated, record.Change.NewImage
		// A newly set TTL is a soft delete.
		if getNumberAttr(record.Change.OldImage, store.AttrTTL) == 0 && getNumberAttr(record.Change.NewImage, store.AttrTTL) != 0 {
			kind = model.EventDocumentDeleted
		}
	case "REMOVE":
		kind, image = model.EventDocumentDeleted, record.Change.OldImage
	default:
		return nil
	}

	keys, err := ConvertImage(record.Change.Keys)
	if err != nil {
		return fmt.Errorf("convert keys: %w", err)
	}
	doc, err := ConvertImage(image)
	if err != nil {
		return fmt.Errorf("convert image: %w", err)
	}
	id := keys[m.IDField()]
	if id == nil {
		id = doc[m.IDField()]
	}

	h.logger.Debug("document change",
		zap.String("event", string(kind)),
		zap.String("model", m.Name()),
		zap.Any("id", id),
	)
	h.registry.Emit(model.Event{
		Type:       kind,
		Model:      m.Name(),
		DocumentID: id,
		Document:   doc,
	})
	return nil
}

// TableName extracts the table name from a stream ARN such as
// arn:aws:dynamodb:us-east-1:123456789012:table/widgets/stream/2024-01-01T00:00:00.000.
func TableName(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	table, _, _ := strings.Cut(rest, "/")
	return table
}

// ConvertImage converts a stream image into a document. Numbers decode as float64.
// A nil image yields a nil document.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) (store.Document, error) {
	if image == nil {
		return nil, nil
	}
	item := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		item[k] = convertValue(v)
	}
	var doc store.Document
	if err := attributevalue.UnmarshalMap(item, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// convertValue converts a stream attribute value to its SDK counterpart.
func convertValue(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	case events.DataTypeList:
		list := v.List()
		out := make([]types.AttributeValue, len(list))
		for i, e := range list {
			out[i] = convertValue(e)
		}
		return &types.AttributeValueMemberL{Value: out}
	case events.DataTypeMap:
		m := v.Map()
		out := make(map[string]types.AttributeValue, len(m))
		for k, e := range m {
			out[k] = convertValue(e)
		}
		return &types.AttributeValueMemberM{Value: out}
	}
	return &types.AttributeValueMemberNULL{Value: true}
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
