package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jacentio/moody/filter"
)

// Table provides DynamoDB document operations for a single table.
type Table struct {
	client  Client
	name    string
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a new Table handle. A nil logger disables logging.
func New(client Client, table string, config Config, logger *zap.Logger) *Table {
	config.validate()
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Table{
		client: client,
		name:   table,
		config: config,
		logger: logger.With(zap.String("table", table)),
	}
	if config.RateLimit > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}
	return t
}

// Name returns the DynamoDB table name.
func (t *Table) Name() string {
	return t.name
}

// IDField returns the partition key attribute.
func (t *Table) IDField() string {
	return t.config.IDField
}

// wait blocks until the rate limiter admits one call.
func (t *Table) wait(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

// key builds the primary key for an identifier.
func (t *Table) key(id any) (map[string]types.AttributeValue, error) {
	if id == nil {
		return nil, ErrMissingID
	}
	av, err := attributevalue.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	return map[string]types.AttributeValue{t.config.IDField: av}, nil
}

// Create stores a new document and returns it as written.
// A missing identifier is generated. Creating an existing identifier fails with ErrAlreadyExists.
func (t *Table) Create(ctx context.Context, doc Document) (Document, error) {
	item := doc.Clone()
	if item == nil {
		item = Document{}
	}
	if id, ok := item[t.config.IDField]; !ok || id == nil || id == "" {
		item[t.config.IDField] = uuid.NewString()
	}

	// Set ORM-managed fields
	if t.config.Timestamps {
		now := time.Now().UTC().Format(time.RFC3339)
		item[AttrCreatedAt] = now
		item[AttrUpdatedAt] = now
		item[AttrVersion] = 1
	}

	raw, err := attributevalue.MarshalMap(map[string]any(item))
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}

	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(t.name),
		Item:                     raw,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": t.config.IDField},
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}

	t.logger.Debug("document created", zap.Any("id", item[t.config.IDField]))
	return unmarshalDocument(raw)
}

// Get retrieves a document by identifier, returning ErrNotFound if deleted or missing.
func (t *Table) Get(ctx context.Context, id any) (Document, error) {
	key, err := t.key(id)
	if err != nil {
		return nil, err
	}
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	result, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.name),
		Key:       key,
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	if t.config.SoftDelete && IsDeleted(result.Item) {
		return nil, ErrNotFound
	}

	return unmarshalDocument(result.Item)
}

// UpdateByID applies a patch to an existing document and returns the updated document.
// Nil values remove attributes. The identifier and managed attributes cannot be patched.
func (t *Table) UpdateByID(ctx context.Context, id any, patch Document) (Document, error) {
	key, err := t.key(id)
	if err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(patch))
	for k := range patch {
		if t.managed(k) {
			continue
		}
		fields = append(fields, k)
	}
	sort.Strings(fields)

	expr := newExpression()
	var setClauses, removeClauses []string
	for _, k := range fields {
		v := patch[k]
		if v == nil {
			removeClauses = append(removeClauses, expr.name(k))
			continue
		}
		val, err := expr.value(v)
		if err != nil {
			return nil, err
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", expr.name(k), val))
	}

	if t.config.Timestamps {
		now, err := expr.value(time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return nil, err
		}
		zero, _ := expr.value(0)
		one, _ := expr.value(1)
		version := expr.name(AttrVersion)
		setClauses = append(setClauses,
			fmt.Sprintf("%s = %s", expr.name(AttrUpdatedAt), now),
			fmt.Sprintf("%s = if_not_exists(%s, %s) + %s", version, version, zero, one),
		)
	}

	if len(setClauses) == 0 && len(removeClauses) == 0 {
		return t.Get(ctx, id)
	}

	var update string
	if len(setClauses) > 0 {
		update = "SET " + strings.Join(setClauses, ", ")
	}
	if len(removeClauses) > 0 {
		if update != "" {
			update += " "
		}
		update += "REMOVE " + strings.Join(removeClauses, ", ")
	}

	condition := fmt.Sprintf("attribute_exists(%s)", expr.name(t.config.IDField))
	if t.config.SoftDelete {
		condition += fmt.Sprintf(" AND attribute_not_exists(%s)", expr.name(AttrTTL))
	}

	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	out, err := t.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(t.name),
		Key:                       key,
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  expr.attributeNames(),
		ExpressionAttributeValues: expr.attributeValues(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	t.logger.Debug("document updated", zap.Any("id", id), zap.Strings("fields", fields))
	return unmarshalDocument(out.Attributes)
}

// DeleteByID deletes a document and returns it as it was before deletion.
// With SoftDelete the document is marked with an expired TTL instead of being removed.
func (t *Table) DeleteByID(ctx context.Context, id any) (Document, error) {
	if t.config.SoftDelete {
		return t.markDeleted(ctx, id)
	}

	key, err := t.key(id)
	if err != nil {
		return nil, err
	}
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	out, err := t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(t.name),
		Key:                      key,
		ConditionExpression:      aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": t.config.IDField},
		ReturnValues:             types.ReturnValueAllOld,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	t.logger.Debug("document deleted", zap.Any("id", id))
	return unmarshalDocument(out.Attributes)
}

// markDeleted sets the TTL of a document to now.
// This also increments the version to fail concurrent updates.
func (t *Table) markDeleted(ctx context.Context, id any) (Document, error) {
	key, err := t.key(id)
	if err != nil {
		return nil, err
	}

	expr := newExpression()
	condition := fmt.Sprintf("attribute_exists(%s) AND attribute_not_exists(%s)",
		expr.name(t.config.IDField), expr.name(AttrTTL))
	update := "SET " + expr.expire(time.Now())
	if t.config.Timestamps {
		version := expr.name(AttrVersion)
		update += fmt.Sprintf(", %s = if_not_exists(%s, %s) + %s", version, version, expr.number(0), expr.number(1))
	}

	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	out, err := t.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(t.name),
		Key:                       key,
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  expr.attributeNames(),
		ExpressionAttributeValues: expr.attributeValues(),
		ReturnValues:              types.ReturnValueAllOld,
	})
	if err != nil {
		// Missing or already has TTL (already deleted)
		if isConditionFailed(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	t.logger.Debug("document marked deleted", zap.Any("id", id))
	return unmarshalDocument(out.Attributes)
}

// Query reads documents through the table's primary key or a secondary index.
func (t *Table) Query(ctx context.Context, input QueryInput) (*Result, error) {
	if len(input.Key) == 0 {
		return nil, errors.New("moody: query requires a key condition")
	}

	expr := newExpression()
	keyExpr, err := expr.conditions(input.Key)
	if err != nil {
		return nil, err
	}
	filterExpr, err := t.filterExpression(expr, input.Filter)
	if err != nil {
		return nil, err
	}

	queryInput := &dynamodb.QueryInput{
		TableName:                 aws.String(t.name),
		KeyConditionExpression:    aws.String(keyExpr),
		ExpressionAttributeNames:  expr.attributeNames(),
		ExpressionAttributeValues: expr.attributeValues(),
	}
	if filterExpr != "" {
		queryInput.FilterExpression = aws.String(filterExpr)
	}
	if input.IndexName != "" {
		queryInput.IndexName = aws.String(input.IndexName)
	}
	if input.Descending {
		queryInput.ScanIndexForward = aws.Bool(false)
	}
	if input.Count {
		queryInput.Select = types.SelectCount
	}

	// Paginate through all results. Limit is applied to matches, not to
	// evaluated items, so it is not passed to DynamoDB.
	result := &Result{Items: []Document{}}
	pages := 0
	paginator := dynamodb.NewQueryPaginator(t.client, queryInput)
	for paginator.HasMorePages() {
		if err := t.wait(ctx); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		pages++
		done, err := t.collect(result, page.Items, int(page.Count), input.Count, input.Limit)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}

	t.logger.Debug("query",
		zap.String("index", input.IndexName),
		zap.Int("pages", pages),
		zap.Int("count", result.Count),
	)
	return result, nil
}

// Scan reads every document in the table, keeping those that match the filter.
func (t *Table) Scan(ctx context.Context, input ScanInput) (*Result, error) {
	expr := newExpression()
	filterExpr, err := t.filterExpression(expr, input.Filter)
	if err != nil {
		return nil, err
	}

	scanInput := &dynamodb.ScanInput{
		TableName:                 aws.String(t.name),
		ExpressionAttributeNames:  expr.attributeNames(),
		ExpressionAttributeValues: expr.attributeValues(),
	}
	if filterExpr != "" {
		scanInput.FilterExpression = aws.String(filterExpr)
	}
	if input.Count {
		scanInput.Select = types.SelectCount
	}

	result := &Result{Items: []Document{}}
	pages := 0
	paginator := dynamodb.NewScanPaginator(t.client, scanInput)
	for paginator.HasMorePages() {
		if err := t.wait(ctx); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		pages++
		done, err := t.collect(result, page.Items, int(page.Count), input.Count, input.Limit)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}

	t.logger.Debug("scan", zap.Int("pages", pages), zap.Int("count", result.Count))
	return result, nil
}

// filterExpression renders filter predicates merged with the TTL filter when soft deletes are on.
func (t *Table) filterExpression(expr *expression, preds []filter.Predicate) (string, error) {
	filterExpr, err := expr.conditions(preds)
	if err != nil {
		return "", err
	}
	if !t.config.SoftDelete {
		return filterExpr, nil
	}

	return expr.onlyLive(filterExpr, time.Now()), nil
}

// collect adds one page to the result and reports whether the limit was reached.
func (t *Table) collect(result *Result, items []map[string]types.AttributeValue, count int, countOnly bool, limit int) (bool, error) {
	if countOnly {
		result.Count += count
		return false, nil
	}
	for _, raw := range items {
		doc, err := unmarshalDocument(raw)
		if err != nil {
			return false, err
		}
		result.Items = append(result.Items, doc)
		result.Count++
		if limit > 0 && result.Count >= limit {
			return true, nil
		}
	}
	return false, nil
}

// managed reports whether an attribute is maintained by the table rather than the caller.
func (t *Table) managed(attr string) bool {
	switch attr {
	case t.config.IDField, AttrTTL:
		return true
	case AttrCreatedAt, AttrUpdatedAt, AttrVersion:
		return t.config.Timestamps
	}
	return false
}

// unmarshalDocument converts a DynamoDB item to a Document.
func unmarshalDocument(raw map[string]types.AttributeValue) (Document, error) {
	if raw == nil {
		return nil, nil
	}
	var doc map[string]any
	if err := attributevalue.UnmarshalMap(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return Document(doc), nil
}

func isConditionFailed(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}
