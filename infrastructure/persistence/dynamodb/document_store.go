// Package dynamodb implements the remote stores on a single DynamoDB table
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ailego/application/ports"
	"ailego/infrastructure/persistence/docmodel"
	pkgerrors "ailego/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Item attributes owned by the store. Document fields never use them.
const (
	attrPK         = "PK"
	attrSK         = "SK"
	attrCollection = "Collection"
	attrVersion    = "docVersion"

	documentSK = "DOCUMENT"
)

// maxCASAttempts bounds the read-modify-write retries of RemoveFromArrayField
const maxCASAttempts = 5

// Client is the subset of the DynamoDB API the stores call
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DocumentStore keeps every collection in one table keyed by
// PK=<collection>#<id>, SK=DOCUMENT. Appends use list_append so concurrent
// writers never lose elements; removals are compare-and-swap on docVersion.
type DocumentStore struct {
	client    Client
	tableName string
	logger    *zap.Logger
	newID     func() string
}

// NewDocumentStore creates a DynamoDB-backed RemoteStore
func NewDocumentStore(client Client, tableName string, logger *zap.Logger) *DocumentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

func partitionKey(collection, id string) string {
	return fmt.Sprintf("%s#%s", collection, id)
}

func (s *DocumentStore) key(collection, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: partitionKey(collection, id)},
		attrSK: &types.AttributeValueMemberS{Value: documentSK},
	}
}

// GetDocument reads one document with a strongly consistent read
func (s *DocumentStore) GetDocument(ctx context.Context, collection, id string) (ports.Document, error) {
	doc, _, err := s.get(ctx, collection, id)
	return doc, err
}

func (s *DocumentStore) get(ctx context.Context, collection, id string) (ports.Document, int, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(collection, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	if len(out.Item) == 0 {
		return nil, 0, pkgerrors.NewNotFoundError(fmt.Sprintf("%s/%s", collection, id))
	}
	return decodeItem(out.Item)
}

// CreateDocument puts a new item under a fresh uuid
func (s *DocumentStore) CreateDocument(ctx context.Context, collection string, fields ports.Document) (ports.Document, error) {
	op := "create " + collection
	doc, err := normalize(fields)
	if err != nil {
		return nil, pkgerrors.NewWriteError(op, err)
	}

	id := s.newID()
	doc[ports.IDField] = id

	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return nil, pkgerrors.NewWriteError(op, fmt.Errorf("failed to marshal document: %w", err))
	}
	item[attrPK] = &types.AttributeValueMemberS{Value: partitionKey(collection, id)}
	item[attrSK] = &types.AttributeValueMemberS{Value: documentSK}
	item[attrCollection] = &types.AttributeValueMemberS{Value: collection}
	item[attrVersion] = &types.AttributeValueMemberN{Value: "1"}

	expr, err := expression.NewBuilder().
		WithCondition(expression.Name(attrPK).AttributeNotExists()).
		Build()
	if err != nil {
		return nil, pkgerrors.NewWriteError(op, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tableName),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		return nil, pkgerrors.NewWriteError(op, err)
	}

	s.logger.Debug("Document created",
		zap.String("collection", collection),
		zap.String("id", id),
	)
	return doc, nil
}

// UpdateDocument sets the given top-level fields on an existing item
func (s *DocumentStore) UpdateDocument(ctx context.Context, collection, id string, fields ports.Document) error {
	op := "update " + collection
	patch, err := normalize(fields)
	if err != nil {
		return pkgerrors.NewWriteError(op, err)
	}
	delete(patch, ports.IDField)
	if len(patch) == 0 {
		return nil
	}

	names := make([]string, 0, len(patch))
	for name := range patch {
		names = append(names, name)
	}
	sort.Strings(names)

	update := expression.Add(expression.Name(attrVersion), expression.Value(1))
	for _, name := range names {
		if reserved(name) {
			return pkgerrors.NewWriteError(op, fmt.Errorf("field %q is reserved", name))
		}
		update = update.Set(expression.Name(name), expression.Value(patch[name]))
	}

	return s.update(ctx, op, collection, id, update, expression.Name(attrPK).AttributeExists())
}

// DeleteDocument removes an item; a missing item is not an error
func (s *DocumentStore) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(collection, id),
	})
	if err != nil {
		return pkgerrors.NewWriteError("delete "+collection, err)
	}
	return nil
}

// AppendToArrayField appends with list_append, starting from an empty list
// when the attribute is absent
func (s *DocumentStore) AppendToArrayField(ctx context.Context, collection, id, field string, values ...interface{}) error {
	op := fmt.Sprintf("append %s.%s", collection, field)
	if reserved(field) {
		return pkgerrors.NewWriteError(op, fmt.Errorf("field %q is reserved", field))
	}
	normalized, err := docmodel.NormalizeValues(values)
	if err != nil {
		return pkgerrors.NewWriteError(op, err)
	}
	if len(normalized) == 0 {
		return nil
	}

	name := expression.Name(field)
	update := expression.Set(name,
		expression.ListAppend(
			expression.IfNotExists(name, expression.Value([]interface{}{})),
			expression.Value(normalized),
		)).
		Add(expression.Name(attrVersion), expression.Value(1))

	return s.update(ctx, op, collection, id, update, expression.Name(attrPK).AttributeExists())
}

// RemoveFromArrayField rewrites the list when docVersion is unchanged since
// the read, retrying on contention
func (s *DocumentStore) RemoveFromArrayField(ctx context.Context, collection, id, field string, values ...interface{}) error {
	op := fmt.Sprintf("remove %s.%s", collection, field)
	if reserved(field) {
		return pkgerrors.NewWriteError(op, fmt.Errorf("field %q is reserved", field))
	}
	normalized, err := docmodel.NormalizeValues(values)
	if err != nil {
		return pkgerrors.NewWriteError(op, err)
	}

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		doc, version, err := s.get(ctx, collection, id)
		if err != nil {
			return pkgerrors.NewWriteError(op, err)
		}

		current, err := docmodel.ArrayField(doc, field)
		if err != nil {
			return pkgerrors.NewWriteError(op, err)
		}
		kept := docmodel.RemoveValues(current, normalized)
		if len(kept) == len(current) {
			return nil
		}

		update := expression.Set(expression.Name(field), expression.Value(kept)).
			Set(expression.Name(attrVersion), expression.Value(version+1))
		cond := expression.Name(attrVersion).Equal(expression.Value(version))
		if version == 0 {
			cond = expression.Name(attrPK).AttributeExists().And(expression.Name(attrVersion).AttributeNotExists())
		}

		err = s.update(ctx, op, collection, id, update, cond)
		if err == nil {
			return nil
		}
		if !isConditionFailure(err) {
			return err
		}

		s.logger.Debug("Concurrent write detected, retrying array removal",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.String("field", field),
			zap.Int("attempt", attempt),
		)
	}

	return pkgerrors.NewWriteError(op, pkgerrors.NewConflictError(
		fmt.Sprintf("%s/%s changed concurrently %d times", collection, id, maxCASAttempts)))
}

// QueryDocuments scans the collection for items whose field equals value.
// Results are ordered by id.
func (s *DocumentStore) QueryDocuments(ctx context.Context, collection, field string, value interface{}) ([]ports.Document, error) {
	want, err := docmodel.Normalize(value)
	if err != nil {
		return nil, err
	}

	filter := expression.Name(attrCollection).Equal(expression.Value(collection)).
		And(expression.Name(field).Equal(expression.Value(want)))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	input := &dynamodb.ScanInput{
		TableName:                 aws.String(s.tableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	}

	var docs []ports.Document
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", collection, err)
		}
		for _, item := range page.Items {
			doc, _, err := decodeItem(item)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })
	if docs == nil {
		docs = []ports.Document{}
	}
	return docs, nil
}

func (s *DocumentStore) update(ctx context.Context, op, collection, id string, update expression.UpdateBuilder, cond expression.ConditionBuilder) error {
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return pkgerrors.NewWriteError(op, fmt.Errorf("failed to build update: %w", err))
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       s.key(collection, id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err == nil {
		return nil
	}

	var conditionalCheckFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionalCheckFailed) {
		return pkgerrors.NewWriteError(op, conditionFailure{collection: collection, id: id})
	}
	return pkgerrors.NewWriteError(op, err)
}

// conditionFailure marks a write rejected by its condition expression. The
// caller decides whether that means a missing item or a lost race.
type conditionFailure struct {
	collection, id string
}

func (c conditionFailure) Error() string {
	return fmt.Sprintf("condition failed for %s/%s", c.collection, c.id)
}

// Unwrap lets errors.As find a NOT_FOUND AppError for the common case of
// writing to a missing item
func (c conditionFailure) Unwrap() error {
	return pkgerrors.NewNotFoundError(fmt.Sprintf("%s/%s", c.collection, c.id))
}

func isConditionFailure(err error) bool {
	var cf conditionFailure
	return errors.As(err, &cf)
}

func decodeItem(item map[string]types.AttributeValue) (ports.Document, int, error) {
	doc := ports.Document{}
	if err := attributevalue.UnmarshalMap(item, &doc); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal document: %w", err)
	}

	version := 0
	if v, ok := doc[attrVersion].(float64); ok {
		version = int(v)
	}
	if _, ok := doc[ports.IDField]; !ok {
		if pk, ok := doc[attrPK].(string); ok {
			if i := strings.Index(pk, "#"); i >= 0 {
				doc[ports.IDField] = pk[i+1:]
			}
		}
	}
	for _, attr := range []string{attrPK, attrSK, attrCollection, attrVersion} {
		delete(doc, attr)
	}
	return doc, version, nil
}

func reserved(field string) bool {
	switch field {
	case attrPK, attrSK, attrCollection, attrVersion:
		return true
	}
	return false
}

func normalize(fields ports.Document) (ports.Document, error) {
	n, err := docmodel.Normalize(fields)
	if err != nil {
		return nil, err
	}
	m, ok := n.(map[string]interface{})
	if !ok {
		return ports.Document{}, nil
	}
	return ports.Document(m), nil
}
