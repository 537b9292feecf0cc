package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// ProjectIndex is the GSI listing the connections attached to a project
const ProjectIndex = "project-index"

// connectionTTL bounds how long a connection outlives a missed disconnect
const connectionTTL = 24 * time.Hour

// Connection is a websocket view attached to a project
type Connection struct {
	ConnectionID string    `dynamodbav:"ConnectionID"`
	ProjectID    string    `dynamodbav:"ProjectID"`
	UserID       string    `dynamodbav:"UserID"`
	ConnectedAt  time.Time `dynamodbav:"ConnectedAt"`
}

type connectionItem struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`
	Connection
	TTL int64 `dynamodbav:"TTL"`
}

// ConnectionStore registers websocket connections per project
type ConnectionStore struct {
	client    Client
	tableName string
	logger    *zap.Logger
}

// NewConnectionStore creates a connection registry on the connections table
func NewConnectionStore(client Client, tableName string, logger *zap.Logger) *ConnectionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionStore{client: client, tableName: tableName, logger: logger}
}

func connectionKey(connectionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "CONNECTION#" + connectionID},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

// Save stores a connection, replacing an earlier record with the same id
func (s *ConnectionStore) Save(ctx context.Context, conn Connection) error {
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = time.Now().UTC()
	}
	item, err := attributevalue.MarshalMap(connectionItem{
		PK:         "CONNECTION#" + conn.ConnectionID,
		SK:         "METADATA",
		GSI1PK:     "PROJECT#" + conn.ProjectID,
		GSI1SK:     "CONNECTION#" + conn.ConnectionID,
		Connection: conn,
		TTL:        conn.ConnectedAt.Add(connectionTTL).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal connection: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to store connection: %w", err)
	}

	s.logger.Info("Connection stored",
		zap.String("connectionID", conn.ConnectionID),
		zap.String("projectID", conn.ProjectID),
		zap.String("userID", conn.UserID),
	)
	return nil
}

// Delete removes a connection record
func (s *ConnectionStore) Delete(ctx context.Context, connectionID string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       connectionKey(connectionID),
	}); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}

// ListByProject returns the ids of the connections attached to a project
func (s *ConnectionStore) ListByProject(ctx context.Context, projectID string) ([]string, error) {
	keyCond := expression.Key("GSI1PK").Equal(expression.Value("PROJECT#" + projectID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build connection query: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(ProjectIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var ids []string
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query connections: %w", err)
		}
		var items []connectionItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal connections: %w", err)
		}
		for _, item := range items {
			ids = append(ids, item.ConnectionID)
		}
	}
	return ids, nil
}
