// Package websocket pushes graph notifications to the views connected
// through API Gateway websockets.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ailego/domain/events"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwTypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"go.uber.org/zap"
)

// Client is the subset of the management API the notifier calls
type Client interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// Connections lists and forgets the connections of a project
type Connections interface {
	ListByProject(ctx context.Context, projectID string) ([]string, error)
	Delete(ctx context.Context, connectionID string) error
}

// Message is the frame sent to a view
type Message struct {
	Type      string             `json:"type"`
	ProjectID string             `json:"projectId"`
	Timestamp int64              `json:"timestamp"`
	Data      events.DomainEvent `json:"data"`
}

// NewClient builds a management API client for the websocket endpoint
func NewClient(cfg aws.Config, endpoint string) *apigatewaymanagementapi.Client {
	return apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s", endpoint))
	})
}

// Notifier implements ports.ViewNotifier
type Notifier struct {
	client      Client
	connections Connections
	logger      *zap.Logger
}

// NewNotifier creates a websocket notifier
func NewNotifier(client Client, connections Connections, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{client: client, connections: connections, logger: logger}
}

// Notify sends event to every connection of its project. Stale connections
// are removed; the first other failure is returned after all sends.
func (n *Notifier) Notify(ctx context.Context, event events.DomainEvent) error {
	projectID := event.GetAggregateID()
	connIDs, err := n.connections.ListByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to list connections: %w", err)
	}
	if len(connIDs) == 0 {
		return nil
	}

	payload, err := json.Marshal(Message{
		Type:      event.GetEventType(),
		ProjectID: projectID,
		Timestamp: event.GetTimestamp().Unix(),
		Data:      event,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	var firstErr error
	sent := 0
	for _, connID := range connIDs {
		err := n.send(ctx, connID, payload)
		if err == nil {
			sent++
			continue
		}

		var goneErr *apigwTypes.GoneException
		if errors.As(err, &goneErr) {
			n.logger.Debug("Removing stale connection",
				zap.String("connectionID", connID),
				zap.String("projectID", projectID),
			)
			if delErr := n.connections.Delete(ctx, connID); delErr != nil {
				n.logger.Warn("Failed to remove stale connection",
					zap.String("connectionID", connID),
					zap.Error(delErr),
				)
			}
			continue
		}

		n.logger.Warn("Failed to push notification",
			zap.String("connectionID", connID),
			zap.String("eventType", event.GetEventType()),
			zap.Error(err),
		)
		if firstErr == nil {
			firstErr = err
		}
	}

	n.logger.Debug("Notification pushed",
		zap.String("projectID", projectID),
		zap.String("eventType", event.GetEventType()),
		zap.Int("sent", sent),
		zap.Int("connections", len(connIDs)),
	)
	return firstErr
}

func (n *Notifier) send(ctx context.Context, connID string, payload []byte) error {
	_, err := n.client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connID),
		Data:         payload,
	})
	return err
}
