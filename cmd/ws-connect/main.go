// Package main implements the websocket $connect and $disconnect handler.
// A view attaches to one project; the editor pushes that project's changes
// to every attached connection.
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"ailego/infrastructure/config"
	"ailego/infrastructure/di"
	"ailego/infrastructure/persistence/dynamodb"
	"ailego/pkg/auth"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"
)

const (
	routeConnect    = "$connect"
	routeDisconnect = "$disconnect"
)

type connectionRegistry interface {
	Save(ctx context.Context, conn dynamodb.Connection) error
	Delete(ctx context.Context, connectionID string) error
}

type tokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

type connectHandler struct {
	connections connectionRegistry
	// verifier is nil when the editor runs unauthenticated
	verifier tokenVerifier
	now      func() time.Time
	logger   *zap.Logger
}

func (h *connectHandler) handle(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := req.RequestContext.ConnectionID

	switch req.RequestContext.RouteKey {
	case routeDisconnect:
		if err := h.connections.Delete(ctx, connectionID); err != nil {
			h.logger.Error("Failed to remove connection", zap.String("connectionID", connectionID), zap.Error(err))
			return respond(http.StatusInternalServerError), nil
		}
		return respond(http.StatusOK), nil
	case routeConnect:
	default:
		return respond(http.StatusBadRequest), nil
	}

	projectID := req.QueryStringParameters["projectId"]
	if projectID == "" {
		return respond(http.StatusBadRequest), nil
	}

	identity := auth.Anonymous
	if h.verifier != nil {
		token := req.QueryStringParameters["token"]
		if token == "" {
			token = req.Headers["Authorization"]
		}
		id, err := h.verifier.Verify(token)
		if err != nil {
			h.logger.Warn("Websocket authentication failed",
				zap.String("connectionID", connectionID),
				zap.Error(err),
			)
			return respond(http.StatusUnauthorized), nil
		}
		identity = id
	}

	conn := dynamodb.Connection{
		ConnectionID: connectionID,
		ProjectID:    projectID,
		UserID:       identity.UID,
		ConnectedAt:  h.now().UTC(),
	}
	if err := h.connections.Save(ctx, conn); err != nil {
		h.logger.Error("Failed to store connection", zap.String("connectionID", connectionID), zap.Error(err))
		return respond(http.StatusInternalServerError), nil
	}
	return respond(http.StatusOK), nil
}

func respond(status int) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: status}
}

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := di.ProvideLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	awsCfg, err := di.ProvideAWSConfig(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	}
	verifier, err := di.ProvideIdentityVerifier(cfg)
	if err != nil {
		logger.Fatal("Failed to create token verifier", zap.Error(err))
	}

	h := &connectHandler{
		connections: di.ProvideConnectionStore(di.ProvideDynamoDBClient(awsCfg, cfg), cfg, logger),
		now:         time.Now,
		logger:      logger,
	}
	if verifier != nil {
		h.verifier = verifier
	}

	lambda.Start(h.handle)
}
