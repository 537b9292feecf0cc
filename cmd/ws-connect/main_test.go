package main

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"ailego/infrastructure/persistence/dynamodb"
	"ailego/pkg/auth"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRegistry struct {
	saved   []dynamodb.Connection
	deleted []string
	err     error
}

func (f *fakeRegistry) Save(_ context.Context, conn dynamodb.Connection) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, conn)
	return nil
}

func (f *fakeRegistry) Delete(_ context.Context, connectionID string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, connectionID)
	return nil
}

type staticVerifier struct{}

func (staticVerifier) Verify(token string) (auth.Identity, error) {
	if token != "good" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return auth.Identity{UID: "u1"}, nil
}

func request(route string, query map[string]string) events.APIGatewayWebsocketProxyRequest {
	return events.APIGatewayWebsocketProxyRequest{
		RequestContext: events.APIGatewayWebsocketProxyRequestContext{
			ConnectionID: "conn-1",
			RouteKey:     route,
		},
		QueryStringParameters: query,
	}
}

func TestConnectHandler(t *testing.T) {
	connectedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		verifier  tokenVerifier
		req       events.APIGatewayWebsocketProxyRequest
		storeErr  error
		status    int
		savedUser string
		saved     int
		deleted   int
	}{
		{
			name:      "connect with token",
			verifier:  staticVerifier{},
			req:       request(routeConnect, map[string]string{"projectId": "p1", "token": "good"}),
			status:    http.StatusOK,
			savedUser: "u1",
			saved:     1,
		},
		{
			name:     "connect with bad token",
			verifier: staticVerifier{},
			req:      request(routeConnect, map[string]string{"projectId": "p1", "token": "bad"}),
			status:   http.StatusUnauthorized,
		},
		{
			name:   "connect anonymously",
			req:    request(routeConnect, map[string]string{"projectId": "p1"}),
			status: http.StatusOK,
			saved:  1,
		},
		{
			name:   "connect without project",
			req:    request(routeConnect, nil),
			status: http.StatusBadRequest,
		},
		{
			name:     "store failure",
			req:      request(routeConnect, map[string]string{"projectId": "p1"}),
			storeErr: errors.New("throttled"),
			status:   http.StatusInternalServerError,
		},
		{
			name:    "disconnect",
			req:     request(routeDisconnect, nil),
			status:  http.StatusOK,
			deleted: 1,
		},
		{
			name:   "unknown route",
			req:    request("$default", nil),
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := &fakeRegistry{err: tt.storeErr}
			h := &connectHandler{
				connections: registry,
				verifier:    tt.verifier,
				now:         func() time.Time { return connectedAt },
				logger:      zap.NewNop(),
			}

			resp, err := h.handle(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			require.Len(t, registry.saved, tt.saved)
			assert.Len(t, registry.deleted, tt.deleted)
			if tt.saved > 0 {
				assert.Equal(t, "p1", registry.saved[0].ProjectID)
				assert.Equal(t, tt.savedUser, registry.saved[0].UserID)
				assert.Equal(t, connectedAt, registry.saved[0].ConnectedAt)
			}
		})
	}
}
