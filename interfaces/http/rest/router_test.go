package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ailego/application/commands/bus"
	commandhandlers "ailego/application/commands/handlers"
	"ailego/application/graphstate"
	querybus "ailego/application/queries/bus"
	queryhandlers "ailego/application/queries/handlers"
	"ailego/application/sessions"
	"ailego/infrastructure/persistence/memory"
	"ailego/interfaces/http/rest/handlers"
	"ailego/pkg/auth"
	pkgerrors "ailego/pkg/errors"
	"ailego/pkg/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	handler http.Handler
	token   string
}

type options struct {
	verifier bool
	limiter  auth.RateLimiter
	ready    ReadinessCheck
}

func newTestServer(t *testing.T, opts options) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	manager := sessions.NewManager(memory.NewDocumentStore(), nil,
		graphstate.Options{RemoteTimeout: time.Second}, sessions.Config{}, nil, nil, logger)
	t.Cleanup(func() { _ = manager.Stop(context.Background()) })

	commandBus := bus.NewCommandBus(bus.LoggingMiddleware(logger))
	require.NoError(t, commandhandlers.NewEditorHandlers(manager, logger).Register(commandBus))
	queryBus := querybus.NewQueryBus(querybus.LoggingMiddleware(logger))
	require.NoError(t, queryhandlers.NewEditorQueries(manager, nil).Register(queryBus))

	ts := &testServer{}
	var verifier *auth.IdentityVerifier
	if opts.verifier {
		cfg := auth.JWTConfig{SecretKey: "test-secret", Issuer: "ailego"}
		var err error
		verifier, err = auth.NewIdentityVerifier(cfg)
		require.NoError(t, err)
		issuer, err := auth.NewTokenIssuer(cfg, time.Hour)
		require.NoError(t, err)
		ts.token, err = issuer.Issue(auth.Identity{UID: "u1", DisplayName: "Ada"})
		require.NoError(t, err)
	}

	router := NewRouter(commandBus, queryBus, pkgerrors.NewErrorHandler(logger, false),
		nil, opts.limiter, observability.NewCollector("ailego_test"), opts.ready,
		RouterConfig{EnableCORS: true, RateLimit: 1, RateWindow: "1s"}, logger)
	if verifier != nil {
		router.verifier = verifier
	}
	ts.handler = router.Setup()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success, rec.Body.String())
	require.NoError(t, json.Unmarshal(envelope.Data, v))
}

func TestRouter_EditFlow(t *testing.T) {
	ts := newTestServer(t, options{verifier: true})

	rec := ts.do(t, http.MethodPost, "/api/v1/projects", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ProjectID string `json:"projectId"`
	}
	decodeData(t, rec, &created)
	require.NotEmpty(t, created.ProjectID)
	base := "/api/v1/projects/" + created.ProjectID

	type card struct {
		UID      string `json:"uid"`
		Position struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		} `json:"position"`
	}

	rec = ts.do(t, http.MethodPost, base+"/cards", map[string]string{"stage": "data"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first card
	decodeData(t, rec, &first)
	assert.Equal(t, 170.0, first.Position.X)

	rec = ts.do(t, http.MethodPost, base+"/cards", map[string]string{"stage": "model"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var second card
	decodeData(t, rec, &second)

	rec = ts.do(t, http.MethodPost, base+"/links", map[string]string{"start": first.UID, "end": second.UID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPost, base+"/links", map[string]string{"start": first.UID, "end": second.UID})
	require.Equal(t, http.StatusOK, rec.Code, "duplicate link is not added twice")

	rec = ts.do(t, http.MethodPost, base+"/links", map[string]string{"start": first.UID, "end": first.UID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var selfLink handlers.AddLinkResponse
	decodeData(t, rec, &selfLink)
	assert.False(t, selfLink.Added, "self link is ignored")

	rec = ts.do(t, http.MethodPut, base+"/cards/"+first.UID+"/description", map[string]string{"description": "raw sensor data"})
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPut, base+"/cards/"+first.UID+"/position", map[string]float64{"x": 0, "y": 40})
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPut, base+"/cards/"+first.UID+"/size", map[string]float64{"width": 0, "height": 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/cards/"+first.UID+"/comments", map[string]string{"text": "which sensors?"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var comment struct {
		AuthorName string `json:"authorName"`
	}
	decodeData(t, rec, &comment)
	assert.Equal(t, "Ada", comment.AuthorName)

	rec = ts.do(t, http.MethodGet, base+"/graph", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var graph struct {
		Cards []card `json:"cards"`
		Links []struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"links"`
	}
	decodeData(t, rec, &graph)
	assert.Len(t, graph.Cards, 2)
	require.Len(t, graph.Links, 1)
	assert.Equal(t, first.UID, graph.Links[0].Start)

	rec = ts.do(t, http.MethodGet, base+"/cards/"+first.UID+"/thread", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, base+"/gestures", map[string]interface{}{"type": "cancel"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, base+"/reconcile", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, base+"/sync", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodDelete, base+"/cards/"+first.UID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, base+"/graph", nil)
	decodeData(t, rec, &graph)
	assert.Len(t, graph.Cards, 1)
	assert.Empty(t, graph.Links)

	rec = ts.do(t, http.MethodDelete, base+"/session", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

func TestRouter_Errors(t *testing.T) {
	ts := newTestServer(t, options{})

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		errTyp pkgerrors.ErrorType
	}{
		{
			name:   "unknown project",
			method: http.MethodGet,
			path:   "/api/v1/projects/missing/graph",
			status: http.StatusNotFound,
			errTyp: pkgerrors.ErrorTypeNotFound,
		},
		{
			name:   "unknown stage",
			method: http.MethodPost,
			path:   "/api/v1/projects/p1/cards",
			body:   map[string]string{"stage": "astrology"},
			status: http.StatusBadRequest,
			errTyp: pkgerrors.ErrorTypeValidation,
		},
		{
			name:   "unknown body field",
			method: http.MethodPost,
			path:   "/api/v1/projects/p1/cards",
			body:   map[string]string{"stage": "data", "color": "red"},
			status: http.StatusBadRequest,
			errTyp: pkgerrors.ErrorTypeValidation,
		},
		{
			name:   "missing position",
			method: http.MethodPut,
			path:   "/api/v1/projects/p1/cards/c1/position",
			body:   map[string]float64{"x": 3},
			status: http.StatusBadRequest,
			errTyp: pkgerrors.ErrorTypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			var resp pkgerrors.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.True(t, resp.Error)
			assert.Equal(t, string(tt.errTyp), resp.Type)
		})
	}
}

func TestRouter_Authentication(t *testing.T) {
	ts := newTestServer(t, options{verifier: true})

	ts.token = ""
	rec := ts.do(t, http.MethodPost, "/api/v1/projects", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ts.token = "garbage"
	rec = ts.do(t, http.MethodPost, "/api/v1/projects", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health is public")
}

type denyAfter struct{ n int }

func (d *denyAfter) Allow(context.Context, string) (bool, error) {
	d.n--
	return d.n >= 0, nil
}

func (d *denyAfter) Reset(context.Context, string) error { return nil }

func TestRouter_RateLimit(t *testing.T) {
	ts := newTestServer(t, options{limiter: &denyAfter{n: 1}})

	rec := ts.do(t, http.MethodPost, "/api/v1/projects", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/projects", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = ts.do(t, http.MethodGet, "/api/v1/templates", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not limited")
}

func TestRouter_HealthReadyMetrics(t *testing.T) {
	ts := newTestServer(t, options{ready: func(context.Context) error { return errors.New("store down") }})

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "store down")

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ailego_test_http_requests_total"), "request metrics are exported")
}
