// Package handlers answers editor queries from open sessions
package handlers

import (
	"context"
	"fmt"

	"ailego/application/projections"
	"ailego/application/queries"
	"ailego/application/queries/bus"
	"ailego/application/sessions"
	"ailego/domain/core/valueobjects"
	"ailego/domain/templates"
)

// EditorQueries reads from the session of the queried project
type EditorQueries struct {
	sessions  *sessions.Manager
	templates *templates.Catalog
}

// NewEditorQueries creates the query handler set
func NewEditorQueries(manager *sessions.Manager, catalog *templates.Catalog) *EditorQueries {
	if catalog == nil {
		catalog = templates.Builtin()
	}
	return &EditorQueries{sessions: manager, templates: catalog}
}

// Register adds every editor query to the bus
func (h *EditorQueries) Register(b *bus.QueryBus) error {
	registrations := []struct {
		query   bus.Query
		handler bus.QueryHandlerFunc
	}{
		{queries.GetGraphQuery{}, h.getGraph},
		{queries.GetSyncStatusQuery{}, h.getSyncStatus},
		{queries.GetCardThreadQuery{}, h.getCardThread},
		{queries.ListTemplatesQuery{}, h.listTemplates},
	}
	for _, r := range registrations {
		if err := b.Register(r.query, r.handler); err != nil {
			return err
		}
	}
	return nil
}

func unexpected(q bus.Query) error {
	return fmt.Errorf("unexpected query type %T", q)
}

func (h *EditorQueries) getGraph(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.GetGraphQuery)
	if !ok {
		return nil, unexpected(q)
	}
	s, err := h.sessions.Acquire(ctx, valueobjects.ProjectID(query.ProjectID))
	if err != nil {
		return nil, err
	}

	result := queries.GraphResult{
		Snapshot: s.State.Snapshot(),
		Views:    s.Canvas.Views(),
	}
	if conn, ok := s.Canvas.Connector(); ok {
		result.Connector = &conn
	}
	return result, nil
}

func (h *EditorQueries) getSyncStatus(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.GetSyncStatusQuery)
	if !ok {
		return nil, unexpected(q)
	}
	s, err := h.sessions.Acquire(ctx, valueobjects.ProjectID(query.ProjectID))
	if err != nil {
		return nil, err
	}
	return s.State.SyncStatus(), nil
}

func (h *EditorQueries) getCardThread(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.GetCardThreadQuery)
	if !ok {
		return nil, unexpected(q)
	}
	s, err := h.sessions.Acquire(ctx, valueobjects.ProjectID(query.ProjectID))
	if err != nil {
		return nil, err
	}

	cardID := valueobjects.CardID(query.CardID)
	evals := projections.Evaluations(s.State, cardID)
	return queries.CardThreadResult{
		Thread:          projections.CommentThread(s.State, cardID),
		Evaluations:     evals,
		EvaluationCount: evals.Count(),
	}, nil
}

func (h *EditorQueries) listTemplates(_ context.Context, q bus.Query) (interface{}, error) {
	if _, ok := q.(queries.ListTemplatesQuery); !ok {
		return nil, unexpected(q)
	}
	return h.templates.Names(), nil
}
