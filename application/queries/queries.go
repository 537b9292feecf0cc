// Package queries defines the read requests of the editor host
package queries

import (
	"ailego/application/graphstate"
	"ailego/application/interaction"
	"ailego/application/projections"
	pkgerrors "ailego/pkg/errors"
)

// GetGraphQuery reads the whole graph of a project with its card views
type GetGraphQuery struct {
	ProjectID string
}

// Validate validates the GetGraphQuery
func (q GetGraphQuery) Validate() error {
	if q.ProjectID == "" {
		return pkgerrors.NewValidationError("project ID is required")
	}
	return nil
}

// GraphResult is the graph plus the effective card geometry
type GraphResult struct {
	graphstate.Snapshot
	Views     []interaction.SurfaceView `json:"views"`
	Connector *interaction.Connector    `json:"connector,omitempty"`
}

// GetSyncStatusQuery reads the remote write queue of a project
type GetSyncStatusQuery struct {
	ProjectID string
}

// Validate validates the GetSyncStatusQuery
func (q GetSyncStatusQuery) Validate() error {
	if q.ProjectID == "" {
		return pkgerrors.NewValidationError("project ID is required")
	}
	return nil
}

// GetCardThreadQuery reads the comments and evaluations of a card
type GetCardThreadQuery struct {
	ProjectID string
	CardID    string
}

// Validate validates the GetCardThreadQuery
func (q GetCardThreadQuery) Validate() error {
	if q.ProjectID == "" {
		return pkgerrors.NewValidationError("project ID is required")
	}
	if q.CardID == "" {
		return pkgerrors.NewValidationError("card ID is required")
	}
	return nil
}

// CardThreadResult combines both card panels
type CardThreadResult struct {
	projections.Thread
	Evaluations     projections.EvaluationList `json:"evaluations"`
	EvaluationCount int                        `json:"evaluationCount"`
}

// ListTemplatesQuery lists the pipeline templates
type ListTemplatesQuery struct{}

// Validate validates the ListTemplatesQuery
func (q ListTemplatesQuery) Validate() error { return nil }
