package entities

import (
	"ailego/domain/core/valueobjects"
	pkgerrors "ailego/pkg/errors"
)

// Card is one pipeline stage placed on the canvas.
//
// A card without a UID is a creation draft: it exists only between building
// the document and the remote store assigning an id, and is never stored in
// a graph.
type Card struct {
	UID         valueobjects.CardID    `json:"uid"`
	ProjectID   valueobjects.ProjectID `json:"projectId"`
	Stage       valueobjects.Stage     `json:"stage"`
	Prompt      string                 `json:"prompt"`
	Description string                 `json:"description"`
	Position    valueobjects.Position  `json:"position"`
	Size        valueobjects.Size      `json:"size"`
	Comments    []Comment              `json:"comments"`
}

// NewCard builds a draft card for the given stage with its fixed prompt
func NewCard(projectID valueobjects.ProjectID, stage valueobjects.Stage, position valueobjects.Position, size valueobjects.Size) (Card, error) {
	if projectID.IsZero() {
		return Card{}, pkgerrors.NewValidationError("card must belong to a project")
	}
	if !stage.IsValid() {
		return Card{}, pkgerrors.NewValidationError("unknown stage: " + stage.String())
	}
	if err := position.Validate(); err != nil {
		return Card{}, pkgerrors.NewValidationError(err.Error())
	}
	if err := size.Validate(); err != nil {
		return Card{}, pkgerrors.NewValidationError(err.Error())
	}

	return Card{
		ProjectID: projectID,
		Stage:     stage,
		Prompt:    stage.Prompt(),
		Position:  position,
		Size:      size,
		Comments:  []Comment{},
	}, nil
}

// IsDraft reports whether the store has not assigned an id yet
func (c Card) IsDraft() bool {
	return c.UID.IsZero()
}

// WithUID returns a copy of the draft carrying the store-assigned id
func (c Card) WithUID(uid valueobjects.CardID) Card {
	out := c.Clone()
	out.UID = uid
	for i := range out.Comments {
		out.Comments[i].CardID = uid
	}
	return out
}

// Bounds is the area the card covers on the canvas
func (c Card) Bounds() valueobjects.Rect {
	return valueobjects.Rect{Origin: c.Position, Size: c.Size}
}

// Clone returns a deep copy so snapshots never share comment slices
func (c Card) Clone() Card {
	out := c
	out.Comments = make([]Comment, len(c.Comments))
	copy(out.Comments, c.Comments)
	return out
}
