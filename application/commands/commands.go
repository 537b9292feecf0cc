// Package commands defines the editor actions the host dispatches through
// the command bus. Each command is sent as a pointer and carries its result
// fields back to the caller.
package commands

import (
	"ailego/application/graphstate"
	"ailego/application/interaction"
	"ailego/domain/core/entities"
	"ailego/domain/core/valueobjects"
	"ailego/pkg/auth"
	pkgerrors "ailego/pkg/errors"
	"ailego/pkg/utils"
)

func validate(cmd interface{}) error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return pkgerrors.NewValidationError(err.Error())
	}
	return nil
}

// CreateProjectCommand stores a new empty project
type CreateProjectCommand struct {
	ProjectID valueobjects.ProjectID `json:"-"`
}

// Validate implements bus.Command
func (c *CreateProjectCommand) Validate() error { return nil }

// AddCardCommand adds a card of the given stage
type AddCardCommand struct {
	ProjectID string `json:"projectId" validate:"required"`
	Stage     string `json:"stage" validate:"required"`

	Card entities.Card `json:"-"`
}

// Validate implements bus.Command
func (c *AddCardCommand) Validate() error {
	if err := validate(c); err != nil {
		return err
	}
	if _, err := valueobjects.ParseStage(c.Stage); err != nil {
		return pkgerrors.NewValidationError(err.Error())
	}
	return nil
}

// SetCardDescriptionCommand replaces a card's description
type SetCardDescriptionCommand struct {
	ProjectID   string `json:"projectId" validate:"required"`
	CardID      string `json:"cardId" validate:"required"`
	Description string `json:"description"`
}

// Validate implements bus.Command
func (c *SetCardDescriptionCommand) Validate() error { return validate(c) }

// SetCardPositionCommand commits a card position
type SetCardPositionCommand struct {
	ProjectID string  `json:"projectId" validate:"required"`
	CardID    string  `json:"cardId" validate:"required"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// Validate implements bus.Command
func (c *SetCardPositionCommand) Validate() error { return validate(c) }

// SetCardSizeCommand commits a card size
type SetCardSizeCommand struct {
	ProjectID string  `json:"projectId" validate:"required"`
	CardID    string  `json:"cardId" validate:"required"`
	Width     float64 `json:"width" validate:"gt=0"`
	Height    float64 `json:"height" validate:"gt=0"`
}

// Validate implements bus.Command
func (c *SetCardSizeCommand) Validate() error { return validate(c) }

// DeleteCardCommand removes a card and its links
type DeleteCardCommand struct {
	ProjectID string `json:"projectId" validate:"required"`
	CardID    string `json:"cardId" validate:"required"`
}

// Validate implements bus.Command
func (c *DeleteCardCommand) Validate() error { return validate(c) }

// AddLinkCommand connects two cards
type AddLinkCommand struct {
	ProjectID string `json:"projectId" validate:"required"`
	Start     string `json:"start" validate:"required"`
	End       string `json:"end" validate:"required"`

	Added bool `json:"-"`
}

// Validate implements bus.Command
func (c *AddLinkCommand) Validate() error { return validate(c) }

// RefreshLinksCommand asks views to redraw links
type RefreshLinksCommand struct {
	ProjectID string `json:"projectId" validate:"required"`
}

// Validate implements bus.Command
func (c *RefreshLinksCommand) Validate() error { return validate(c) }

// ResetProjectCommand empties a project and deletes its cards
type ResetProjectCommand struct {
	ProjectID string `json:"projectId" validate:"required"`
}

// Validate implements bus.Command
func (c *ResetProjectCommand) Validate() error { return validate(c) }

// ApplyTemplateCommand adds the cards and links of a pipeline template
type ApplyTemplateCommand struct {
	ProjectID string `json:"projectId" validate:"required"`
	Template  string `json:"template" validate:"required"`

	Cards []entities.Card `json:"-"`
}

// Validate implements bus.Command
func (c *ApplyTemplateCommand) Validate() error { return validate(c) }

// ReconcileCommand re-pushes local state where the store diverged
type ReconcileCommand struct {
	ProjectID string `json:"projectId" validate:"required"`

	Report graphstate.Report `json:"-"`
}

// Validate implements bus.Command
func (c *ReconcileCommand) Validate() error { return validate(c) }

// AddCommentCommand appends a comment as the acting user
type AddCommentCommand struct {
	ProjectID string        `json:"projectId" validate:"required"`
	CardID    string        `json:"cardId" validate:"required"`
	Text      string        `json:"text" validate:"required"`
	Author    auth.Identity `json:"-"`

	Comment entities.Comment `json:"-"`
}

// Validate implements bus.Command
func (c *AddCommentCommand) Validate() error { return validate(c) }

// HandleGestureCommand feeds one pointer event to the project's canvas
type HandleGestureCommand struct {
	ProjectID string                   `json:"projectId" validate:"required"`
	Event     interaction.PointerEvent `json:"event"`

	Result interaction.Result `json:"-"`
}

// Validate implements bus.Command
func (c *HandleGestureCommand) Validate() error {
	if err := validate(c); err != nil {
		return err
	}
	return validate(&c.Event)
}

// CloseSessionCommand flushes and closes the project's session
type CloseSessionCommand struct {
	ProjectID string `json:"projectId" validate:"required"`
}

// Validate implements bus.Command
func (c *CloseSessionCommand) Validate() error { return validate(c) }
