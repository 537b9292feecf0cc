// Package interaction turns pointer gestures into graph state actions.
//
// LinkDragController and CardSurface hold per-card gesture state; Canvas
// routes raw pointer events to them. None of these types write to the
// remote store themselves: every durable change goes through the engine.
package interaction

import (
	"sync"

	"ailego/domain/core/entities"
	"ailego/domain/core/valueobjects"
	pkgerrors "ailego/pkg/errors"

	"go.uber.org/zap"
)

// Linker is the part of the engine a link drag needs
type Linker interface {
	AddLink(link entities.Link) (bool, error)
}

// DragState is the state of a link drag
type DragState int

const (
	Idle DragState = iota
	Dragging
)

func (s DragState) String() string {
	if s == Dragging {
		return "dragging"
	}
	return "idle"
}

// Connector is the provisional line drawn from the anchor to the pointer
type Connector struct {
	From valueobjects.Position `json:"from"`
	To   valueobjects.Position `json:"to"`
}

// LinkDragController is the Idle -> Dragging -> Idle machine of one card's
// link anchor
type LinkDragController struct {
	source valueobjects.CardID
	linker Linker
	logger *zap.Logger

	mu      sync.Mutex
	state   DragState
	anchor  valueobjects.Position
	pointer valueobjects.Position
}

// NewLinkDragController creates an idle controller for the source card
func NewLinkDragController(source valueobjects.CardID, linker Linker, logger *zap.Logger) *LinkDragController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkDragController{source: source, linker: linker, logger: logger}
}

// Source returns the card the drag starts from
func (c *LinkDragController) Source() valueobjects.CardID {
	return c.source
}

// State returns the current state
func (c *LinkDragController) State() DragState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Begin starts a drag at the anchor point
func (c *LinkDragController) Begin(anchor valueobjects.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Dragging {
		return pkgerrors.NewPreconditionError("link drag already in progress")
	}
	c.state = Dragging
	c.anchor = anchor
	c.pointer = anchor
	return nil
}

// Move follows the pointer; it is ignored while idle
func (c *LinkDragController) Move(pointer valueobjects.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Dragging {
		c.pointer = pointer
	}
}

// Connector returns the provisional line while dragging
func (c *LinkDragController) Connector() (Connector, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Dragging {
		return Connector{}, false
	}
	return Connector{From: c.anchor, To: c.pointer}, true
}

// Release ends the drag. A drop on another card creates a link; any other
// drop discards the gesture. It reports whether a link was added.
func (c *LinkDragController) Release(target valueobjects.CardID) (bool, error) {
	c.mu.Lock()
	if c.state != Dragging {
		c.mu.Unlock()
		return false, nil
	}
	c.state = Idle
	c.mu.Unlock()

	if target.IsZero() || target == c.source {
		c.logger.Debug("Link drag discarded", zap.String("source", c.source.String()))
		return false, nil
	}

	return c.linker.AddLink(entities.Link{Start: c.source, End: target})
}

// Cancel discards a drag in progress
func (c *LinkDragController) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Idle
}
