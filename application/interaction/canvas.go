package interaction

import (
	"sync"

	"ailego/application/graphstate"
	"ailego/domain/core/entities"
	"ailego/domain/core/valueobjects"
	"ailego/domain/events"
	pkgerrors "ailego/pkg/errors"

	"go.uber.org/zap"
)

// DefaultAnchorRadius is how close to a card's anchor a pointer-down must
// land to start a link drag
const DefaultAnchorRadius = 12.0

// Engine is the graph state as seen by the canvas
type Engine interface {
	Linker
	CardEditor
	Card(uid valueobjects.CardID) (entities.Card, bool)
	Snapshot() graphstate.Snapshot
	Subscribe(listener graphstate.Listener) func()
}

// PointerType is the kind of a pointer event
type PointerType string

const (
	PointerDown   PointerType = "down"
	PointerMove   PointerType = "move"
	PointerUp     PointerType = "up"
	PointerCancel PointerType = "cancel"
	PointerResize PointerType = "resize"
)

// PointerEvent is one gesture step in canvas coordinates. Resize events
// name their card and carry the new geometry; Done marks the release.
type PointerEvent struct {
	Type   PointerType         `json:"type" validate:"required,oneof=down move up cancel resize"`
	X      float64             `json:"x"`
	Y      float64             `json:"y"`
	CardID valueobjects.CardID `json:"cardId,omitempty"`
	Width  float64             `json:"width,omitempty"`
	Height float64             `json:"height,omitempty"`
	Done   bool                `json:"done,omitempty"`
}

// Outcomes reported by Handle
const (
	OutcomeNone        = "none"
	OutcomeDragStarted = "drag_started"
	OutcomeDragging    = "dragging"
	OutcomeMoved       = "moved"
	OutcomeLinkStarted = "link_started"
	OutcomeLinking     = "linking"
	OutcomeLinked      = "linked"
	OutcomeDiscarded   = "discarded"
	OutcomeResizing    = "resizing"
	OutcomeResized     = "resized"
	OutcomeAborted     = "aborted"
)

// Result describes what a pointer event did
type Result struct {
	Outcome string              `json:"outcome"`
	CardID  valueobjects.CardID `json:"cardId,omitempty"`
	Link    *entities.Link      `json:"link,omitempty"`
}

type gestureKind int

const (
	gestureMove gestureKind = iota + 1
	gestureLink
)

type gesture struct {
	kind   gestureKind
	cardID valueobjects.CardID
	offset valueobjects.Position
}

// Canvas routes pointer events of one view to the card surfaces and link
// drag controllers, and keeps the surfaces in step with the graph state.
type Canvas struct {
	engine       Engine
	logger       *zap.Logger
	anchorRadius float64

	mu          sync.Mutex
	surfaces    map[valueobjects.CardID]*CardSurface
	linkDrags   map[valueobjects.CardID]*LinkDragController
	order       []valueobjects.CardID
	active      *gesture
	unsubscribe func()
}

// NewCanvas builds surfaces for the loaded cards and subscribes to the engine
func NewCanvas(engine Engine, anchorRadius float64, logger *zap.Logger) *Canvas {
	if logger == nil {
		logger = zap.NewNop()
	}
	if anchorRadius <= 0 {
		anchorRadius = DefaultAnchorRadius
	}
	c := &Canvas{
		engine:       engine,
		logger:       logger,
		anchorRadius: anchorRadius,
	}
	c.rebuild()
	c.unsubscribe = engine.Subscribe(c.onEvent)
	return c
}

// Close detaches the canvas from the engine
func (c *Canvas) Close() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (c *Canvas) rebuild() {
	snap := c.engine.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.surfaces = make(map[valueobjects.CardID]*CardSurface, len(snap.Cards))
	c.linkDrags = make(map[valueobjects.CardID]*LinkDragController, len(snap.Cards))
	c.order = c.order[:0]
	c.active = nil
	for _, card := range snap.Cards {
		c.addLocked(card)
	}
}

func (c *Canvas) addLocked(card entities.Card) {
	if _, ok := c.surfaces[card.UID]; ok {
		return
	}
	c.surfaces[card.UID] = NewCardSurface(c.engine, card)
	c.linkDrags[card.UID] = NewLinkDragController(card.UID, c.engine, c.logger)
	c.order = append(c.order, card.UID)
}

func (c *Canvas) onEvent(evt events.DomainEvent) {
	switch e := evt.(type) {
	case events.ProjectLoaded, events.ProjectCleared:
		c.rebuild()
	case events.CardAdded:
		c.mu.Lock()
		c.addLocked(e.Card)
		c.mu.Unlock()
	case events.CardChanged:
		if s, ok := c.Surface(e.Card.UID); ok {
			s.Sync(e.Card)
		}
	case events.CommentAdded:
		if s, ok := c.Surface(e.Comment.CardID); ok {
			if card, found := c.engine.Card(e.Comment.CardID); found {
				s.Sync(card)
			}
		}
	case events.CardRemoved:
		c.mu.Lock()
		delete(c.surfaces, e.CardID)
		delete(c.linkDrags, e.CardID)
		for i, id := range c.order {
			if id == e.CardID {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
		if c.active != nil && c.active.cardID == e.CardID {
			c.active = nil
		}
		c.mu.Unlock()
	}
}

// Surface returns the surface of one card
func (c *Canvas) Surface(uid valueobjects.CardID) (*CardSurface, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.surfaces[uid]
	return s, ok
}

// Views returns every card surface in paint order, bottom first
func (c *Canvas) Views() []SurfaceView {
	c.mu.Lock()
	surfaces := make([]*CardSurface, 0, len(c.order))
	for _, id := range c.order {
		surfaces = append(surfaces, c.surfaces[id])
	}
	c.mu.Unlock()

	out := make([]SurfaceView, 0, len(surfaces))
	for _, s := range surfaces {
		out = append(out, s.View())
	}
	return out
}

// Connector returns the provisional link line of the drag in progress
func (c *Canvas) Connector() (Connector, bool) {
	c.mu.Lock()
	var ctrl *LinkDragController
	if c.active != nil && c.active.kind == gestureLink {
		ctrl = c.linkDrags[c.active.cardID]
	}
	c.mu.Unlock()
	if ctrl == nil {
		return Connector{}, false
	}
	return ctrl.Connector()
}

// Handle applies one pointer event. The canvas lock is never held while the
// engine runs, since the engine notifies the canvas synchronously.
func (c *Canvas) Handle(ev PointerEvent) (Result, error) {
	p := valueobjects.Position{X: ev.X, Y: ev.Y}
	if err := p.Validate(); err != nil {
		return Result{}, pkgerrors.NewValidationError(err.Error())
	}

	switch ev.Type {
	case PointerDown:
		return c.down(p)
	case PointerMove:
		return c.move(p), nil
	case PointerUp:
		return c.up(p)
	case PointerCancel:
		return c.cancel(), nil
	case PointerResize:
		return c.resize(ev, p)
	default:
		return Result{}, pkgerrors.NewValidationError("unknown pointer event: " + string(ev.Type))
	}
}

func (c *Canvas) down(p valueobjects.Position) (Result, error) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return Result{}, pkgerrors.NewPreconditionError("a gesture is already in progress")
	}

	var (
		hit    *CardSurface
		anchor bool
		bounds valueobjects.Rect
	)
	for i := len(c.order) - 1; i >= 0; i-- {
		s := c.surfaces[c.order[i]]
		r := s.Bounds()
		if r.RightMiddle().DistanceTo(p) <= c.anchorRadius {
			hit, anchor, bounds = s, true, r
			break
		}
		if r.Contains(p) {
			hit, bounds = s, r
			break
		}
	}
	if hit == nil {
		c.mu.Unlock()
		return Result{Outcome: OutcomeNone}, nil
	}

	uid := hit.CardID()
	if anchor {
		ctrl := c.linkDrags[uid]
		c.active = &gesture{kind: gestureLink, cardID: uid}
		c.mu.Unlock()
		if err := ctrl.Begin(bounds.RightMiddle()); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeLinkStarted, CardID: uid}, nil
	}

	c.active = &gesture{kind: gestureMove, cardID: uid, offset: p.Sub(bounds.Origin)}
	c.mu.Unlock()
	return Result{Outcome: OutcomeDragStarted, CardID: uid}, nil
}

func (c *Canvas) move(p valueobjects.Position) Result {
	c.mu.Lock()
	g := c.active
	if g == nil {
		c.mu.Unlock()
		return Result{Outcome: OutcomeNone}
	}
	surface := c.surfaces[g.cardID]
	ctrl := c.linkDrags[g.cardID]
	c.mu.Unlock()

	if g.kind == gestureLink {
		ctrl.Move(p)
		return Result{Outcome: OutcomeLinking, CardID: g.cardID}
	}
	surface.DragMove(p.Sub(g.offset))
	return Result{Outcome: OutcomeDragging, CardID: g.cardID}
}

func (c *Canvas) up(p valueobjects.Position) (Result, error) {
	c.mu.Lock()
	g := c.active
	c.active = nil
	if g == nil {
		c.mu.Unlock()
		return Result{Outcome: OutcomeNone}, nil
	}
	surface := c.surfaces[g.cardID]
	ctrl := c.linkDrags[g.cardID]
	var target valueobjects.CardID
	if g.kind == gestureLink {
		target = c.dropTargetLocked(p)
	}
	c.mu.Unlock()

	if g.kind == gestureMove {
		if err := surface.DragStop(p.Sub(g.offset)); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeMoved, CardID: g.cardID}, nil
	}

	added, err := ctrl.Release(target)
	if err != nil {
		return Result{}, err
	}
	if !added {
		return Result{Outcome: OutcomeDiscarded, CardID: g.cardID}, nil
	}
	return Result{
		Outcome: OutcomeLinked,
		CardID:  g.cardID,
		Link:    &entities.Link{Start: g.cardID, End: target},
	}, nil
}

// dropTargetLocked returns the top-most card under the pointer
func (c *Canvas) dropTargetLocked(p valueobjects.Position) valueobjects.CardID {
	for i := len(c.order) - 1; i >= 0; i-- {
		s := c.surfaces[c.order[i]]
		if s.Bounds().Contains(p) {
			return s.CardID()
		}
	}
	return ""
}

func (c *Canvas) cancel() Result {
	c.mu.Lock()
	g := c.active
	c.active = nil
	if g == nil {
		c.mu.Unlock()
		return Result{Outcome: OutcomeNone}
	}
	surface := c.surfaces[g.cardID]
	ctrl := c.linkDrags[g.cardID]
	c.mu.Unlock()

	if g.kind == gestureLink {
		ctrl.Cancel()
	} else {
		surface.Abort()
	}
	return Result{Outcome: OutcomeAborted, CardID: g.cardID}
}

func (c *Canvas) resize(ev PointerEvent, origin valueobjects.Position) (Result, error) {
	surface, ok := c.Surface(ev.CardID)
	if !ok {
		return Result{}, pkgerrors.NewNotFoundError("card " + ev.CardID.String())
	}
	size, err := valueobjects.NewSize(ev.Width, ev.Height)
	if err != nil {
		return Result{}, pkgerrors.NewValidationError(err.Error())
	}

	if !ev.Done {
		surface.ResizeMove(size, origin)
		return Result{Outcome: OutcomeResizing, CardID: ev.CardID}, nil
	}
	if err := surface.ResizeStop(size, origin); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeResized, CardID: ev.CardID}, nil
}
