package aggregates

import (
	"fmt"

	"ailego/domain/core/entities"
	"ailego/domain/core/valueobjects"
	"ailego/domain/events"
	pkgerrors "ailego/pkg/errors"
)

// Limits are the business rules the graph enforces on mutation
type Limits struct {
	MaxCards         int
	MaxLinks         int
	DeduplicateLinks bool
}

// Graph is the aggregate root for one open project: its ordered cards, its
// links and the evaluations attached to those cards.
//
// Graph is not safe for concurrent use; the owner serializes access.
type Graph struct {
	projectID   valueobjects.ProjectID
	cards       []entities.Card
	index       map[valueobjects.CardID]int
	links       []entities.Link
	evaluations []entities.Evaluation
	limits      Limits
	version     int
	events      []events.DomainEvent
}

// NewEmptyGraph creates a graph with no project loaded
func NewEmptyGraph(limits Limits) *Graph {
	return &Graph{
		index:  make(map[valueobjects.CardID]int),
		limits: limits,
	}
}

// ReconstructGraph rebuilds a graph from stored data. Cards keep the given
// order; a repeated card id keeps its first occurrence.
func ReconstructGraph(
	projectID valueobjects.ProjectID,
	cards []entities.Card,
	links []entities.Link,
	evaluations []entities.Evaluation,
	limits Limits,
) (*Graph, error) {
	if projectID.IsZero() {
		return nil, pkgerrors.NewValidationError("project id required for graph reconstruction")
	}

	g := NewEmptyGraph(limits)
	g.projectID = projectID

	for _, card := range cards {
		if card.IsDraft() {
			return nil, pkgerrors.NewValidationError("cannot load a card without an id")
		}
		if _, dup := g.index[card.UID]; dup {
			continue
		}
		g.index[card.UID] = len(g.cards)
		g.cards = append(g.cards, card.Clone())
	}

	g.links = make([]entities.Link, len(links))
	copy(g.links, links)

	for _, e := range evaluations {
		g.evaluations = append(g.evaluations, e.Clone())
	}
	g.version = 1

	return g, nil
}

// ProjectID returns the loaded project, zero when none is loaded
func (g *Graph) ProjectID() valueobjects.ProjectID {
	return g.projectID
}

// IsLoaded reports whether a project is loaded
func (g *Graph) IsLoaded() bool {
	return !g.projectID.IsZero()
}

// Version increases with every mutation
func (g *Graph) Version() int {
	return g.version
}

// Card returns a copy of the card
func (g *Graph) Card(uid valueobjects.CardID) (entities.Card, bool) {
	i, ok := g.index[uid]
	if !ok {
		return entities.Card{}, false
	}
	return g.cards[i].Clone(), true
}

// HasCard checks if a card exists in the graph
func (g *Graph) HasCard(uid valueobjects.CardID) bool {
	_, ok := g.index[uid]
	return ok
}

// Cards returns copies of all cards in order
func (g *Graph) Cards() []entities.Card {
	out := make([]entities.Card, len(g.cards))
	for i, c := range g.cards {
		out[i] = c.Clone()
	}
	return out
}

// CardIDs returns the ordered card ids
func (g *Graph) CardIDs() []valueobjects.CardID {
	out := make([]valueobjects.CardID, len(g.cards))
	for i, c := range g.cards {
		out[i] = c.UID
	}
	return out
}

// Links returns a copy of the link list
func (g *Graph) Links() []entities.Link {
	out := make([]entities.Link, len(g.links))
	copy(out, g.links)
	return out
}

// Evaluations returns copies of all evaluations
func (g *Graph) Evaluations() []entities.Evaluation {
	out := make([]entities.Evaluation, len(g.evaluations))
	for i, e := range g.evaluations {
		out[i] = e.Clone()
	}
	return out
}

// HasLink reports whether a value-equal link exists
func (g *Graph) HasLink(link entities.Link) bool {
	for _, l := range g.links {
		if l.Equals(link) {
			return true
		}
	}
	return false
}

// DanglingLinks returns links whose endpoints are not loaded cards
func (g *Graph) DanglingLinks() []entities.Link {
	var out []entities.Link
	for _, l := range g.links {
		if !g.connects(l) {
			out = append(out, l)
		}
	}
	return out
}

// PruneDanglingLinks drops the links whose endpoints are not loaded cards
// and returns them. Nothing is raised: pruning happens while loading.
func (g *Graph) PruneDanglingLinks() []entities.Link {
	dangling := g.DanglingLinks()
	if len(dangling) == 0 {
		return nil
	}
	kept := g.links[:0]
	for _, l := range g.links {
		if g.connects(l) {
			kept = append(kept, l)
		}
	}
	g.links = kept
	g.version++
	return dangling
}

func (g *Graph) connects(l entities.Link) bool {
	return g.HasCard(l.Start) && g.HasCard(l.End)
}

// NextCardPosition places a new card to the right of the rightmost card.
// With no cards, or only cards at negative x, the reference x is 0.
func (g *Graph) NextCardPosition(spacing float64) valueobjects.Position {
	maxX := 0.0
	for _, c := range g.cards {
		if c.Position.X > maxX {
			maxX = c.Position.X
		}
	}
	return valueobjects.Position{X: maxX + spacing, Y: 0}
}

// AddCard appends a card that already carries its store-assigned id
func (g *Graph) AddCard(card entities.Card) error {
	if !g.IsLoaded() {
		return pkgerrors.NewPreconditionError("no project loaded")
	}
	if card.IsDraft() {
		return pkgerrors.NewValidationError("card has no id yet")
	}
	if card.ProjectID != g.projectID {
		return pkgerrors.NewValidationError(fmt.Sprintf("card belongs to project %s", card.ProjectID))
	}
	if g.HasCard(card.UID) {
		return pkgerrors.NewConflictError("card already exists in graph")
	}
	if g.limits.MaxCards > 0 && len(g.cards) >= g.limits.MaxCards {
		return pkgerrors.NewValidationError("maximum cards reached")
	}

	g.index[card.UID] = len(g.cards)
	g.cards = append(g.cards, card.Clone())
	g.version++
	g.addEvent(events.NewCardAdded(card))
	return nil
}

// SetDescription replaces the description of a card
func (g *Graph) SetDescription(uid valueobjects.CardID, text string) (entities.Card, error) {
	return g.mutateCard(uid, events.FieldDescription, func(c *entities.Card) {
		c.Description = text
	})
}

// MoveCard commits a new position
func (g *Graph) MoveCard(uid valueobjects.CardID, pos valueobjects.Position) (entities.Card, error) {
	card, err := g.mutateCard(uid, events.FieldPosition, func(c *entities.Card) {
		c.Position = pos
	})
	if err == nil {
		g.addEvent(events.NewTopologyChanged(g.projectID, g.links))
	}
	return card, err
}

// ResizeCard commits a new size
func (g *Graph) ResizeCard(uid valueobjects.CardID, size valueobjects.Size) (entities.Card, error) {
	return g.mutateCard(uid, events.FieldSize, func(c *entities.Card) {
		c.Size = size
	})
}

func (g *Graph) mutateCard(uid valueobjects.CardID, field events.CardField, apply func(*entities.Card)) (entities.Card, error) {
	i, ok := g.index[uid]
	if !ok {
		return entities.Card{}, pkgerrors.NewNotFoundError("card " + uid.String())
	}
	apply(&g.cards[i])
	g.version++
	g.addEvent(events.NewCardChanged(g.cards[i], field))
	return g.cards[i].Clone(), nil
}

// AddComment appends a comment to its card
func (g *Graph) AddComment(comment entities.Comment) error {
	i, ok := g.index[comment.CardID]
	if !ok {
		return pkgerrors.NewNotFoundError("card " + comment.CardID.String())
	}
	g.cards[i].Comments = append(g.cards[i].Comments, comment)
	g.version++
	g.addEvent(events.NewCommentAdded(g.projectID, comment))
	return nil
}

// AddLink appends a link between two loaded cards. It reports false without
// error for self links and, when deduplication is on, for links equal to an
// existing one.
func (g *Graph) AddLink(link entities.Link) (bool, error) {
	if link.IsSelfLink() {
		return false, nil
	}
	if !g.IsLoaded() {
		return false, pkgerrors.NewPreconditionError("no project loaded")
	}
	for _, end := range []valueobjects.CardID{link.Start, link.End} {
		if !g.HasCard(end) {
			return false, pkgerrors.NewNotFoundError("card " + end.String())
		}
	}
	if g.limits.DeduplicateLinks && g.HasLink(link) {
		return false, nil
	}
	if g.limits.MaxLinks > 0 && len(g.links) >= g.limits.MaxLinks {
		return false, pkgerrors.NewValidationError("maximum links reached")
	}

	g.links = append(g.links, link)
	g.version++
	g.addEvent(events.NewLinkAdded(g.projectID, link))
	g.addEvent(events.NewTopologyChanged(g.projectID, g.links))
	return true, nil
}

// RemoveCardAndLinks removes a card and every link touching it, returning
// the removed links
func (g *Graph) RemoveCardAndLinks(uid valueobjects.CardID) ([]entities.Link, error) {
	i, ok := g.index[uid]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("card " + uid.String())
	}

	g.cards = append(g.cards[:i], g.cards[i+1:]...)
	delete(g.index, uid)
	for j := i; j < len(g.cards); j++ {
		g.index[g.cards[j].UID] = j
	}

	kept := make([]entities.Link, 0, len(g.links))
	var removed []entities.Link
	for _, l := range g.links {
		if l.Touches(uid) {
			removed = append(removed, l)
			continue
		}
		kept = append(kept, l)
	}
	g.links = kept

	keptEvals := g.evaluations[:0]
	for _, e := range g.evaluations {
		if e.CardID != uid {
			keptEvals = append(keptEvals, e)
		}
	}
	g.evaluations = keptEvals

	g.version++
	g.addEvent(events.NewCardRemoved(g.projectID, uid, removed))
	g.addEvent(events.NewTopologyChanged(g.projectID, g.links))
	return removed, nil
}

// ReplaceEvaluations swaps the evaluation list
func (g *Graph) ReplaceEvaluations(evaluations []entities.Evaluation) {
	g.evaluations = make([]entities.Evaluation, 0, len(evaluations))
	for _, e := range evaluations {
		if g.HasCard(e.CardID) {
			g.evaluations = append(g.evaluations, e.Clone())
		}
	}
	g.version++
}

// TouchTopology records a TopologyChanged event without changing data
func (g *Graph) TouchTopology() {
	if !g.IsLoaded() {
		return
	}
	g.addEvent(events.NewTopologyChanged(g.projectID, g.links))
}

// GetUncommittedEvents returns events raised since the last commit
func (g *Graph) GetUncommittedEvents() []events.DomainEvent {
	out := make([]events.DomainEvent, len(g.events))
	copy(out, g.events)
	return out
}

// MarkEventsAsCommitted clears the uncommitted events
func (g *Graph) MarkEventsAsCommitted() {
	g.events = nil
}

// PullEvents returns and clears the uncommitted events
func (g *Graph) PullEvents() []events.DomainEvent {
	out := g.GetUncommittedEvents()
	g.MarkEventsAsCommitted()
	return out
}

func (g *Graph) addEvent(event events.DomainEvent) {
	g.events = append(g.events, event)
}
