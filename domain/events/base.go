package events

import (
	"time"

	"ailego/domain/core/entities"
	"ailego/domain/core/valueobjects"
)

// DomainEvent is the base interface for all domain events.
// Events describe a change that has already been applied to the local graph.
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields. AggregateID is the project id.
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

// Event type names
const (
	TypeProjectLoaded   = "project.loaded"
	TypeProjectCleared  = "project.cleared"
	TypeCardAdded       = "card.added"
	TypeCardChanged     = "card.changed"
	TypeCardRemoved     = "card.removed"
	TypeCommentAdded    = "card.comment_added"
	TypeLinkAdded       = "link.added"
	TypeTopologyChanged = "links.topology_changed"
	TypeSyncFailed      = "sync.failed"
	TypeReconciled      = "sync.reconciled"
)

// CardField names the part of a card a CardChanged event refers to
type CardField string

const (
	FieldDescription CardField = "description"
	FieldPosition    CardField = "position"
	FieldSize        CardField = "size"
)

func newBase(projectID valueobjects.ProjectID, eventType string) BaseEvent {
	return BaseEvent{
		AggregateID: projectID.String(),
		EventType:   eventType,
		Timestamp:   time.Now(),
		Version:     1,
	}
}

// ProjectLoaded is raised after a project replaced the local graph
type ProjectLoaded struct {
	BaseEvent
	ProjectID valueobjects.ProjectID `json:"project_id"`
	CardCount int                    `json:"card_count"`
	LinkCount int                    `json:"link_count"`
}

// NewProjectLoaded creates a ProjectLoaded event
func NewProjectLoaded(projectID valueobjects.ProjectID, cards, links int) ProjectLoaded {
	return ProjectLoaded{BaseEvent: newBase(projectID, TypeProjectLoaded), ProjectID: projectID, CardCount: cards, LinkCount: links}
}

// ProjectCleared is raised when the local graph was emptied
type ProjectCleared struct {
	BaseEvent
	ProjectID valueobjects.ProjectID `json:"project_id"`
	Remote    bool                   `json:"remote"`
}

// NewProjectCleared creates a ProjectCleared event; remote is true for a full reset
func NewProjectCleared(projectID valueobjects.ProjectID, remote bool) ProjectCleared {
	return ProjectCleared{BaseEvent: newBase(projectID, TypeProjectCleared), ProjectID: projectID, Remote: remote}
}

// CardAdded is raised when a card with an assigned id joined the graph
type CardAdded struct {
	BaseEvent
	Card entities.Card `json:"card"`
}

// NewCardAdded creates a CardAdded event
func NewCardAdded(card entities.Card) CardAdded {
	return CardAdded{BaseEvent: newBase(card.ProjectID, TypeCardAdded), Card: card.Clone()}
}

// CardChanged is raised when one field of a card changed locally
type CardChanged struct {
	BaseEvent
	Field CardField     `json:"field"`
	Card  entities.Card `json:"card"`
}

// NewCardChanged creates a CardChanged event
func NewCardChanged(card entities.Card, field CardField) CardChanged {
	return CardChanged{BaseEvent: newBase(card.ProjectID, TypeCardChanged), Field: field, Card: card.Clone()}
}

// CardRemoved is raised when a card and its links left the graph
type CardRemoved struct {
	BaseEvent
	CardID       valueobjects.CardID `json:"card_id"`
	RemovedLinks []entities.Link     `json:"removed_links"`
}

// NewCardRemoved creates a CardRemoved event
func NewCardRemoved(projectID valueobjects.ProjectID, cardID valueobjects.CardID, removed []entities.Link) CardRemoved {
	return CardRemoved{BaseEvent: newBase(projectID, TypeCardRemoved), CardID: cardID, RemovedLinks: removed}
}

// CommentAdded is raised when a comment was appended to a card
type CommentAdded struct {
	BaseEvent
	Comment entities.Comment `json:"comment"`
}

// NewCommentAdded creates a CommentAdded event
func NewCommentAdded(projectID valueobjects.ProjectID, comment entities.Comment) CommentAdded {
	return CommentAdded{BaseEvent: newBase(projectID, TypeCommentAdded), Comment: comment}
}

// LinkAdded is raised when a new link joined the graph
type LinkAdded struct {
	BaseEvent
	Link entities.Link `json:"link"`
}

// NewLinkAdded creates a LinkAdded event
func NewLinkAdded(projectID valueobjects.ProjectID, link entities.Link) LinkAdded {
	return LinkAdded{BaseEvent: newBase(projectID, TypeLinkAdded), Link: link}
}

// TopologyChanged tells views to redraw link endpoints. It follows every
// link change and every committed card move.
type TopologyChanged struct {
	BaseEvent
	Links []entities.Link `json:"links"`
}

// NewTopologyChanged creates a TopologyChanged event
func NewTopologyChanged(projectID valueobjects.ProjectID, links []entities.Link) TopologyChanged {
	out := make([]entities.Link, len(links))
	copy(out, links)
	return TopologyChanged{BaseEvent: newBase(projectID, TypeTopologyChanged), Links: out}
}

// SyncFailed is the retry-or-reconcile signal: a remote write failed and the
// store may now disagree with the local graph
type SyncFailed struct {
	BaseEvent
	Operation string `json:"operation"`
	Error     string `json:"error"`
}

// NewSyncFailed creates a SyncFailed event
func NewSyncFailed(projectID valueobjects.ProjectID, operation string, err error) SyncFailed {
	return SyncFailed{BaseEvent: newBase(projectID, TypeSyncFailed), Operation: operation, Error: err.Error()}
}

// Reconciled is raised after a reconcile pass re-pushed local state
type Reconciled struct {
	BaseEvent
	Divergences int `json:"divergences"`
}

// NewReconciled creates a Reconciled event
func NewReconciled(projectID valueobjects.ProjectID, divergences int) Reconciled {
	return Reconciled{BaseEvent: newBase(projectID, TypeReconciled), Divergences: divergences}
}
