package valueobjects

import (
	"github.com/google/uuid"
)

// ProjectID identifies a project document. Ids are assigned by the remote store.
type ProjectID string

// String returns the string representation
func (id ProjectID) String() string {
	return string(id)
}

// IsZero reports whether no project is referenced
func (id ProjectID) IsZero() bool {
	return id == ""
}

// CardID identifies a card. It is the document id the remote store assigned on
// creation and never changes afterwards.
type CardID string

// String returns the string representation
func (id CardID) String() string {
	return string(id)
}

// IsZero reports whether the id is still unassigned
func (id CardID) IsZero() bool {
	return id == ""
}

// NewCommentID creates a random comment identifier. Comments are embedded in
// their card document, so the id is generated locally rather than by the store.
func NewCommentID() string {
	return uuid.New().String()
}
