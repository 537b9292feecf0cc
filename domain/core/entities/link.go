package entities

import (
	"ailego/domain/core/valueobjects"
	pkgerrors "ailego/pkg/errors"
)

// Link is a directed connection between two cards. Links have no identity of
// their own; two links with the same endpoints are the same link.
type Link struct {
	Start valueobjects.CardID `json:"start"`
	End   valueobjects.CardID `json:"end"`
}

// NewLink builds a link, requiring both endpoints
func NewLink(start, end valueobjects.CardID) (Link, error) {
	if start.IsZero() || end.IsZero() {
		return Link{}, pkgerrors.NewValidationError("link requires both start and end cards")
	}
	return Link{Start: start, End: end}, nil
}

// IsSelfLink reports whether the link points back at its own card
func (l Link) IsSelfLink() bool {
	return l.Start == l.End
}

// Touches reports whether the card is either endpoint
func (l Link) Touches(id valueobjects.CardID) bool {
	return l.Start == id || l.End == id
}

// Equals compares endpoints
func (l Link) Equals(other Link) bool {
	return l.Start == other.Start && l.End == other.End
}

// Key is a stable string form, used for set membership
func (l Link) Key() string {
	return l.Start.String() + "->" + l.End.String()
}
