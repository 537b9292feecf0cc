package entities

import (
	"strings"
	"unicode/utf8"

	"ailego/domain/core/valueobjects"
	pkgerrors "ailego/pkg/errors"
)

// AnonymousAuthor is recorded when the actor has no display name
const AnonymousAuthor = "Anonymous"

// Comment is an append-only note attached to a card
type Comment struct {
	UID        string              `json:"uid"`
	AuthorName string              `json:"authorName"`
	CardID     valueobjects.CardID `json:"cardId"`
	Text       string              `json:"text"`
}

// NewComment validates and builds a comment with a fresh id
func NewComment(authorName string, cardID valueobjects.CardID, text string, maxLength int) (Comment, error) {
	if cardID.IsZero() {
		return Comment{}, pkgerrors.NewValidationError("comment requires a card")
	}
	if strings.TrimSpace(text) == "" {
		return Comment{}, pkgerrors.NewValidationError("comment text cannot be empty")
	}
	if maxLength > 0 && utf8.RuneCountInString(text) > maxLength {
		return Comment{}, pkgerrors.NewValidationError("comment text is too long")
	}

	authorName = strings.TrimSpace(authorName)
	if authorName == "" {
		authorName = AnonymousAuthor
	}

	return Comment{
		UID:        valueobjects.NewCommentID(),
		AuthorName: authorName,
		CardID:     cardID,
		Text:       text,
	}, nil
}
