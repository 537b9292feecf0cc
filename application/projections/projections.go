// Package projections provides read-only views over graph state data
package projections

import (
	"ailego/domain/core/entities"
	"ailego/domain/core/valueobjects"
)

// Source is the read side of the graph state
type Source interface {
	Card(uid valueobjects.CardID) (entities.Card, bool)
	Evaluations(cardID valueobjects.CardID) []entities.Evaluation
}

// Thread is the comment list of one card in insertion order
type Thread struct {
	CardID   valueobjects.CardID `json:"cardId"`
	Comments []entities.Comment  `json:"comments"`
}

// CommentThread returns the comments of a card; an unknown card has none
func CommentThread(src Source, cardID valueobjects.CardID) Thread {
	t := Thread{CardID: cardID, Comments: []entities.Comment{}}
	card, ok := src.Card(cardID)
	if !ok {
		return t
	}
	t.Comments = append(t.Comments, card.Comments...)
	return t
}

// EvaluationList is the evaluation panel of one card
type EvaluationList struct {
	CardID      valueobjects.CardID   `json:"cardId"`
	Evaluations []entities.Evaluation `json:"evaluations"`
}

// Evaluations returns the evaluations whose cardId matches
func Evaluations(src Source, cardID valueobjects.CardID) EvaluationList {
	evals := src.Evaluations(cardID)
	if evals == nil {
		evals = []entities.Evaluation{}
	}
	return EvaluationList{CardID: cardID, Evaluations: evals}
}

// Count is the badge number
func (l EvaluationList) Count() int {
	return len(l.Evaluations)
}
