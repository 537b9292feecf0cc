package entities

import (
	"ailego/domain/core/valueobjects"
)

// Evaluation is an assessment of a card produced by an external process.
// The editor only reads evaluations; Fields carries whatever the evaluator wrote.
type Evaluation struct {
	ID     string                 `json:"id"`
	CardID valueobjects.CardID    `json:"cardId"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Clone copies the top level of Fields
func (e Evaluation) Clone() Evaluation {
	out := e
	if e.Fields != nil {
		out.Fields = make(map[string]interface{}, len(e.Fields))
		for k, v := range e.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// FilterEvaluations returns the evaluations of one card, preserving order
func FilterEvaluations(all []Evaluation, cardID valueobjects.CardID) []Evaluation {
	out := make([]Evaluation, 0)
	for _, e := range all {
		if e.CardID == cardID {
			out = append(out, e.Clone())
		}
	}
	return out
}
