package projections

import (
	"testing"

	"ailego/domain/core/entities"
	"ailego/domain/core/valueobjects"

	"github.com/stretchr/testify/assert"
)

type stubSource struct {
	cards map[valueobjects.CardID]entities.Card
	evals []entities.Evaluation
}

func (s stubSource) Card(uid valueobjects.CardID) (entities.Card, bool) {
	c, ok := s.cards[uid]
	return c, ok
}

func (s stubSource) Evaluations(cardID valueobjects.CardID) []entities.Evaluation {
	return entities.FilterEvaluations(s.evals, cardID)
}

func TestCommentThread(t *testing.T) {
	src := stubSource{cards: map[valueobjects.CardID]entities.Card{
		"a": {UID: "a", Comments: []entities.Comment{
			{UID: "1", Text: "first"},
			{UID: "2", Text: "second"},
		}},
	}}

	thread := CommentThread(src, "a")
	assert.Len(t, thread.Comments, 2)
	assert.Equal(t, "first", thread.Comments[0].Text)

	empty := CommentThread(src, "missing")
	assert.NotNil(t, empty.Comments)
	assert.Empty(t, empty.Comments)
}

func TestEvaluations(t *testing.T) {
	src := stubSource{evals: []entities.Evaluation{
		{ID: "e1", CardID: "a"},
		{ID: "e2", CardID: "b"},
		{ID: "e3", CardID: "a"},
	}}

	tests := []struct {
		cardID valueobjects.CardID
		count  int
	}{
		{cardID: "a", count: 2},
		{cardID: "b", count: 1},
		{cardID: "c", count: 0},
	}
	for _, tt := range tests {
		t.Run(tt.cardID.String(), func(t *testing.T) {
			list := Evaluations(src, tt.cardID)
			assert.Equal(t, tt.count, list.Count())
			for _, e := range list.Evaluations {
				assert.Equal(t, tt.cardID, e.CardID)
			}
		})
	}
}
