package entities

import (
	"strings"
	"testing"

	"ailego/domain/core/valueobjects"
	pkgerrors "ailego/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultSize = valueobjects.Size{Width: 200, Height: 200}

func TestNewCard(t *testing.T) {
	tests := []struct {
		name      string
		projectID valueobjects.ProjectID
		stage     valueobjects.Stage
		wantErr   bool
	}{
		{name: "valid stage", projectID: "p1", stage: valueobjects.StageModel},
		{name: "missing project", projectID: "", stage: valueobjects.StageModel, wantErr: true},
		{name: "unknown stage", projectID: "p1", stage: "sketch", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card, err := NewCard(tt.projectID, tt.stage, valueobjects.Position{X: 170}, defaultSize)
			if tt.wantErr {
				assert.True(t, pkgerrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, card.IsDraft())
			assert.Equal(t, tt.stage.Prompt(), card.Prompt)
			assert.Empty(t, card.Comments)
			assert.NotNil(t, card.Comments)
		})
	}
}

func TestCard_WithUIDAndClone(t *testing.T) {
	draft, err := NewCard("p1", valueobjects.StageData, valueobjects.Position{}, defaultSize)
	require.NoError(t, err)
	draft.Comments = append(draft.Comments, Comment{UID: "c1", Text: "hi"})

	card := draft.WithUID("card-1")
	assert.False(t, card.IsDraft())
	assert.Equal(t, valueobjects.CardID("card-1"), card.Comments[0].CardID)
	assert.True(t, draft.IsDraft(), "draft must not be mutated")

	clone := card.Clone()
	clone.Comments[0].Text = "changed"
	assert.Equal(t, "hi", card.Comments[0].Text)
}

func TestLink(t *testing.T) {
	_, err := NewLink("", "b")
	assert.Error(t, err)

	link, err := NewLink("a", "b")
	require.NoError(t, err)

	assert.False(t, link.IsSelfLink())
	assert.True(t, Link{Start: "a", End: "a"}.IsSelfLink())
	assert.True(t, link.Touches("a"))
	assert.True(t, link.Touches("b"))
	assert.False(t, link.Touches("c"))
	assert.True(t, link.Equals(Link{Start: "a", End: "b"}))
	assert.False(t, link.Equals(Link{Start: "b", End: "a"}), "links are directed")
	assert.Equal(t, "a->b", link.Key())
}

func TestNewComment(t *testing.T) {
	tests := []struct {
		name       string
		author     string
		text       string
		wantAuthor string
		wantErr    bool
	}{
		{name: "regular", author: "Ada", text: "looks good", wantAuthor: "Ada"},
		{name: "blank author", author: "  ", text: "hello", wantAuthor: AnonymousAuthor},
		{name: "blank text", author: "Ada", text: "   ", wantErr: true},
		{name: "too long", author: "Ada", text: strings.Repeat("x", 11), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comment, err := NewComment(tt.author, "card-1", tt.text, 10)
			if tt.wantErr {
				assert.True(t, pkgerrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, comment.UID)
			assert.Equal(t, tt.wantAuthor, comment.AuthorName)
			assert.Equal(t, valueobjects.CardID("card-1"), comment.CardID)
		})
	}
}

func TestFilterEvaluations(t *testing.T) {
	all := []Evaluation{
		{ID: "e1", CardID: "a", Fields: map[string]interface{}{"score": 3.0}},
		{ID: "e2", CardID: "b"},
		{ID: "e3", CardID: "a"},
	}

	got := FilterEvaluations(all, "a")
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, "e3", got[1].ID)

	got[0].Fields["score"] = 5.0
	assert.Equal(t, 3.0, all[0].Fields["score"])
	assert.Empty(t, FilterEvaluations(all, "zzz"))
}
