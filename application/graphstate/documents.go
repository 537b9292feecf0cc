package graphstate

import (
	"encoding/json"
	"fmt"

	"ailego/application/ports"
	"ailego/domain/core/entities"
	"ailego/domain/core/valueobjects"
	"ailego/pkg/utils"
)

// Document field names shared with every store backend
const (
	fieldUID         = "uid"
	fieldProjectID   = "projectId"
	fieldStage       = "stage"
	fieldPrompt      = "prompt"
	fieldDescription = "description"
	fieldPosition    = "position"
	fieldSize        = "size"
	fieldComments    = "comments"
	fieldCardIDs     = "cardIds"
	fieldLinks       = "links"
	fieldLastUpdated = "lastUpdatedTime"
	fieldCardID      = "cardId"
)

type projectDocument struct {
	ID      string          `json:"id"`
	CardIDs []string        `json:"cardIds"`
	Links   []entities.Link `json:"links"`
}

func decodeProject(doc ports.Document) (projectDocument, error) {
	var p projectDocument
	if err := decodeInto(doc, &p); err != nil {
		return projectDocument{}, fmt.Errorf("failed to decode project: %w", err)
	}
	if p.ID == "" {
		p.ID = doc.ID()
	}
	return p, nil
}

func newProjectDocument() ports.Document {
	return ports.Document{
		fieldCardIDs:             []interface{}{},
		fieldLinks:               []interface{}{},
		fieldLastUpdated:         utils.NowRFC3339(),
		ports.SchemaVersionField: ports.SchemaVersion,
	}
}

// decodeCard reads a card document. The document id wins over a missing uid
// field, and a missing size falls back to the default.
func decodeCard(doc ports.Document, defaultSize valueobjects.Size) (entities.Card, error) {
	var c entities.Card
	if err := decodeInto(doc, &c); err != nil {
		return entities.Card{}, fmt.Errorf("failed to decode card: %w", err)
	}
	if c.UID.IsZero() {
		c.UID = valueobjects.CardID(doc.ID())
	}
	if c.UID.IsZero() {
		return entities.Card{}, fmt.Errorf("card document has no id")
	}
	if !c.Stage.IsValid() {
		return entities.Card{}, fmt.Errorf("card %s has unknown stage %q", c.UID, c.Stage)
	}
	if c.Size.Validate() != nil {
		c.Size = defaultSize
	}
	if c.Prompt == "" {
		c.Prompt = c.Stage.Prompt()
	}
	if c.Comments == nil {
		c.Comments = []entities.Comment{}
	}
	for i := range c.Comments {
		c.Comments[i].CardID = c.UID
	}
	return c, nil
}

func encodeCard(c entities.Card) ports.Document {
	doc := ports.Document{
		fieldProjectID:           c.ProjectID.String(),
		fieldStage:               c.Stage.String(),
		fieldPrompt:              c.Prompt,
		fieldDescription:         c.Description,
		fieldPosition:            encodePosition(c.Position),
		fieldSize:                encodeSize(c.Size),
		fieldComments:            encodeComments(c.Comments),
		ports.SchemaVersionField: ports.SchemaVersion,
	}
	if !c.IsDraft() {
		doc[fieldUID] = c.UID.String()
	}
	return doc
}

func decodeEvaluation(doc ports.Document) entities.Evaluation {
	e := entities.Evaluation{
		ID:     doc.ID(),
		Fields: make(map[string]interface{}, len(doc)),
	}
	if id, ok := doc[fieldCardID].(string); ok {
		e.CardID = valueobjects.CardID(id)
	}
	for k, v := range doc {
		if k == ports.IDField || k == fieldCardID {
			continue
		}
		e.Fields[k] = v
	}
	return e
}

func encodePosition(p valueobjects.Position) map[string]interface{} {
	return map[string]interface{}{"x": p.X, "y": p.Y}
}

func encodeSize(s valueobjects.Size) map[string]interface{} {
	return map[string]interface{}{"width": s.Width, "height": s.Height}
}

func encodeLink(l entities.Link) map[string]interface{} {
	return map[string]interface{}{"start": l.Start.String(), "end": l.End.String()}
}

func encodeLinks(links []entities.Link) []interface{} {
	out := make([]interface{}, len(links))
	for i, l := range links {
		out[i] = encodeLink(l)
	}
	return out
}

func encodeComment(c entities.Comment) map[string]interface{} {
	return map[string]interface{}{
		"uid":        c.UID,
		"authorName": c.AuthorName,
		"cardId":     c.CardID.String(),
		"text":       c.Text,
	}
}

func encodeComments(comments []entities.Comment) []interface{} {
	out := make([]interface{}, len(comments))
	for i, c := range comments {
		out[i] = encodeComment(c)
	}
	return out
}

func encodeCardIDs(ids []valueobjects.CardID) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func decodeInto(doc ports.Document, v interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
