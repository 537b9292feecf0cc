package schema

import (
	"fmt"

	"ailego/application/ports"
	"ailego/domain/core/valueobjects"
)

// Default returns the chain from the unversioned layout to
// ports.SchemaVersion. defaultSize fills cards stored without a size.
func Default(defaultSize valueobjects.Size) *Evolution {
	e := NewEvolution(ports.SchemaVersion)

	migrations := []Migration{
		{
			Collection:  ports.CollectionProjects,
			FromVersion: 1,
			ToVersion:   2,
			Description: "rename cards to cardIds",
			Up:          renameProjectCards,
		},
		{
			Collection:  ports.CollectionCards,
			FromVersion: 1,
			ToVersion:   2,
			Description: "fill size, comments and prompt",
			Up: func(doc ports.Document) error {
				return fillCardDefaults(doc, defaultSize)
			},
		},
	}
	for _, m := range migrations {
		if err := e.RegisterMigration(m); err != nil {
			panic(err)
		}
	}
	return e
}

func renameProjectCards(doc ports.Document) error {
	legacy, hasLegacy := doc["cards"]
	if _, hasNew := doc["cardIds"]; !hasNew {
		if !hasLegacy || legacy == nil {
			legacy = []interface{}{}
		}
		if _, ok := legacy.([]interface{}); !ok {
			return fmt.Errorf("project field cards is %T, not an array", legacy)
		}
		doc["cardIds"] = legacy
	}
	delete(doc, "cards")
	if _, ok := doc["links"]; !ok {
		doc["links"] = []interface{}{}
	}
	return nil
}

func fillCardDefaults(doc ports.Document, defaultSize valueobjects.Size) error {
	if !validSize(doc["size"]) {
		doc["size"] = map[string]interface{}{
			"width":  defaultSize.Width,
			"height": defaultSize.Height,
		}
	}
	if doc["comments"] == nil {
		doc["comments"] = []interface{}{}
	}
	if prompt, _ := doc["prompt"].(string); prompt == "" {
		stage, _ := doc["stage"].(string)
		if s := valueobjects.Stage(stage); s.IsValid() {
			doc["prompt"] = s.Prompt()
		}
	}
	return nil
}

func validSize(raw interface{}) bool {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return false
	}
	w, _ := m["width"].(float64)
	h, _ := m["height"].(float64)
	return w > 0 && h > 0
}
