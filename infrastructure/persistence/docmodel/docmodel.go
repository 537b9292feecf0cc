// Package docmodel holds the document helpers shared by the RemoteStore
// backends. Values are kept in the JSON data model so equality behaves the
// same whichever backend produced a document.
package docmodel

import (
	"encoding/json"
	"fmt"
	"reflect"

	"ailego/application/ports"
)

// Normalize converts any JSON-encodable value into the JSON data model, so
// equality checks behave the same for structs and for decoded documents.
func Normalize(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}

// NormalizeValues applies Normalize to each value
func NormalizeValues(values []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(values))
	for i, v := range values {
		n, err := Normalize(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// NormalizeDocument returns a deep copy of doc in the JSON data model
func NormalizeDocument(doc ports.Document) (ports.Document, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	out := ports.Document{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return out, nil
}

// ArrayField returns the array stored under field, empty when absent
func ArrayField(doc ports.Document, field string) ([]interface{}, error) {
	raw, ok := doc[field]
	if !ok || raw == nil {
		return []interface{}{}, nil
	}
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("field %q is not an array", field)
	}
	return arr, nil
}

// RemoveValues returns current without the elements equal to any of values.
// Both sides must already be in the normalized JSON data model.
func RemoveValues(current, values []interface{}) []interface{} {
	kept := make([]interface{}, 0, len(current))
	for _, el := range current {
		drop := false
		for _, v := range values {
			if reflect.DeepEqual(el, v) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, el)
		}
	}
	return kept
}
