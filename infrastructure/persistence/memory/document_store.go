// Package memory provides an in-process RemoteStore used by tests, local
// development and the memory backend of the editor host.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"ailego/application/ports"
	"ailego/infrastructure/persistence/docmodel"
	pkgerrors "ailego/pkg/errors"

	"github.com/google/uuid"
)

// DocumentStore keeps documents in maps guarded by one mutex, so every
// operation, array appends included, is atomic.
type DocumentStore struct {
	mu          sync.Mutex
	collections map[string]map[string]ports.Document
	newID       func() string
}

// NewDocumentStore creates an empty store
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		collections: make(map[string]map[string]ports.Document),
		newID:       uuid.NewString,
	}
}

// Put writes a document under a fixed id, replacing any previous one.
// It is used to seed fixtures and legacy documents.
func (s *DocumentStore) Put(collection, id string, doc ports.Document) error {
	normalized, err := docmodel.NormalizeDocument(doc)
	if err != nil {
		return err
	}
	normalized[ports.IDField] = id

	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection(collection)[id] = normalized
	return nil
}

// Len returns the number of documents in a collection
func (s *DocumentStore) Len(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections[collection])
}

// GetDocument returns a deep copy of the stored document
func (s *DocumentStore) GetDocument(ctx context.Context, collection, id string) (ports.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("%s/%s", collection, id))
	}
	return docmodel.NormalizeDocument(doc)
}

// CreateDocument stores fields under a new uuid
func (s *DocumentStore) CreateDocument(ctx context.Context, collection string, fields ports.Document) (ports.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, pkgerrors.NewWriteError("create "+collection, err)
	}

	doc, err := docmodel.NormalizeDocument(fields)
	if err != nil {
		return nil, pkgerrors.NewWriteError("create "+collection, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	doc[ports.IDField] = id
	s.collection(collection)[id] = doc
	return docmodel.NormalizeDocument(doc)
}

// UpdateDocument merges top-level fields into an existing document
func (s *DocumentStore) UpdateDocument(ctx context.Context, collection, id string, fields ports.Document) error {
	op := "update " + collection
	if err := ctx.Err(); err != nil {
		return pkgerrors.NewWriteError(op, err)
	}

	patch, err := docmodel.NormalizeDocument(fields)
	if err != nil {
		return pkgerrors.NewWriteError(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return pkgerrors.NewWriteError(op, pkgerrors.NewNotFoundError(fmt.Sprintf("%s/%s", collection, id)))
	}
	for k, v := range patch {
		if k == ports.IDField {
			continue
		}
		doc[k] = v
	}
	return nil
}

// DeleteDocument removes a document if present
func (s *DocumentStore) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return pkgerrors.NewWriteError("delete "+collection, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.collections[collection], id)
	return nil
}

// AppendToArrayField appends values in order; a missing field starts empty
func (s *DocumentStore) AppendToArrayField(ctx context.Context, collection, id, field string, values ...interface{}) error {
	op := fmt.Sprintf("append %s.%s", collection, field)
	if err := ctx.Err(); err != nil {
		return pkgerrors.NewWriteError(op, err)
	}

	normalized, err := docmodel.NormalizeValues(values)
	if err != nil {
		return pkgerrors.NewWriteError(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return pkgerrors.NewWriteError(op, pkgerrors.NewNotFoundError(fmt.Sprintf("%s/%s", collection, id)))
	}

	current, err := docmodel.ArrayField(doc, field)
	if err != nil {
		return pkgerrors.NewWriteError(op, err)
	}
	doc[field] = append(current, normalized...)
	return nil
}

// RemoveFromArrayField drops every element equal to one of values
func (s *DocumentStore) RemoveFromArrayField(ctx context.Context, collection, id, field string, values ...interface{}) error {
	op := fmt.Sprintf("remove %s.%s", collection, field)
	if err := ctx.Err(); err != nil {
		return pkgerrors.NewWriteError(op, err)
	}

	normalized, err := docmodel.NormalizeValues(values)
	if err != nil {
		return pkgerrors.NewWriteError(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return pkgerrors.NewWriteError(op, pkgerrors.NewNotFoundError(fmt.Sprintf("%s/%s", collection, id)))
	}

	current, err := docmodel.ArrayField(doc, field)
	if err != nil {
		return pkgerrors.NewWriteError(op, err)
	}
	doc[field] = docmodel.RemoveValues(current, normalized)
	return nil
}

// QueryDocuments scans a collection for documents whose field equals value.
// Results are ordered by id.
func (s *DocumentStore) QueryDocuments(ctx context.Context, collection, field string, value interface{}) ([]ports.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	want, err := docmodel.Normalize(value)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.collections[collection]))
	for id, doc := range s.collections[collection] {
		if reflect.DeepEqual(doc[field], want) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]ports.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := docmodel.NormalizeDocument(s.collections[collection][id])
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *DocumentStore) collection(name string) map[string]ports.Document {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string]ports.Document)
		s.collections[name] = c
	}
	return c
}
