package ports

import (
	"context"

	"ailego/domain/events"
)

// Collections known to the remote store
const (
	CollectionProjects    = "projects"
	CollectionCards       = "cards"
	CollectionEvaluations = "evaluations"
)

// IDField is the key under which stores report a document's identity
const IDField = "id"

// SchemaVersionField carries the document layout version
const SchemaVersionField = "schemaVersion"

// SchemaVersion is the layout written by this build. Older documents are
// upgraded on read.
const SchemaVersion = 2

// Document is a schemaless remote record. Values use the JSON data model:
// string, float64, bool, nil, []interface{} and map[string]interface{}.
type Document map[string]interface{}

// ID returns the store-assigned identity, empty when absent
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Clone returns a shallow copy of the top-level fields
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// RemoteStore is the narrow CRUD interface the graph state persists through.
// This is a port in hexagonal architecture; the engine never sees the backend.
//
// Implementations report a missing document with a NOT_FOUND AppError and
// failed writes with a WRITE AppError. Array operations are atomic with
// respect to concurrent writers of the same document.
type RemoteStore interface {
	// GetDocument reads one document
	GetDocument(ctx context.Context, collection, id string) (Document, error)

	// CreateDocument stores a new document under a fresh id and returns it with IDField set
	CreateDocument(ctx context.Context, collection string, fields Document) (Document, error)

	// UpdateDocument merges top-level fields into an existing document
	UpdateDocument(ctx context.Context, collection, id string, fields Document) error

	// DeleteDocument removes a document; deleting a missing document is not an error
	DeleteDocument(ctx context.Context, collection, id string) error

	// AppendToArrayField appends values to an array field, creating it when absent
	AppendToArrayField(ctx context.Context, collection, id, field string, values ...interface{}) error

	// RemoveFromArrayField removes every element value-equal to one of values
	RemoveFromArrayField(ctx context.Context, collection, id, field string, values ...interface{}) error

	// QueryDocuments returns the documents whose field equals value
	QueryDocuments(ctx context.Context, collection, field string, value interface{}) ([]Document, error)
}

// EventPublisher sends domain events to external systems
type EventPublisher interface {
	Publish(ctx context.Context, event events.DomainEvent) error
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}

// ViewNotifier pushes graph notifications to the views attached to a project
type ViewNotifier interface {
	Notify(ctx context.Context, event events.DomainEvent) error
}
