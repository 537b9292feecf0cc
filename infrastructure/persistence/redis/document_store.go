// Package redis implements the remote store on Redis. Each document is a JSON
// string; a set per collection indexes the ids for queries.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"ailego/application/ports"
	"ailego/infrastructure/persistence/docmodel"
	pkgerrors "ailego/pkg/errors"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultPrefix namespaces every key written by the store
const DefaultPrefix = "ailego"

// maxTxAttempts bounds optimistic transaction retries under contention
const maxTxAttempts = 10

// DocumentStore keeps documents under <prefix>:<collection>:<id>. Every
// read-modify-write runs inside WATCH/MULTI, so concurrent array appends from
// two sessions both land.
type DocumentStore struct {
	client *goredis.Client
	prefix string
	logger *zap.Logger
	newID  func() string
}

// NewDocumentStore connects to redisURL and checks the connection
func NewDocumentStore(redisURL string, logger *zap.Logger) (*DocumentStore, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewDocumentStoreWithClient(client, logger), nil
}

// NewDocumentStoreWithClient creates a store from an existing Redis client
func NewDocumentStoreWithClient(client *goredis.Client, logger *zap.Logger) *DocumentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentStore{
		client: client,
		prefix: DefaultPrefix,
		logger: logger,
		newID:  uuid.NewString,
	}
}

func (s *DocumentStore) key(collection, id string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, collection, id)
}

func (s *DocumentStore) indexKey(collection string) string {
	return fmt.Sprintf("%s:%s", s.prefix, collection)
}

// GetDocument reads and decodes one document
func (s *DocumentStore) GetDocument(ctx context.Context, collection, id string) (ports.Document, error) {
	doc, err := s.read(ctx, s.client, collection, id)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func (s *DocumentStore) read(ctx context.Context, c getter, collection, id string) (ports.Document, error) {
	data, err := c.Get(ctx, s.key(collection, id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("%s/%s", collection, id))
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}

	doc := ports.Document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// CreateDocument writes a new document with SET NX and indexes its id
func (s *DocumentStore) CreateDocument(ctx context.Context, collection string, fields ports.Document) (ports.Document, error) {
	op := "create " + collection

	doc := fields.Clone()
	id := s.newID()
	doc[ports.IDField] = id

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, pkgerrors.NewWriteError(op, fmt.Errorf("marshal document: %w", err))
	}

	var created *goredis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		created = pipe.SetNX(ctx, s.key(collection, id), data, 0)
		pipe.SAdd(ctx, s.indexKey(collection), id)
		return nil
	})
	if err != nil {
		return nil, pkgerrors.NewWriteError(op, err)
	}
	if !created.Val() {
		return nil, pkgerrors.NewWriteError(op, pkgerrors.NewConflictError(fmt.Sprintf("%s/%s already exists", collection, id)))
	}

	out := ports.Document{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, pkgerrors.NewWriteError(op, err)
	}
	return out, nil
}

// UpdateDocument merges fields into the stored document
func (s *DocumentStore) UpdateDocument(ctx context.Context, collection, id string, fields ports.Document) error {
	patch, err := docmodel.NormalizeDocument(fields)
	if err != nil {
		return pkgerrors.NewWriteError("update "+collection, err)
	}
	return s.modify(ctx, "update "+collection, collection, id, func(doc ports.Document) (bool, error) {
		for k, v := range patch {
			if k == ports.IDField {
				continue
			}
			doc[k] = v
		}
		return true, nil
	})
}

// DeleteDocument removes a document and its index entry
func (s *DocumentStore) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.key(collection, id))
		pipe.SRem(ctx, s.indexKey(collection), id)
		return nil
	})
	if err != nil {
		return pkgerrors.NewWriteError("delete "+collection, err)
	}
	return nil
}

// AppendToArrayField appends values, creating the field when absent
func (s *DocumentStore) AppendToArrayField(ctx context.Context, collection, id, field string, values ...interface{}) error {
	op := fmt.Sprintf("append %s.%s", collection, field)
	normalized, err := docmodel.NormalizeValues(values)
	if err != nil {
		return pkgerrors.NewWriteError(op, err)
	}
	return s.modify(ctx, op, collection, id, func(doc ports.Document) (bool, error) {
		current, err := docmodel.ArrayField(doc, field)
		if err != nil {
			return false, err
		}
		doc[field] = append(current, normalized...)
		return true, nil
	})
}

// RemoveFromArrayField drops every element value-equal to one of values
func (s *DocumentStore) RemoveFromArrayField(ctx context.Context, collection, id, field string, values ...interface{}) error {
	op := fmt.Sprintf("remove %s.%s", collection, field)
	normalized, err := docmodel.NormalizeValues(values)
	if err != nil {
		return pkgerrors.NewWriteError(op, err)
	}
	return s.modify(ctx, op, collection, id, func(doc ports.Document) (bool, error) {
		current, err := docmodel.ArrayField(doc, field)
		if err != nil {
			return false, err
		}
		kept := docmodel.RemoveValues(current, normalized)
		if len(kept) == len(current) {
			return false, nil
		}
		doc[field] = kept
		return true, nil
	})
}

// QueryDocuments reads every indexed document of the collection and keeps
// those whose field equals value. Results are ordered by id.
func (s *DocumentStore) QueryDocuments(ctx context.Context, collection, field string, value interface{}) ([]ports.Document, error) {
	want, err := docmodel.Normalize(value)
	if err != nil {
		return nil, err
	}

	ids, err := s.client.SMembers(ctx, s.indexKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	sort.Strings(ids)

	out := make([]ports.Document, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(collection, id)
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", collection, err)
	}

	for i, r := range raw {
		str, ok := r.(string)
		if !ok {
			// indexed id whose document was deleted in between
			continue
		}
		doc := ports.Document{}
		if err := json.Unmarshal([]byte(str), &doc); err != nil {
			return nil, fmt.Errorf("unmarshal %s/%s: %w", collection, ids[i], err)
		}
		if reflect.DeepEqual(doc[field], want) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Close closes the Redis connection
func (s *DocumentStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// modify runs fn on the current document inside an optimistic transaction.
// fn reports whether it changed the document.
func (s *DocumentStore) modify(ctx context.Context, op, collection, id string, fn func(ports.Document) (bool, error)) error {
	key := s.key(collection, id)

	txf := func(tx *goredis.Tx) error {
		doc, err := s.read(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		changed, err := fn(doc)
		if err != nil || !changed {
			return err
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			return pkgerrors.NewWriteError(op, err)
		}
		s.logger.Debug("Optimistic transaction lost a race, retrying",
			zap.String("key", key),
			zap.Int("attempt", attempt),
		)
	}
	return pkgerrors.NewWriteError(op, pkgerrors.NewConflictError(
		fmt.Sprintf("%s/%s changed concurrently %d times", collection, id, maxTxAttempts)))
}
