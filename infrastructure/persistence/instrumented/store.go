// Package instrumented decorates a RemoteStore with a circuit breaker,
// Prometheus metrics and X-Ray subsegments.
package instrumented

import (
	"context"
	"time"

	"ailego/application/ports"
	pkgerrors "ailego/pkg/errors"
	"ailego/pkg/observability"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig tunes the circuit breaker around the remote store
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the default circuit breaker configuration
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// Store wraps every RemoteStore call. Missing documents and rejected input
// do not count against the breaker; timeouts and backend errors do.
type Store struct {
	next    ports.RemoteStore
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Collector
	tracer  *observability.Tracer
	logger  *zap.Logger
}

// NewStore creates the decorator. metrics and tracer may be nil.
func NewStore(next ports.RemoteStore, cfg BreakerConfig, metrics *observability.Collector, tracer *observability.Tracer, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{next: next, metrics: metrics, tracer: tracer, logger: logger}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if s.metrics != nil {
				s.metrics.SetBreakerState(name, float64(to))
			}
		},
		IsSuccessful: countsAsSuccess,
	})
	return s
}

// State returns the breaker state
func (s *Store) State() gobreaker.State {
	return s.breaker.State()
}

func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	appErr := pkgerrors.GetAppError(err)
	if appErr == nil {
		return false
	}
	switch appErr.Type {
	case pkgerrors.ErrorTypeNotFound, pkgerrors.ErrorTypeValidation, pkgerrors.ErrorTypeConflict:
		return true
	case pkgerrors.ErrorTypeWrite:
		// a write to a missing document is the caller's problem, not the backend's
		return pkgerrors.IsNotFound(appErr.Cause)
	}
	return false
}

// call runs fn through tracing, metrics and the breaker. write selects the
// error type reported when the breaker rejects the call.
func (s *Store) call(ctx context.Context, operation, collection string, write bool, fn func(ctx context.Context) error) error {
	start := time.Now()

	err := s.tracer.TraceFunction(ctx, "store."+operation, func(ctx context.Context) error {
		s.tracer.AddAnnotation(ctx, "collection", collection)
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
		return err
	})

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		s.logger.Debug("Remote store call rejected by circuit breaker",
			zap.String("operation", operation),
			zap.String("collection", collection),
		)
		unavailable := pkgerrors.NewUnavailableError("remote store").WithCause(err)
		if write {
			err = pkgerrors.NewWriteError(operation+" "+collection, unavailable)
		} else {
			err = unavailable
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveStoreOperation(operation, collection, time.Since(start), err)
	}
	return err
}

// GetDocument implements ports.RemoteStore
func (s *Store) GetDocument(ctx context.Context, collection, id string) (ports.Document, error) {
	var doc ports.Document
	err := s.call(ctx, "get", collection, false, func(ctx context.Context) error {
		var err error
		doc, err = s.next.GetDocument(ctx, collection, id)
		return err
	})
	return doc, err
}

// CreateDocument implements ports.RemoteStore
func (s *Store) CreateDocument(ctx context.Context, collection string, fields ports.Document) (ports.Document, error) {
	var doc ports.Document
	err := s.call(ctx, "create", collection, true, func(ctx context.Context) error {
		var err error
		doc, err = s.next.CreateDocument(ctx, collection, fields)
		return err
	})
	return doc, err
}

// UpdateDocument implements ports.RemoteStore
func (s *Store) UpdateDocument(ctx context.Context, collection, id string, fields ports.Document) error {
	return s.call(ctx, "update", collection, true, func(ctx context.Context) error {
		return s.next.UpdateDocument(ctx, collection, id, fields)
	})
}

// DeleteDocument implements ports.RemoteStore
func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	return s.call(ctx, "delete", collection, true, func(ctx context.Context) error {
		return s.next.DeleteDocument(ctx, collection, id)
	})
}

// AppendToArrayField implements ports.RemoteStore
func (s *Store) AppendToArrayField(ctx context.Context, collection, id, field string, values ...interface{}) error {
	return s.call(ctx, "append", collection, true, func(ctx context.Context) error {
		return s.next.AppendToArrayField(ctx, collection, id, field, values...)
	})
}

// RemoveFromArrayField implements ports.RemoteStore
func (s *Store) RemoveFromArrayField(ctx context.Context, collection, id, field string, values ...interface{}) error {
	return s.call(ctx, "remove", collection, true, func(ctx context.Context) error {
		return s.next.RemoveFromArrayField(ctx, collection, id, field, values...)
	})
}

// QueryDocuments implements ports.RemoteStore
func (s *Store) QueryDocuments(ctx context.Context, collection, field string, value interface{}) ([]ports.Document, error) {
	var docs []ports.Document
	err := s.call(ctx, "query", collection, false, func(ctx context.Context) error {
		var err error
		docs, err = s.next.QueryDocuments(ctx, collection, field, value)
		return err
	})
	return docs, err
}
