package instrumented

import (
	"context"
	"errors"
	"testing"
	"time"

	"ailego/application/ports"
	"ailego/infrastructure/persistence/memory"
	pkgerrors "ailego/pkg/errors"
	"ailego/pkg/observability"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// brokenStore fails every update with a backend error
type brokenStore struct {
	*memory.DocumentStore
}

func (brokenStore) UpdateDocument(context.Context, string, string, ports.Document) error {
	return errors.New("connection reset")
}

func testConfig() BreakerConfig {
	cfg := DefaultBreakerConfig("test-store")
	cfg.MinRequests = 3
	cfg.Timeout = time.Hour
	return cfg
}

func TestStore_PassesThroughAndRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewCollector("ailego_test")
	store := NewStore(memory.NewDocumentStore(), testConfig(), metrics, nil, zaptest.NewLogger(t))

	doc, err := store.CreateDocument(ctx, ports.CollectionProjects, ports.Document{"cardIds": []interface{}{}})
	require.NoError(t, err)
	require.NoError(t, store.AppendToArrayField(ctx, ports.CollectionProjects, doc.ID(), "cardIds", "c1"))

	got, err := store.GetDocument(ctx, ports.CollectionProjects, doc.ID())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"c1"}, got["cardIds"])

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreOperations.WithLabelValues("append", ports.CollectionProjects, "ok")))
}

func TestStore_NotFoundDoesNotTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.NewDocumentStore(), testConfig(), nil, nil, nil)

	for i := 0; i < 10; i++ {
		_, err := store.GetDocument(ctx, ports.CollectionCards, "missing")
		assert.True(t, pkgerrors.IsNotFound(err))
		err = store.UpdateDocument(ctx, ports.CollectionCards, "missing", ports.Document{"description": "x"})
		assert.True(t, pkgerrors.IsWrite(err))
	}
	assert.Equal(t, gobreaker.StateClosed, store.State())
}

func TestStore_BackendFailuresOpenTheBreaker(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewCollector("ailego_test")
	store := NewStore(brokenStore{memory.NewDocumentStore()}, testConfig(), metrics, nil, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		err := store.UpdateDocument(ctx, ports.CollectionCards, "c1", ports.Document{"description": "x"})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, store.State())
	assert.Equal(t, float64(gobreaker.StateOpen), testutil.ToFloat64(metrics.BreakerState.WithLabelValues("test-store")))

	err := store.UpdateDocument(ctx, ports.CollectionCards, "c1", ports.Document{"description": "x"})
	assert.True(t, pkgerrors.IsWrite(err))

	_, err = store.GetDocument(ctx, ports.CollectionCards, "c1")
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable))
}
