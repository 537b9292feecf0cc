package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"ailego/application/ports"
	pkgerrors "ailego/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupTestRedis(t *testing.T) (*DocumentStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewDocumentStore("redis://"+s.Addr(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewDocumentStore_BadURL(t *testing.T) {
	_, err := NewDocumentStore("://nope", nil)
	assert.Error(t, err)
}

func TestDocumentStore_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestRedis(t)

	created, err := store.CreateDocument(ctx, ports.CollectionCards, ports.Document{
		"description": "",
		"position":    map[string]interface{}{"x": 170, "y": 0},
	})
	require.NoError(t, err)
	id := created.ID()
	require.NotEmpty(t, id)
	assert.True(t, mr.Exists("ailego:cards:"+id))

	require.NoError(t, store.UpdateDocument(ctx, ports.CollectionCards, id, ports.Document{
		"description": "train a model",
		"id":          "ignored",
	}))

	got, err := store.GetDocument(ctx, ports.CollectionCards, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID())
	assert.Equal(t, "train a model", got["description"])
	assert.Equal(t, map[string]interface{}{"x": 170.0, "y": 0.0}, got["position"])
}

func TestDocumentStore_MissingDocument(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestRedis(t)

	_, err := store.GetDocument(ctx, ports.CollectionProjects, "missing")
	assert.True(t, pkgerrors.IsNotFound(err))

	err = store.UpdateDocument(ctx, ports.CollectionProjects, "missing", ports.Document{"cardIds": []interface{}{}})
	assert.True(t, pkgerrors.IsWrite(err))

	err = store.AppendToArrayField(ctx, ports.CollectionProjects, "missing", "cardIds", "a")
	assert.True(t, pkgerrors.IsWrite(err))

	assert.NoError(t, store.DeleteDocument(ctx, ports.CollectionProjects, "missing"))
}

func TestDocumentStore_ArrayOperations(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestRedis(t)

	project, err := store.CreateDocument(ctx, ports.CollectionProjects, ports.Document{})
	require.NoError(t, err)
	pid := project.ID()

	linkAB := map[string]interface{}{"start": "a", "end": "b"}
	linkBC := map[string]interface{}{"start": "b", "end": "c"}

	require.NoError(t, store.AppendToArrayField(ctx, ports.CollectionProjects, pid, "cardIds", "a", "b"))
	require.NoError(t, store.AppendToArrayField(ctx, ports.CollectionProjects, pid, "links", linkAB, linkBC))
	require.NoError(t, store.RemoveFromArrayField(ctx, ports.CollectionProjects, pid, "links", linkAB))
	require.NoError(t, store.RemoveFromArrayField(ctx, ports.CollectionProjects, pid, "cardIds", "zzz"))

	got, err := store.GetDocument(ctx, ports.CollectionProjects, pid)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, got["cardIds"])
	assert.Equal(t, []interface{}{linkBC}, got["links"])

	require.NoError(t, store.UpdateDocument(ctx, ports.CollectionProjects, pid, ports.Document{"title": 3}))
	err = store.AppendToArrayField(ctx, ports.CollectionProjects, pid, "title", "x")
	assert.True(t, pkgerrors.IsWrite(err))
}

func TestDocumentStore_ConcurrentAppendsAllLand(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestRedis(t)

	project, err := store.CreateDocument(ctx, ports.CollectionProjects, ports.Document{"links": []interface{}{}})
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.AppendToArrayField(ctx, ports.CollectionProjects, project.ID(), "links",
				map[string]interface{}{"start": fmt.Sprintf("s%d", i), "end": "t"})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.GetDocument(ctx, ports.CollectionProjects, project.ID())
	require.NoError(t, err)
	assert.Len(t, got["links"], writers)
}

func TestDocumentStore_QueryDocuments(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestRedis(t)

	var ids []string
	for _, card := range []string{"c1", "c2", "c1"} {
		doc, err := store.CreateDocument(ctx, ports.CollectionEvaluations, ports.Document{"cardId": card, "score": 4.0})
		require.NoError(t, err)
		ids = append(ids, doc.ID())
	}
	require.NoError(t, store.DeleteDocument(ctx, ports.CollectionEvaluations, ids[2]))

	got, err := store.QueryDocuments(ctx, ports.CollectionEvaluations, "cardId", "c1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ids[0], got[0].ID())

	none, err := store.QueryDocuments(ctx, ports.CollectionEvaluations, "cardId", "c9")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
