package graphstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ailego/application/ports"
	"ailego/domain/core/entities"
	"ailego/domain/core/valueobjects"
	"ailego/domain/events"
	"ailego/infrastructure/persistence/memory"
	pkgerrors "ailego/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// faultStore wraps the memory store with per-call failure injection and an
// optional gate that holds description updates until released
type faultStore struct {
	*memory.DocumentStore

	mu      sync.Mutex
	fail    func(method, collection, key string) error
	gate    chan struct{}
	entered chan struct{}
}

func newFaultStore() *faultStore {
	return &faultStore{DocumentStore: memory.NewDocumentStore()}
}

func (f *faultStore) setFail(fn func(method, collection, key string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fn
}

func (f *faultStore) check(method, collection, key string) error {
	f.mu.Lock()
	fn := f.fail
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(method, collection, key)
}

func (f *faultStore) GetDocument(ctx context.Context, collection, id string) (ports.Document, error) {
	if err := f.check("get", collection, id); err != nil {
		return nil, err
	}
	return f.DocumentStore.GetDocument(ctx, collection, id)
}

func (f *faultStore) UpdateDocument(ctx context.Context, collection, id string, fields ports.Document) error {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if _, ok := fields[fieldDescription]; ok && gate != nil {
		entered <- struct{}{}
		<-gate
	}
	return f.DocumentStore.UpdateDocument(ctx, collection, id, fields)
}

func (f *faultStore) AppendToArrayField(ctx context.Context, collection, id, field string, values ...interface{}) error {
	if err := f.check("append", collection, field); err != nil {
		return err
	}
	return f.DocumentStore.AppendToArrayField(ctx, collection, id, field, values...)
}

type recorder struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (r *recorder) listen(evt events.DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) ofType(eventType string) []events.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.DomainEvent
	for _, e := range r.events {
		if e.GetEventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestState(t *testing.T, store ports.RemoteStore) *State {
	t.Helper()
	s, err := New(store, nil, Options{RemoteTimeout: time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func openNewProject(t *testing.T, s *State) valueobjects.ProjectID {
	t.Helper()
	ctx := context.Background()
	pid, err := s.CreateProject(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Open(ctx, pid))
	return pid
}

func addCards(t *testing.T, s *State, stages ...valueobjects.Stage) []entities.Card {
	t.Helper()
	out := make([]entities.Card, 0, len(stages))
	for _, stage := range stages {
		card, err := s.AddCard(context.Background(), stage)
		require.NoError(t, err)
		out = append(out, card)
	}
	return out
}

func remoteProject(t *testing.T, store ports.RemoteStore, pid valueobjects.ProjectID) projectDocument {
	t.Helper()
	doc, err := store.GetDocument(context.Background(), ports.CollectionProjects, pid.String())
	require.NoError(t, err)
	p, err := decodeProject(doc)
	require.NoError(t, err)
	return p
}

func TestAddCard_PlacesCardsRightOfRightmost(t *testing.T) {
	ctx := context.Background()
	store := newFaultStore()
	s := newTestState(t, store)
	pid := openNewProject(t, s)

	first := addCards(t, s, valueobjects.StageProblem)[0]
	assert.Equal(t, valueobjects.Position{X: 170, Y: 0}, first.Position)
	assert.Equal(t, valueobjects.StageProblem.Prompt(), first.Prompt)

	require.NoError(t, s.SetCardPosition(first.UID, valueobjects.Position{X: 300, Y: 80}))
	second := addCards(t, s, valueobjects.StageData)[0]
	assert.Equal(t, valueobjects.Position{X: 470, Y: 0}, second.Position)

	require.NoError(t, s.Flush(ctx))
	project := remoteProject(t, store, pid)
	assert.Equal(t, []string{first.UID.String(), second.UID.String()}, project.CardIDs)

	doc, err := store.GetDocument(ctx, ports.CollectionCards, second.UID.String())
	require.NoError(t, err)
	assert.Equal(t, second.UID.String(), doc[fieldUID])
	assert.Equal(t, pid.String(), doc[fieldProjectID])

	firstDoc, err := store.GetDocument(ctx, ports.CollectionCards, first.UID.String())
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"x": 300.0, "y": 80.0}, firstDoc[fieldPosition])
}

func TestAddCard_RequiresProject(t *testing.T) {
	s := newTestState(t, newFaultStore())

	_, err := s.AddCard(context.Background(), valueobjects.StageModel)
	assert.True(t, pkgerrors.IsPrecondition(err))

	_, err = s.AddCard(context.Background(), "sketch")
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestAddLink_IgnoresSelfAndDuplicateLinks(t *testing.T) {
	ctx := context.Background()
	store := newFaultStore()
	s := newTestState(t, store)
	pid := openNewProject(t, s)
	cards := addCards(t, s, valueobjects.StageData, valueobjects.StageModel)
	a, b := cards[0].UID, cards[1].UID

	tests := []struct {
		name  string
		link  entities.Link
		added bool
	}{
		{name: "new link", link: entities.Link{Start: a, End: b}, added: true},
		{name: "duplicate", link: entities.Link{Start: a, End: b}, added: false},
		{name: "self link", link: entities.Link{Start: a, End: a}, added: false},
		{name: "reverse direction", link: entities.Link{Start: b, End: a}, added: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, err := s.AddLink(tt.link)
			require.NoError(t, err)
			assert.Equal(t, tt.added, added)
		})
	}

	require.NoError(t, s.Flush(ctx))
	want := []entities.Link{{Start: a, End: b}, {Start: b, End: a}}
	assert.Equal(t, want, s.Links())
	assert.Equal(t, want, remoteProject(t, store, pid).Links)
}

func TestAddLink_RequiresLoadedCards(t *testing.T) {
	ctx := context.Background()
	store := newFaultStore()
	s := newTestState(t, store)
	pid := openNewProject(t, s)
	card := addCards(t, s, valueobjects.StageData)[0]

	tests := []struct {
		name string
		link entities.Link
	}{
		{name: "both endpoints unknown", link: entities.Link{Start: "ghost1", End: "ghost2"}},
		{name: "unknown target", link: entities.Link{Start: card.UID, End: "ghost"}},
		{name: "unknown source", link: entities.Link{Start: "ghost", End: card.UID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, err := s.AddLink(tt.link)
			assert.True(t, pkgerrors.IsNotFound(err))
			assert.False(t, added)
		})
	}

	require.NoError(t, s.Flush(ctx))
	assert.Empty(t, s.Links())
	assert.Empty(t, remoteProject(t, store, pid).Links)
}

func TestNoProjectLoaded_LogsErrors(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s, err := New(newFaultStore(), nil, Options{RemoteTimeout: time.Second}, zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	_, err = s.AddLink(entities.Link{Start: "a", End: "b"})
	assert.True(t, pkgerrors.IsPrecondition(err))
	_, err = s.AddCard(context.Background(), valueobjects.StageData)
	assert.True(t, pkgerrors.IsPrecondition(err))

	for _, msg := range []string{"AddLink called with no project loaded", "AddCard called with no project loaded"} {
		entries := logs.FilterMessage(msg).All()
		require.Len(t, entries, 1, msg)
		assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	}
}

func TestDeleteCardAndLinks(t *testing.T) {
	ctx := context.Background()
	store := newFaultStore()
	s := newTestState(t, store)
	pid := openNewProject(t, s)
	cards := addCards(t, s, valueobjects.StageData, valueobjects.StageModel, valueobjects.StageTrain)
	a, b, c := cards[0].UID, cards[1].UID, cards[2].UID

	_, err := s.AddLink(entities.Link{Start: a, End: b})
	require.NoError(t, err)
	_, err = s.AddLink(entities.Link{Start: b, End: c})
	require.NoError(t, err)

	rec := &recorder{}
	s.Subscribe(rec.listen)

	require.NoError(t, s.DeleteCardAndLinks(a))
	require.NoError(t, s.Flush(ctx))

	assert.Equal(t, []entities.Link{{Start: b, End: c}}, s.Links())
	_, ok := s.Card(a)
	assert.False(t, ok)

	project := remoteProject(t, store, pid)
	assert.Equal(t, []string{b.String(), c.String()}, project.CardIDs)
	assert.Equal(t, []entities.Link{{Start: b, End: c}}, project.Links)

	_, err = store.GetDocument(ctx, ports.CollectionCards, a.String())
	assert.True(t, pkgerrors.IsNotFound(err))

	removed := rec.ofType(events.TypeCardRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, []entities.Link{{Start: a, End: b}}, removed[0].(events.CardRemoved).RemovedLinks)
	assert.Len(t, rec.ofType(events.TypeTopologyChanged), 1)

	assert.True(t, pkgerrors.IsNotFound(s.DeleteCardAndLinks(a)))
}

func TestLoadProject_SkipsMissingCards(t *testing.T) {
	ctx := context.Background()
	store := newFaultStore()
	require.NoError(t, store.Put(ports.CollectionProjects, "p1", ports.Document{
		fieldCardIDs: []interface{}{"c1", "gone", "c2"},
		fieldLinks: []interface{}{
			map[string]interface{}{"start": "c1", "end": "c2"},
			map[string]interface{}{"start": "c1", "end": "gone"},
		},
	}))
	require.NoError(t, store.Put(ports.CollectionCards, "c1", ports.Document{
		fieldUID:      "c1",
		fieldStage:    "data",
		fieldPosition: map[string]interface{}{"x": 170, "y": 0},
	}))
	require.NoError(t, store.Put(ports.CollectionCards, "c2", ports.Document{
		fieldStage:       "model",
		fieldDescription: "cnn",
		fieldSize:        map[string]interface{}{"width": 300, "height": 250},
	}))
	require.NoError(t, store.Put(ports.CollectionEvaluations, "e1", ports.Document{
		fieldCardID: "c2",
		"score":     4,
	}))

	s := newTestState(t, store)
	rec := &recorder{}
	s.Subscribe(rec.listen)

	require.NoError(t, s.LoadProject(ctx, "p1"))

	snap := s.Snapshot()
	require.Len(t, snap.Cards, 2)
	assert.Equal(t, valueobjects.CardID("c1"), snap.Cards[0].UID)
	assert.Equal(t, valueobjects.CardID("c2"), snap.Cards[1].UID)
	assert.Equal(t, valueobjects.ProjectID("p1"), snap.Cards[1].ProjectID)
	assert.Equal(t, valueobjects.Size{Width: 200, Height: 200}, snap.Cards[0].Size)
	assert.Equal(t, valueobjects.Size{Width: 300, Height: 250}, snap.Cards[1].Size)
	assert.Equal(t, valueobjects.StageModel.Prompt(), snap.Cards[1].Prompt)
	assert.Equal(t, []entities.Link{{Start: "c1", End: "c2"}}, snap.Links, "links to missing cards are dropped")

	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, []entities.Link{{Start: "c1", End: "c2"}}, remoteProject(t, store, "p1").Links)

	evals := s.Evaluations("c2")
	require.Len(t, evals, 1)
	assert.Equal(t, 4.0, evals[0].Fields["score"])

	loaded := rec.ofType(events.TypeProjectLoaded)
	require.Len(t, loaded, 1)
	assert.Equal(t, 2, loaded[0].(events.ProjectLoaded).CardCount)
}

func TestLoadProject_FailureKeepsPreviousProject(t *testing.T) {
	ctx := context.Background()
	store := newFaultStore()
	s := newTestState(t, store)
	pid := openNewProject(t, s)
	addCards(t, s, valueobjects.StageData)

	require.NoError(t, store.Put(ports.CollectionProjects, "other", ports.Document{
		fieldCardIDs: []interface{}{"broken"},
	}))
	store.setFail(func(method, collection, key string) error {
		if method == "get" && key == "broken" {
			return pkgerrors.NewUnavailableError("store")
		}
		return nil
	})

	err := s.LoadProject(ctx, "other")
	require.Error(t, err)
	assert.Equal(t, pid, s.ProjectID())
	assert.Len(t, s.Snapshot().Cards, 1)

	assert.True(t, pkgerrors.IsNotFound(s.LoadProject(ctx, "missing")))
}

func TestLoadProject_ReadersNeverSeeMixedProjects(t *testing.T) {
	ctx := context.Background()
	store := newFaultStore()
	s := newTestState(t, store)
	openNewProject(t, s)
	addCards(t, s, valueobjects.StageData, valueobjects.StageModel)

	ids := make([]interface{}, 0, 20)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("other-%d", i)
		ids = append(ids, id)
		require.NoError(t, store.Put(ports.CollectionCards, id, ports.Document{
			fieldUID:   id,
			fieldStage: "train",
		}))
	}
	require.NoError(t, store.Put(ports.CollectionProjects, "other", ports.Document{fieldCardIDs: ids}))

	done := make(chan struct{})
	var (
		mixed int
		reads int
		wg    sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			snap := s.Snapshot()
			reads++
			for _, c := range snap.Cards {
				if c.ProjectID != snap.ProjectID {
					mixed++
					break
				}
			}
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.LoadProject(ctx, "other"))
	}
	close(done)
	wg.Wait()

	assert.Positive(t, reads)
	assert.Zero(t, mixed, "a snapshot mixed cards of two projects")
	snap := s.Snapshot()
	assert.Equal(t, valueobjects.ProjectID("other"), snap.ProjectID)
	assert.Len(t, snap.Cards, 20)
}

func TestSyncFailure_KeepsLocalStateAndMarksDirty(t *testing.T) {
	ctx := context.Background()
	store := newFaultStore()
	s := newTestState(t, store)
	openNewProject(t, s)
	cards := addCards(t, s, valueobjects.StageData, valueobjects.StageModel)
	require.NoError(t, s.Flush(ctx))

	rec := &recorder{}
	s.Subscribe(rec.listen)
	store.setFail(func(method, collection, key string) error {
		if method == "append" && key == fieldLinks {
			return pkgerrors.NewWriteError("append links", errors.New("connection reset"))
		}
		return nil
	})

	added, err := s.AddLink(entities.Link{Start: cards[0].UID, End: cards[1].UID})
	require.NoError(t, err)
	assert.True(t, added)
	require.NoError(t, s.Flush(ctx))

	assert.Len(t, s.Links(), 1)
	status := s.SyncStatus()
	assert.True(t, status.Dirty)
	assert.Equal(t, int64(1), status.Failed)
	require.Len(t, status.LastFailures, 1)
	assert.Equal(t, "append link", status.LastFailures[0].Operation)

	failed := rec.ofType(events.TypeSyncFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "append link", failed[0].(events.SyncFailed).Operation)
}

func TestAddCard_OrphanedCardIsRelinkedByReconcile(t *testing.T) {
	ctx := context.Background()
	store := newFaultStore()
	s := newTestState(t, store)
	pid := openNewProject(t, s)

	store.setFail(func(method, collection, key string) error {
		if method == "append" && key == fieldCardIDs {
			return errors.New("quota exceeded")
		}
		return nil
	})
	card := addCards(t, s, valueobjects.StageTask)[0]
	require.NoError(t, s.Flush(ctx))

	_, ok := s.Card(card.UID)
	assert.True(t, ok)
	assert.Empty(t, remoteProject(t, store, pid).CardIDs)
	assert.True(t, s.SyncStatus().Dirty)

	store.setFail(nil)
	report, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean)
	assert.Contains(t, report.Divergences, Divergence{Kind: DivergenceCardIDs})
	assert.Equal(t, []string{card.UID.String()}, remoteProject(t, store, pid).CardIDs)
	assert.False(t, s.SyncStatus().Dirty)
}

func TestReconcile_RepushesDivergedFields(t *testing.T) {
	ctx := context.Background()
	store := newFaultStore()
	s := newTestState(t, store)
	openNewProject(t, s)
	card := addCards(t, s, valueobjects.StageModel)[0]
	require.NoError(t, s.SetCardDescription(card.UID, "resnet"))
	require.NoError(t, s.Flush(ctx))

	require.NoError(t, store.DocumentStore.UpdateDocument(ctx, ports.CollectionCards, card.UID.String(), ports.Document{
		fieldDescription: "tampered",
		fieldSize:        map[string]interface{}{"width": 10, "height": 10},
	}))

	rec := &recorder{}
	s.Subscribe(rec.listen)

	report, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Divergence{
		{Kind: DivergenceCardField, CardID: card.UID, Field: fieldDescription},
		{Kind: DivergenceCardField, CardID: card.UID, Field: fieldSize},
	}, report.Divergences)
	assert.Equal(t, 2, report.Repushed)

	doc, err := store.GetDocument(ctx, ports.CollectionCards, card.UID.String())
	require.NoError(t, err)
	assert.Equal(t, "resnet", doc[fieldDescription])
	assert.Equal(t, map[string]interface{}{"width": 200.0, "height": 200.0}, doc[fieldSize])
	assert.Len(t, rec.ofType(events.TypeReconciled), 1)

	again, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Divergences)
}

func TestSetCardDescription_CoalescesPendingWrites(t *testing.T) {
	ctx := context.Background()
	store := newFaultStore()
	s := newTestState(t, store)
	openNewProject(t, s)
	card := addCards(t, s, valueobjects.StageData)[0]
	require.NoError(t, s.Flush(ctx))

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	store.mu.Lock()
	store.gate, store.entered = gate, entered
	store.mu.Unlock()

	require.NoError(t, s.SetCardDescription(card.UID, "v1"))
	<-entered

	store.mu.Lock()
	store.gate = nil
	store.mu.Unlock()

	for _, text := range []string{"v2", "v3", "v4"} {
		require.NoError(t, s.SetCardDescription(card.UID, text))
	}
	close(gate)
	require.NoError(t, s.Flush(ctx))

	doc, err := store.GetDocument(ctx, ports.CollectionCards, card.UID.String())
	require.NoError(t, err)
	assert.Equal(t, "v4", doc[fieldDescription])
	assert.Equal(t, int64(2), s.SyncStatus().Coalesced)

	got, _ := s.Card(card.UID)
	assert.Equal(t, "v4", got.Description)
}

func TestConcurrentSessions_KeepEachOthersLinks(t *testing.T) {
	ctx := context.Background()
	store := newFaultStore()
	first := newTestState(t, store)
	pid := openNewProject(t, first)
	cards := addCards(t, first, valueobjects.StageData, valueobjects.StageModel, valueobjects.StageTrain)
	require.NoError(t, first.Flush(ctx))

	second := newTestState(t, store)
	require.NoError(t, second.Open(ctx, pid))
	require.Len(t, second.Snapshot().Cards, 3)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = first.AddLink(entities.Link{Start: cards[0].UID, End: cards[1].UID})
	}()
	go func() {
		defer wg.Done()
		_, _ = second.AddLink(entities.Link{Start: cards[1].UID, End: cards[2].UID})
	}()
	wg.Wait()
	require.NoError(t, first.Flush(ctx))
	require.NoError(t, second.Flush(ctx))

	assert.ElementsMatch(t, []entities.Link{
		{Start: cards[0].UID, End: cards[1].UID},
		{Start: cards[1].UID, End: cards[2].UID},
	}, remoteProject(t, store, pid).Links)
}

func TestAddComment(t *testing.T) {
	ctx := context.Background()
	store := newFaultStore()
	s := newTestState(t, store)
	openNewProject(t, s)
	card := addCards(t, s, valueobjects.StageDeploy)[0]

	comment, err := s.AddComment("", card.UID, "ship it")
	require.NoError(t, err)
	assert.Equal(t, entities.AnonymousAuthor, comment.AuthorName)

	_, err = s.AddComment("Ada", card.UID, "  ")
	assert.True(t, pkgerrors.IsValidation(err))
	_, err = s.AddComment("Ada", "nope", "hello")
	assert.True(t, pkgerrors.IsNotFound(err))

	require.NoError(t, s.Flush(ctx))
	doc, err := store.GetDocument(ctx, ports.CollectionCards, card.UID.String())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{map[string]interface{}{
		"uid":        comment.UID,
		"authorName": entities.AnonymousAuthor,
		"cardId":     card.UID.String(),
		"text":       "ship it",
	}}, doc[fieldComments])

	got, _ := s.Card(card.UID)
	require.Len(t, got.Comments, 1)
}

func TestResetStore(t *testing.T) {
	ctx := context.Background()
	store := newFaultStore()
	s := newTestState(t, store)
	pid := openNewProject(t, s)
	cards := addCards(t, s, valueobjects.StageData, valueobjects.StageModel)
	_, err := s.AddLink(entities.Link{Start: cards[0].UID, End: cards[1].UID})
	require.NoError(t, err)

	rec := &recorder{}
	s.Subscribe(rec.listen)

	require.NoError(t, s.ResetStore(ctx))

	assert.True(t, s.ProjectID().IsZero())
	assert.Empty(t, s.Snapshot().Cards)
	project := remoteProject(t, store, pid)
	assert.Empty(t, project.CardIDs)
	assert.Empty(t, project.Links)
	assert.Equal(t, 0, store.Len(ports.CollectionCards))

	cleared := rec.ofType(events.TypeProjectCleared)
	require.Len(t, cleared, 1)
	assert.True(t, cleared[0].(events.ProjectCleared).Remote)

	assert.True(t, pkgerrors.IsPrecondition(s.ResetStore(ctx)))
}

func TestRefreshLinksAndCleanStore(t *testing.T) {
	ctx := context.Background()
	store := newFaultStore()
	s := newTestState(t, store)
	pid := openNewProject(t, s)
	cards := addCards(t, s, valueobjects.StageData, valueobjects.StageModel)
	_, err := s.AddLink(entities.Link{Start: cards[0].UID, End: cards[1].UID})
	require.NoError(t, err)

	rec := &recorder{}
	s.Subscribe(rec.listen)

	before := s.Links()
	s.RefreshLinks()
	assert.Len(t, rec.ofType(events.TypeTopologyChanged), 1)
	assert.Equal(t, before, s.Links(), "refresh leaves the data unchanged")

	require.NoError(t, s.CleanStore(pid))
	assert.Equal(t, pid, s.ProjectID(), "same project is kept")
	assert.Empty(t, rec.ofType(events.TypeProjectCleared))

	require.NoError(t, s.CleanStore("another"))
	assert.True(t, s.ProjectID().IsZero())
	assert.Empty(t, s.Snapshot().Cards)
	cleared := rec.ofType(events.TypeProjectCleared)
	require.Len(t, cleared, 1)
	assert.False(t, cleared[0].(events.ProjectCleared).Remote)

	require.NoError(t, s.Flush(ctx))
	assert.Len(t, remoteProject(t, store, pid).CardIDs, 2, "remote data is untouched")

	s.RefreshLinks()
	assert.Len(t, rec.ofType(events.TypeTopologyChanged), 1, "no project, no notification")
}

func TestApplyTemplate(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t, newFaultStore())
	openNewProject(t, s)

	cards, err := s.ApplyTemplate(ctx, "3-stage")
	require.NoError(t, err)
	require.Len(t, cards, 3)
	assert.Len(t, s.Links(), 2)
	assert.Equal(t, cards[0].UID, s.Links()[0].Start)
	assert.Equal(t, cards[1].UID, s.Links()[0].End)

	_, err = s.ApplyTemplate(ctx, "99-stage")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestClose_RejectsLaterActions(t *testing.T) {
	ctx := context.Background()
	store := newFaultStore()
	s, err := New(store, nil, DefaultOptions(), zaptest.NewLogger(t))
	require.NoError(t, err)
	pid := openNewProject(t, s)
	card := addCards(t, s, valueobjects.StageData)[0]
	require.NoError(t, s.SetCardDescription(card.UID, "queued"))

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	doc, err := store.GetDocument(ctx, ports.CollectionCards, card.UID.String())
	require.NoError(t, err)
	assert.Equal(t, "queued", doc[fieldDescription])

	_, err = s.AddLink(entities.Link{Start: card.UID, End: "x"})
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = s.AddCard(ctx, valueobjects.StageModel)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(s.LoadProject(ctx, pid), ErrClosed))
}

func TestSubscribe_PanickingListenerIsIsolated(t *testing.T) {
	s := newTestState(t, newFaultStore())
	openNewProject(t, s)

	s.Subscribe(func(events.DomainEvent) { panic("boom") })
	rec := &recorder{}
	unsubscribe := s.Subscribe(rec.listen)

	addCards(t, s, valueobjects.StageData)
	assert.Len(t, rec.ofType(events.TypeCardAdded), 1)

	unsubscribe()
	unsubscribe()
	addCards(t, s, valueobjects.StageModel)
	assert.Len(t, rec.ofType(events.TypeCardAdded), 1)
}

func TestEqualLinks(t *testing.T) {
	ab := entities.Link{Start: "a", End: "b"}
	bc := entities.Link{Start: "b", End: "c"}
	ba := entities.Link{Start: "b", End: "a"}

	tests := []struct {
		name string
		a, b []entities.Link
		want bool
	}{
		{name: "both empty", want: true},
		{name: "same order", a: []entities.Link{ab, bc}, b: []entities.Link{ab, bc}, want: true},
		{name: "other order", a: []entities.Link{ab, bc}, b: []entities.Link{bc, ab}, want: true},
		{name: "reversed link", a: []entities.Link{ab}, b: []entities.Link{ba}, want: false},
		{name: "missing link", a: []entities.Link{ab, bc}, b: []entities.Link{ab}, want: false},
		{name: "duplicate counts", a: []entities.Link{ab, ab}, b: []entities.Link{ab, bc}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, equalLinks(tt.a, tt.b))
		})
	}
}
