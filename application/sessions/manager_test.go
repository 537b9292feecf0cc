package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"ailego/application/graphstate"
	"ailego/domain/core/valueobjects"
	"ailego/domain/events"
	"ailego/infrastructure/persistence/memory"
	pkgerrors "ailego/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *capturePublisher) Publish(_ context.Context, evt events.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *capturePublisher) PublishBatch(ctx context.Context, evts []events.DomainEvent) error {
	for _, e := range evts {
		_ = p.Publish(ctx, e)
	}
	return nil
}

func (p *capturePublisher) Notify(ctx context.Context, evt events.DomainEvent) error {
	return p.Publish(ctx, evt)
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.GetEventType())
	}
	return out
}

func newTestManager(t *testing.T, pub *capturePublisher) *Manager {
	t.Helper()
	m := NewManager(
		memory.NewDocumentStore(),
		nil,
		graphstate.Options{RemoteTimeout: time.Second},
		Config{IdleTTL: time.Minute},
		pub,
		nil,
		zaptest.NewLogger(t),
	)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func TestManager_AcquireReusesSession(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil)

	pid, err := m.CreateProject(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	got := make([]*Session, 4)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Acquire(ctx, pid)
			assert.NoError(t, err)
			got[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range got[1:] {
		assert.Same(t, got[0], s)
	}
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, pid, got[0].State.ProjectID())
}

func TestManager_AcquireUnknownProject(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.Acquire(context.Background(), "nope")
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.Equal(t, 0, m.Len())

	_, err = m.Acquire(context.Background(), "")
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestManager_ForwardsNotifications(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	m := newTestManager(t, pub)

	pid, err := m.CreateProject(ctx)
	require.NoError(t, err)
	s, err := m.Acquire(ctx, pid)
	require.NoError(t, err)

	_, err = s.State.AddCard(ctx, valueobjects.StageData)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, typ := range pub.types() {
			if typ == events.TypeCardAdded {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestManager_EvictIdle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil)
	clock := time.Now()
	m.now = func() time.Time { return clock }

	first, err := m.CreateProject(ctx)
	require.NoError(t, err)
	second, err := m.CreateProject(ctx)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, first)
	require.NoError(t, err)
	clock = clock.Add(45 * time.Second)
	_, err = m.Acquire(ctx, second)
	require.NoError(t, err)

	clock = clock.Add(30 * time.Second)
	assert.Equal(t, 1, m.EvictIdle(ctx))
	_, ok := m.Lookup(first)
	assert.False(t, ok)
	_, ok = m.Lookup(second)
	assert.True(t, ok)
}

func TestManager_ReleaseAndStop(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil)
	pid, err := m.CreateProject(ctx)
	require.NoError(t, err)

	s, err := m.Acquire(ctx, pid)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, pid))
	require.NoError(t, m.Release(ctx, pid))
	assert.Equal(t, 0, m.Len())

	_, err = s.State.AddCard(ctx, valueobjects.StageData)
	assert.ErrorIs(t, err, graphstate.ErrClosed)

	require.NoError(t, m.Stop(ctx))
	_, err = m.Acquire(ctx, pid)
	assert.Error(t, err)
}

func TestManager_LateEventsAfterReleaseAreDropped(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	m := newTestManager(t, pub)
	pid, err := m.CreateProject(ctx)
	require.NoError(t, err)
	s, err := m.Acquire(ctx, pid)
	require.NoError(t, err)

	evt := events.NewProjectCleared(pid, false)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.enqueue(evt)
			}
		}()
	}
	require.NoError(t, m.Release(ctx, pid))
	wg.Wait()

	assert.False(t, s.enqueue(evt))
	n := len(pub.types())
	s.enqueue(evt)
	assert.Len(t, pub.types(), n)
}
