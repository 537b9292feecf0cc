// Package sessions keeps one graph state and canvas per open project in the
// editor host and evicts sessions nobody has touched for a while.
package sessions

import (
	"context"
	"sync"
	"time"

	"ailego/application/graphstate"
	"ailego/application/interaction"
	"ailego/application/ports"
	"ailego/domain/config"
	"ailego/domain/core/valueobjects"
	"ailego/domain/events"
	pkgerrors "ailego/pkg/errors"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config tunes the manager
type Config struct {
	IdleTTL         time.Duration
	CleanupInterval time.Duration
	AnchorRadius    float64
	// ForwardBuffer bounds notifications waiting for the publisher
	ForwardBuffer  int
	ForwardTimeout time.Duration
	// Metrics may be nil
	Metrics Metrics
}

// Metrics receives session counts and forwarded notifications
type Metrics interface {
	SetOpenSessions(n int)
	ObserveEvent(eventType string)
}

// DefaultConfig returns the manager defaults
func DefaultConfig() Config {
	return Config{
		IdleTTL:         30 * time.Minute,
		CleanupInterval: time.Minute,
		AnchorRadius:    interaction.DefaultAnchorRadius,
		ForwardBuffer:   256,
		ForwardTimeout:  5 * time.Second,
	}
}

// Session is one open project
type Session struct {
	ProjectID valueobjects.ProjectID
	State     *graphstate.State
	Canvas    *interaction.Canvas

	mu       sync.Mutex
	lastUsed time.Time

	unsubscribe func()
	// forwardMu guards forward against sends racing its close
	forwardMu     sync.Mutex
	forwardClosed bool
	forward       chan events.DomainEvent
	forwardDone   chan struct{}
}

// enqueue hands evt to the forward loop without blocking. It reports false
// when the buffer is full or the session has already stopped forwarding.
func (s *Session) enqueue(evt events.DomainEvent) bool {
	s.forwardMu.Lock()
	defer s.forwardMu.Unlock()
	if s.forwardClosed {
		return false
	}
	select {
	case s.forward <- evt:
		return true
	default:
		return false
	}
}

func (s *Session) stopForwarding() {
	s.forwardMu.Lock()
	if !s.forwardClosed {
		s.forwardClosed = true
		close(s.forward)
	}
	s.forwardMu.Unlock()
	<-s.forwardDone
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

// LastUsed returns when the session was last acquired
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Manager owns the sessions of the host
type Manager struct {
	store     ports.RemoteStore
	domain    *config.DomainConfig
	options   graphstate.Options
	cfg       Config
	publisher ports.EventPublisher
	notifier  ports.ViewNotifier
	logger    *zap.Logger

	mu       sync.RWMutex
	sessions map[valueobjects.ProjectID]*Session
	opening  singleflight.Group
	closed   bool

	stopChan    chan struct{}
	stoppedChan chan struct{}
	stopOnce    sync.Once
	now         func() time.Time
}

// NewManager creates a manager. publisher and notifier may be nil.
func NewManager(
	store ports.RemoteStore,
	domain *config.DomainConfig,
	options graphstate.Options,
	cfg Config,
	publisher ports.EventPublisher,
	notifier ports.ViewNotifier,
	logger *zap.Logger,
) *Manager {
	defaults := DefaultConfig()
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaults.IdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}
	if cfg.AnchorRadius <= 0 {
		cfg.AnchorRadius = defaults.AnchorRadius
	}
	if cfg.ForwardBuffer <= 0 {
		cfg.ForwardBuffer = defaults.ForwardBuffer
	}
	if cfg.ForwardTimeout <= 0 {
		cfg.ForwardTimeout = defaults.ForwardTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		store:       store,
		domain:      domain,
		options:     options,
		cfg:         cfg,
		publisher:   publisher,
		notifier:    notifier,
		logger:      logger,
		sessions:    make(map[valueobjects.ProjectID]*Session),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
		now:         time.Now,
	}
}

// Start launches the idle sweeper
func (m *Manager) Start() {
	go m.cleanupLoop()
}

// Stop ends the sweeper and closes every session, flushing their writes
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopChan) })

	m.mu.Lock()
	m.closed = true
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, s := range all {
		if err := m.closeSession(ctx, s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CreateProject stores a new empty project without opening it
func (m *Manager) CreateProject(ctx context.Context) (valueobjects.ProjectID, error) {
	state, err := graphstate.New(m.store, m.domain, m.options, m.logger)
	if err != nil {
		return "", err
	}
	defer func() { _ = state.Close(ctx) }()
	return state.CreateProject(ctx)
}

// Acquire returns the session of a project, opening it on first use
func (m *Manager) Acquire(ctx context.Context, projectID valueobjects.ProjectID) (*Session, error) {
	if projectID.IsZero() {
		return nil, pkgerrors.NewValidationError("project id is required")
	}

	if s, ok := m.lookup(projectID); ok {
		return s, nil
	}

	v, err, _ := m.opening.Do(projectID.String(), func() (interface{}, error) {
		if s, ok := m.lookup(projectID); ok {
			return s, nil
		}
		return m.open(ctx, projectID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Lookup returns an open session without opening one
func (m *Manager) Lookup(projectID valueobjects.ProjectID) (*Session, bool) {
	return m.lookup(projectID)
}

func (m *Manager) lookup(projectID valueobjects.ProjectID) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[projectID]
	m.mu.RUnlock()
	if ok {
		s.touch(m.now())
	}
	return s, ok
}

func (m *Manager) open(ctx context.Context, projectID valueobjects.ProjectID) (*Session, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, pkgerrors.NewUnavailableError("session manager")
	}

	state, err := graphstate.New(m.store, m.domain, m.options, m.logger.With(zap.String("projectID", projectID.String())))
	if err != nil {
		return nil, err
	}
	if err := state.Open(ctx, projectID); err != nil {
		_ = state.Close(ctx)
		return nil, err
	}

	s := &Session{
		ProjectID:   projectID,
		State:       state,
		Canvas:      interaction.NewCanvas(state, m.cfg.AnchorRadius, m.logger),
		lastUsed:    m.now(),
		forward:     make(chan events.DomainEvent, m.cfg.ForwardBuffer),
		forwardDone: make(chan struct{}),
	}
	s.unsubscribe = state.Subscribe(func(evt events.DomainEvent) {
		if !s.enqueue(evt) {
			m.logger.Warn("Dropping notification",
				zap.String("projectID", projectID.String()),
				zap.String("eventType", evt.GetEventType()),
			)
		}
	})
	go m.forwardLoop(s)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = m.closeSession(ctx, s)
		return nil, pkgerrors.NewUnavailableError("session manager")
	}
	m.sessions[projectID] = s
	open := len(m.sessions)
	m.mu.Unlock()
	m.reportOpen(open)

	m.logger.Info("Session opened", zap.String("projectID", projectID.String()))
	return s, nil
}

// forwardLoop hands notifications to the publisher and notifier off the
// graph state's goroutines
func (m *Manager) forwardLoop(s *Session) {
	defer close(s.forwardDone)

	for evt := range s.forward {
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.ObserveEvent(evt.GetEventType())
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ForwardTimeout)
		if m.publisher != nil {
			if err := m.publisher.Publish(ctx, evt); err != nil {
				m.logger.Warn("Failed to publish event",
					zap.String("eventType", evt.GetEventType()),
					zap.Error(err),
				)
			}
		}
		if m.notifier != nil {
			if err := m.notifier.Notify(ctx, evt); err != nil {
				m.logger.Warn("Failed to notify views",
					zap.String("eventType", evt.GetEventType()),
					zap.Error(err),
				)
			}
		}
		cancel()
	}
}

// Release closes the session of a project if it is open
func (m *Manager) Release(ctx context.Context, projectID valueobjects.ProjectID) error {
	m.mu.Lock()
	s, ok := m.sessions[projectID]
	delete(m.sessions, projectID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return m.closeSession(ctx, s)
}

func (m *Manager) closeSession(ctx context.Context, s *Session) error {
	s.Canvas.Close()
	err := s.State.Close(ctx)
	s.unsubscribe()
	s.stopForwarding()

	m.reportOpen(m.Len())
	m.logger.Info("Session closed", zap.String("projectID", s.ProjectID.String()))
	return err
}

func (m *Manager) reportOpen(n int) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SetOpenSessions(n)
	}
}

// Len returns the number of open sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EvictIdle closes sessions idle for longer than the TTL and returns how
// many were closed
func (m *Manager) EvictIdle(ctx context.Context) int {
	cutoff := m.now().Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastUsed().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		if err := m.closeSession(ctx, s); err != nil {
			m.logger.Warn("Idle session closed with pending writes",
				zap.String("projectID", s.ProjectID.String()),
				zap.Error(err),
			)
		}
	}
	return len(idle)
}

func (m *Manager) cleanupLoop() {
	defer close(m.stoppedChan)

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CleanupInterval)
			if n := m.EvictIdle(ctx); n > 0 {
				m.logger.Debug("Evicted idle sessions", zap.Int("count", n))
			}
			cancel()
		}
	}
}
