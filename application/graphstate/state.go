// Package graphstate holds the authoritative in-memory model of one open
// project and keeps the remote store in step with it.
//
// Every action mutates the local graph synchronously under a single lock and
// queues the matching remote writes; a background worker executes them in
// order. Failed writes never roll local state back. They mark the state dirty
// and raise a SyncFailed notification, and Reconcile re-pushes local values.
package graphstate

import (
	"context"
	"errors"
	"sync"
	"time"

	"ailego/application/ports"
	"ailego/domain/config"
	"ailego/domain/core/aggregates"
	"ailego/domain/core/entities"
	"ailego/domain/core/valueobjects"
	"ailego/domain/events"
	"ailego/domain/templates"
	pkgerrors "ailego/pkg/errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is the cause of every error returned after Close
var ErrClosed = errors.New("graph state is closed")

// Listener receives notifications. It is called after the state lock is
// released, on the goroutine that performed the action or the sync worker.
type Listener func(event events.DomainEvent)

// Options tune the engine outside of the domain rules
type Options struct {
	// RemoteTimeout bounds every single remote call
	RemoteTimeout time.Duration
	// LoadConcurrency bounds parallel card fetches
	LoadConcurrency int
	// ReconcileInterval runs Reconcile periodically while dirty; zero disables it
	ReconcileInterval time.Duration
	// FailureHistory is how many recent sync failures SyncStatus keeps
	FailureHistory int
	// Templates resolves ApplyTemplate names; nil means the builtin catalog
	Templates *templates.Catalog
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		RemoteTimeout:   10 * time.Second,
		LoadConcurrency: 8,
		FailureHistory:  20,
	}
}

// Snapshot is an immutable copy of the local model
type Snapshot struct {
	ProjectID   valueobjects.ProjectID `json:"projectId"`
	Cards       []entities.Card        `json:"cards"`
	Links       []entities.Link        `json:"links"`
	Evaluations []entities.Evaluation  `json:"evaluations"`
	Version     int                    `json:"version"`
}

// State is the graph state of one editor session
type State struct {
	store     ports.RemoteStore
	cfg       *config.DomainConfig
	opts      Options
	templates *templates.Catalog
	logger    *zap.Logger

	mu     sync.RWMutex
	graph  *aggregates.Graph
	closed bool

	// addMu serializes AddCard so positions stay strictly increasing
	addMu sync.Mutex

	listenerMu   sync.RWMutex
	listeners    map[uint64]Listener
	nextListener uint64

	queue      *syncQueue
	reconciler *periodicReconciler
}

// New creates a state with no project loaded and starts its sync worker
func New(store ports.RemoteStore, cfg *config.DomainConfig, opts Options, logger *zap.Logger) (*State, error) {
	if store == nil {
		return nil, pkgerrors.NewValidationError("remote store is required")
	}
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, pkgerrors.NewValidationError(err.Error())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultOptions()
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = defaults.RemoteTimeout
	}
	if opts.LoadConcurrency <= 0 {
		opts.LoadConcurrency = defaults.LoadConcurrency
	}
	if opts.FailureHistory <= 0 {
		opts.FailureHistory = defaults.FailureHistory
	}
	catalog := opts.Templates
	if catalog == nil {
		catalog = templates.Builtin()
	}

	s := &State{
		store:     store,
		cfg:       cfg,
		opts:      opts,
		templates: catalog,
		logger:    logger,
		graph:     aggregates.NewEmptyGraph(limitsFrom(cfg)),
		listeners: make(map[uint64]Listener),
	}

	s.queue = newSyncQueue(logger, opts.RemoteTimeout, opts.FailureHistory)
	s.queue.onFailure = func(op *writeOp, err error) {
		s.emit([]events.DomainEvent{events.NewSyncFailed(op.projectID, op.name, err)})
	}
	s.queue.Start()

	if opts.ReconcileInterval > 0 {
		s.reconciler = newPeriodicReconciler(s, opts.ReconcileInterval, logger)
		s.reconciler.Start()
	}

	return s, nil
}

func limitsFrom(cfg *config.DomainConfig) aggregates.Limits {
	return aggregates.Limits{
		MaxCards:         cfg.MaxCardsPerProject,
		MaxLinks:         cfg.MaxLinksPerProject,
		DeduplicateLinks: cfg.DeduplicateLinks,
	}
}

func errClosed() error {
	return pkgerrors.NewPreconditionError("graph state is closed").WithCause(ErrClosed)
}

// Open switches the session to a project and loads it
func (s *State) Open(ctx context.Context, projectID valueobjects.ProjectID) error {
	if err := s.CleanStore(projectID); err != nil {
		return err
	}
	return s.LoadProject(ctx, projectID)
}

// Close flushes pending writes, stops the background workers and unloads
// the project. Later calls fail with ErrClosed.
func (s *State) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	flushErr := s.queue.flush(ctx)

	if s.reconciler != nil {
		s.reconciler.Stop()
	}

	s.mu.Lock()
	s.closed = true
	projectID := s.graph.ProjectID()
	s.graph = aggregates.NewEmptyGraph(limitsFrom(s.cfg))
	s.mu.Unlock()

	s.queue.Stop()

	if !projectID.IsZero() {
		s.emit([]events.DomainEvent{events.NewProjectCleared(projectID, false)})
	}

	if flushErr != nil {
		s.logger.Warn("Closed graph state before all writes completed", zap.Error(flushErr))
	}
	return flushErr
}

// CreateProject stores a new empty project document and returns its id.
// It does not load the project.
func (s *State) CreateProject(ctx context.Context) (valueobjects.ProjectID, error) {
	if s.isClosed() {
		return "", errClosed()
	}

	var created ports.Document
	err := invoke(ctx, s.opts.RemoteTimeout, "create project", func(ctx context.Context) error {
		var err error
		created, err = s.store.CreateDocument(ctx, ports.CollectionProjects, newProjectDocument())
		return err
	})
	if err != nil {
		s.logger.Error("Failed to create project", zap.Error(err))
		if pkgerrors.GetAppError(err) != nil {
			return "", err
		}
		return "", pkgerrors.NewWriteError("create project", err)
	}

	projectID := valueobjects.ProjectID(created.ID())
	s.logger.Info("Project created", zap.String("projectID", projectID.String()))
	return projectID, nil
}

// LoadProject replaces the local model with the stored project. Referenced
// cards are fetched concurrently; missing card documents are skipped. The
// swap happens in one critical section, so readers see either the old or
// the new project.
func (s *State) LoadProject(ctx context.Context, projectID valueobjects.ProjectID) error {
	if projectID.IsZero() {
		return pkgerrors.NewValidationError("project id is required")
	}
	if s.isClosed() {
		return errClosed()
	}

	var projectDoc ports.Document
	err := invoke(ctx, s.opts.RemoteTimeout, "get project", func(ctx context.Context) error {
		var err error
		projectDoc, err = s.store.GetDocument(ctx, ports.CollectionProjects, projectID.String())
		return err
	})
	if err != nil {
		s.logger.Error("Failed to load project",
			zap.String("projectID", projectID.String()),
			zap.Error(err),
		)
		if pkgerrors.IsNotFound(err) {
			return pkgerrors.NewNotFoundError("project " + projectID.String())
		}
		return pkgerrors.Wrap(err, "failed to load project")
	}

	project, err := decodeProject(projectDoc)
	if err != nil {
		return pkgerrors.NewInternalError(err.Error())
	}

	cards, evaluations, err := s.fetchCards(ctx, projectID, project.CardIDs)
	if err != nil {
		s.logger.Error("Failed to load project cards",
			zap.String("projectID", projectID.String()),
			zap.Error(err),
		)
		return pkgerrors.Wrap(err, "failed to load project cards")
	}

	graph, err := aggregates.ReconstructGraph(projectID, cards, project.Links, evaluations, limitsFrom(s.cfg))
	if err != nil {
		return err
	}
	// local state never holds links to cards that are not loaded
	dangling := graph.PruneDanglingLinks()
	links := len(graph.Links())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed()
	}
	s.graph = graph
	if len(dangling) > 0 {
		values := encodeLinks(dangling)
		s.queue.enqueue(&writeOp{
			name:      "remove dangling links",
			projectID: projectID,
			run: func(ctx context.Context) error {
				return s.store.RemoveFromArrayField(ctx, ports.CollectionProjects, projectID.String(), fieldLinks, values...)
			},
		})
	}
	s.mu.Unlock()

	if len(dangling) > 0 {
		s.logger.Warn("Dropped links to missing cards",
			zap.String("projectID", projectID.String()),
			zap.Int("links", len(dangling)),
		)
	}
	s.logger.Info("Project loaded",
		zap.String("projectID", projectID.String()),
		zap.Int("cards", len(cards)),
		zap.Int("links", links),
	)
	s.emit([]events.DomainEvent{events.NewProjectLoaded(projectID, len(cards), links)})
	return nil
}

// fetchCards loads the given card documents and their evaluations, keeping
// the order of ids
func (s *State) fetchCards(ctx context.Context, projectID valueobjects.ProjectID, ids []string) ([]entities.Card, []entities.Evaluation, error) {
	slots := make([]*entities.Card, len(ids))
	evalSlots := make([][]entities.Evaluation, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.LoadConcurrency)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			var doc ports.Document
			err := invoke(gctx, s.opts.RemoteTimeout, "get card", func(ctx context.Context) error {
				var err error
				doc, err = s.store.GetDocument(ctx, ports.CollectionCards, id)
				return err
			})
			if pkgerrors.IsNotFound(err) {
				s.logger.Warn("Skipping missing card",
					zap.String("projectID", projectID.String()),
					zap.String("cardID", id),
				)
				return nil
			}
			if err != nil {
				return err
			}

			card, err := decodeCard(doc, s.cfg.DefaultCardSize)
			if err != nil {
				s.logger.Warn("Skipping unreadable card",
					zap.String("cardID", id),
					zap.Error(err),
				)
				return nil
			}
			card.ProjectID = projectID
			slots[i] = &card
			evalSlots[i] = s.fetchEvaluations(gctx, card.UID)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	cards := make([]entities.Card, 0, len(ids))
	var evaluations []entities.Evaluation
	for i, c := range slots {
		if c == nil {
			continue
		}
		cards = append(cards, *c)
		evaluations = append(evaluations, evalSlots[i]...)
	}
	return cards, evaluations, nil
}

// fetchEvaluations reads the evaluations of one card. Evaluations are
// advisory, so a failed query is logged and treated as none.
func (s *State) fetchEvaluations(ctx context.Context, cardID valueobjects.CardID) []entities.Evaluation {
	var docs []ports.Document
	err := invoke(ctx, s.opts.RemoteTimeout, "query evaluations", func(ctx context.Context) error {
		var err error
		docs, err = s.store.QueryDocuments(ctx, ports.CollectionEvaluations, fieldCardID, cardID.String())
		return err
	})
	if err != nil {
		s.logger.Warn("Failed to fetch evaluations",
			zap.String("cardID", cardID.String()),
			zap.Error(err),
		)
		return nil
	}

	out := make([]entities.Evaluation, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeEvaluation(doc))
	}
	return out
}

// RefreshEvaluations re-reads the evaluations of every loaded card
func (s *State) RefreshEvaluations(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errClosed()
	}
	projectID := s.graph.ProjectID()
	ids := s.graph.CardIDs()
	s.mu.RUnlock()

	if projectID.IsZero() {
		return pkgerrors.NewPreconditionError("no project loaded")
	}

	slots := make([][]entities.Evaluation, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.LoadConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			slots[i] = s.fetchEvaluations(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	var all []entities.Evaluation
	for _, evals := range slots {
		all = append(all, evals...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graph.ProjectID() != projectID {
		return pkgerrors.NewPreconditionError("project changed while refreshing evaluations")
	}
	s.graph.ReplaceEvaluations(all)
	return nil
}

// CleanStore drops local state when a different project is loaded. Remote
// data is untouched.
func (s *State) CleanStore(newProjectID valueobjects.ProjectID) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed()
	}
	old := s.graph.ProjectID()
	if old.IsZero() || old == newProjectID {
		s.mu.Unlock()
		return nil
	}
	s.graph = aggregates.NewEmptyGraph(limitsFrom(s.cfg))
	s.mu.Unlock()

	s.logger.Debug("Cleared local project",
		zap.String("previous", old.String()),
		zap.String("next", newProjectID.String()),
	)
	s.emit([]events.DomainEvent{events.NewProjectCleared(old, false)})
	return nil
}

// Snapshot returns a copy of the whole local model
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		ProjectID:   s.graph.ProjectID(),
		Cards:       s.graph.Cards(),
		Links:       s.graph.Links(),
		Evaluations: s.graph.Evaluations(),
		Version:     s.graph.Version(),
	}
}

// ProjectID returns the loaded project, zero when none
func (s *State) ProjectID() valueobjects.ProjectID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.ProjectID()
}

// Card returns a copy of one card
func (s *State) Card(uid valueobjects.CardID) (entities.Card, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Card(uid)
}

// Links returns a copy of the link list
func (s *State) Links() []entities.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Links()
}

// Evaluations returns the evaluations of one card
func (s *State) Evaluations(cardID valueobjects.CardID) []entities.Evaluation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entities.FilterEvaluations(s.graph.Evaluations(), cardID)
}

// SyncStatus reports the state of the remote write queue
func (s *State) SyncStatus() SyncStatus {
	return s.queue.status()
}

// Flush waits for every remote write queued so far
func (s *State) Flush(ctx context.Context) error {
	return s.queue.flush(ctx)
}

// Subscribe registers a listener and returns the function that removes it
func (s *State) Subscribe(listener Listener) func() {
	s.listenerMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = listener
	s.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenerMu.Lock()
			delete(s.listeners, id)
			s.listenerMu.Unlock()
		})
	}
}

func (s *State) emit(evts []events.DomainEvent) {
	if len(evts) == 0 {
		return
	}

	s.listenerMu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenerMu.RUnlock()

	for _, evt := range evts {
		for _, l := range listeners {
			s.deliver(l, evt)
		}
	}
}

func (s *State) deliver(l Listener, evt events.DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Listener panicked",
				zap.String("eventType", evt.GetEventType()),
				zap.Any("panic", r),
			)
		}
	}()
	l(evt)
}

func (s *State) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
