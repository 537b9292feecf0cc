package graphstate

import (
	"context"
	"reflect"
	"sync"
	"time"

	"ailego/application/ports"
	"ailego/domain/core/entities"
	"ailego/domain/core/valueobjects"
	"ailego/domain/events"
	pkgerrors "ailego/pkg/errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Divergence kinds reported by Reconcile
const (
	DivergenceCardIDs     = "cardIds"
	DivergenceLinks       = "links"
	DivergenceCardMissing = "card_missing"
	DivergenceCardField   = "card_field"
)

// Divergence is one difference between local state and the store
type Divergence struct {
	Kind   string              `json:"kind"`
	CardID valueobjects.CardID `json:"cardId,omitempty"`
	Field  string              `json:"field,omitempty"`
}

// Report summarizes a reconcile pass
type Report struct {
	ProjectID   valueobjects.ProjectID `json:"projectId"`
	Divergences []Divergence           `json:"divergences"`
	Repushed    int                    `json:"repushed"`
	Clean       bool                   `json:"clean"`
	CheckedAt   time.Time              `json:"checkedAt"`
}

// Reconcile compares the store with local state and re-pushes local values
// wherever they differ. Local state always wins. A card whose document is
// gone cannot be recreated under its id and is only reported.
func (s *State) Reconcile(ctx context.Context) (Report, error) {
	failedBefore := s.queue.failedCount()

	if err := s.Flush(ctx); err != nil {
		return Report{}, err
	}

	snap := s.Snapshot()
	if snap.ProjectID.IsZero() {
		return Report{}, pkgerrors.NewPreconditionError("no project loaded")
	}

	var projectDoc ports.Document
	err := invoke(ctx, s.opts.RemoteTimeout, "get project", func(ctx context.Context) error {
		var err error
		projectDoc, err = s.store.GetDocument(ctx, ports.CollectionProjects, snap.ProjectID.String())
		return err
	})
	if err != nil {
		return Report{}, pkgerrors.Wrap(err, "reconcile")
	}
	project, err := decodeProject(projectDoc)
	if err != nil {
		return Report{}, pkgerrors.NewInternalError(err.Error())
	}

	remoteCards, err := s.fetchRemoteCards(ctx, snap.Cards)
	if err != nil {
		return Report{}, pkgerrors.Wrap(err, "reconcile")
	}

	report := Report{ProjectID: snap.ProjectID, Divergences: []Divergence{}}

	localIDs := make([]string, len(snap.Cards))
	for i, c := range snap.Cards {
		localIDs[i] = c.UID.String()
	}
	cardIDsDiffer := !equalStrings(project.CardIDs, localIDs)
	if cardIDsDiffer {
		report.Divergences = append(report.Divergences, Divergence{Kind: DivergenceCardIDs})
	}
	linksDiffer := !equalLinks(project.Links, snap.Links)
	if linksDiffer {
		report.Divergences = append(report.Divergences, Divergence{Kind: DivergenceLinks})
	}

	type fieldDiff struct {
		uid    valueobjects.CardID
		fields []string
	}
	var cardDiffs []fieldDiff
	for _, local := range snap.Cards {
		remote, ok := remoteCards[local.UID]
		if !ok {
			report.Divergences = append(report.Divergences, Divergence{Kind: DivergenceCardMissing, CardID: local.UID})
			continue
		}
		fields := diffCard(local, remote)
		for _, f := range fields {
			report.Divergences = append(report.Divergences, Divergence{Kind: DivergenceCardField, CardID: local.UID, Field: f})
		}
		if len(fields) > 0 {
			cardDiffs = append(cardDiffs, fieldDiff{uid: local.UID, fields: fields})
		}
	}

	// Values are re-read under the lock so a mutation made during the pass is
	// never overwritten by the older snapshot.
	s.mu.Lock()
	if s.closed || s.graph.ProjectID() != snap.ProjectID {
		s.mu.Unlock()
		return report, pkgerrors.NewPreconditionError("project changed during reconcile")
	}
	var ops []*writeOp
	if cardIDsDiffer || linksDiffer {
		fields := ports.Document{}
		if cardIDsDiffer {
			fields[fieldCardIDs] = encodeCardIDs(s.graph.CardIDs())
		}
		if linksDiffer {
			fields[fieldLinks] = encodeLinks(s.graph.Links())
		}
		pid := snap.ProjectID
		ops = append(ops, &writeOp{
			name:      "reconcile project",
			projectID: pid,
			run: func(ctx context.Context) error {
				return s.store.UpdateDocument(ctx, ports.CollectionProjects, pid.String(), fields)
			},
		})
	}
	for _, d := range cardDiffs {
		card, ok := s.graph.Card(d.uid)
		if !ok {
			continue
		}
		for _, f := range d.fields {
			ops = append(ops, s.updateCardOp(snap.ProjectID, d.uid, f, cardFieldValue(card, f)))
		}
	}
	for _, op := range ops {
		s.queue.enqueue(op)
	}
	s.mu.Unlock()

	report.Repushed = len(ops)
	if err := s.Flush(ctx); err != nil {
		return report, err
	}

	report.CheckedAt = time.Now()
	report.Clean = s.queue.markReconciled(failedBefore)

	s.logger.Info("Reconcile finished",
		zap.String("projectID", snap.ProjectID.String()),
		zap.Int("divergences", len(report.Divergences)),
		zap.Int("repushed", report.Repushed),
		zap.Bool("clean", report.Clean),
	)
	s.emit([]events.DomainEvent{events.NewReconciled(snap.ProjectID, len(report.Divergences))})
	return report, nil
}

func (s *State) fetchRemoteCards(ctx context.Context, cards []entities.Card) (map[valueobjects.CardID]entities.Card, error) {
	var mu sync.Mutex
	out := make(map[valueobjects.CardID]entities.Card, len(cards))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.LoadConcurrency)
	for _, c := range cards {
		uid := c.UID
		g.Go(func() error {
			var doc ports.Document
			err := invoke(gctx, s.opts.RemoteTimeout, "get card", func(ctx context.Context) error {
				var err error
				doc, err = s.store.GetDocument(ctx, ports.CollectionCards, uid.String())
				return err
			})
			if pkgerrors.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			card, err := decodeCard(doc, s.cfg.DefaultCardSize)
			if err != nil {
				s.logger.Warn("Unreadable card during reconcile", zap.String("cardID", uid.String()), zap.Error(err))
				return nil
			}
			mu.Lock()
			out[uid] = card
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// diffCard lists the fields whose remote value differs from local
func diffCard(local, remote entities.Card) []string {
	var fields []string
	if local.Description != remote.Description {
		fields = append(fields, fieldDescription)
	}
	if !local.Position.Equals(remote.Position) {
		fields = append(fields, fieldPosition)
	}
	if !local.Size.Equals(remote.Size) {
		fields = append(fields, fieldSize)
	}
	if !reflect.DeepEqual(local.Comments, remote.Comments) {
		fields = append(fields, fieldComments)
	}
	return fields
}

func cardFieldValue(card entities.Card, field string) interface{} {
	switch field {
	case fieldDescription:
		return card.Description
	case fieldPosition:
		return encodePosition(card.Position)
	case fieldSize:
		return encodeSize(card.Size)
	default:
		return encodeComments(card.Comments)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// equalLinks compares link lists as multisets. Appends from different
// sessions may land in any order, and order carries no meaning.
func equalLinks(a, b []entities.Link) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, l := range a {
		counts[l.Key()]++
	}
	for _, l := range b {
		key := l.Key()
		if counts[key] == 0 {
			return false
		}
		counts[key]--
	}
	return true
}

// periodicReconciler runs Reconcile on a ticker while the state is dirty
type periodicReconciler struct {
	state    *State
	interval time.Duration
	logger   *zap.Logger

	stopChan    chan struct{}
	stoppedChan chan struct{}
	stopOnce    sync.Once
}

func newPeriodicReconciler(state *State, interval time.Duration, logger *zap.Logger) *periodicReconciler {
	return &periodicReconciler{
		state:       state,
		interval:    interval,
		logger:      logger,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

func (r *periodicReconciler) Start() {
	r.logger.Debug("Starting periodic reconciler", zap.Duration("interval", r.interval))
	go r.loop()
}

func (r *periodicReconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	<-r.stoppedChan
}

func (r *periodicReconciler) loop() {
	defer close(r.stoppedChan)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *periodicReconciler) tick() {
	if !r.state.SyncStatus().Dirty || r.state.ProjectID().IsZero() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	if _, err := r.state.Reconcile(ctx); err != nil {
		r.logger.Warn("Periodic reconcile failed", zap.Error(err))
	}
}
