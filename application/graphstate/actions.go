package graphstate

import (
	"context"
	"fmt"
	"unicode/utf8"

	"ailego/application/ports"
	"ailego/domain/core/aggregates"
	"ailego/domain/core/entities"
	"ailego/domain/core/valueobjects"
	"ailego/domain/events"
	pkgerrors "ailego/pkg/errors"
	"ailego/pkg/utils"

	"go.uber.org/zap"
)

// apply runs fn under the write lock and queues the writes it returns in the
// same critical section, so remote order always matches local order. Raised
// events are delivered after the lock is released.
func (s *State) apply(fn func(g *aggregates.Graph) ([]*writeOp, error)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed()
	}
	ops, err := fn(s.graph)
	if err == nil {
		for _, op := range ops {
			s.queue.enqueue(op)
		}
	}
	evts := s.graph.PullEvents()
	s.mu.Unlock()

	s.emit(evts)
	return err
}

// AddCard creates a card for stage to the right of the rightmost card.
// The card document is created synchronously because the store assigns the
// id; linking it into the project is queued.
func (s *State) AddCard(ctx context.Context, stage valueobjects.Stage) (entities.Card, error) {
	if !stage.IsValid() {
		return entities.Card{}, pkgerrors.NewValidationError("unknown stage: " + stage.String())
	}

	s.addMu.Lock()
	defer s.addMu.Unlock()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return entities.Card{}, errClosed()
	}
	projectID := s.graph.ProjectID()
	position := s.graph.NextCardPosition(s.cfg.CardSpacing)
	count := len(s.graph.CardIDs())
	s.mu.RUnlock()

	if projectID.IsZero() {
		s.logger.Error("AddCard called with no project loaded", zap.String("stage", stage.String()))
		return entities.Card{}, pkgerrors.NewPreconditionError("no project loaded")
	}
	if count >= s.cfg.MaxCardsPerProject {
		return entities.Card{}, pkgerrors.NewValidationError("maximum cards reached")
	}

	draft, err := entities.NewCard(projectID, stage, position, s.cfg.DefaultCardSize)
	if err != nil {
		return entities.Card{}, err
	}

	var created ports.Document
	err = invoke(ctx, s.opts.RemoteTimeout, "create card", func(ctx context.Context) error {
		var err error
		created, err = s.store.CreateDocument(ctx, ports.CollectionCards, encodeCard(draft))
		return err
	})
	if err != nil {
		s.logger.Error("Failed to create card",
			zap.String("projectID", projectID.String()),
			zap.String("stage", stage.String()),
			zap.Error(err),
		)
		if pkgerrors.IsWrite(err) {
			return entities.Card{}, err
		}
		return entities.Card{}, pkgerrors.NewWriteError("create card", err)
	}

	card := draft.WithUID(valueobjects.CardID(created.ID()))
	linkOps := s.linkCardOps(card)

	var stale bool
	err = s.apply(func(g *aggregates.Graph) ([]*writeOp, error) {
		if g.ProjectID() != projectID {
			// the card belongs to the project it was created for
			stale = true
			return linkOps, nil
		}
		if err := g.AddCard(card); err != nil {
			return nil, err
		}
		return linkOps, nil
	})
	if err != nil {
		return entities.Card{}, err
	}
	if stale {
		s.logger.Warn("Project changed while creating card",
			zap.String("projectID", projectID.String()),
			zap.String("cardID", card.UID.String()),
		)
		return entities.Card{}, pkgerrors.NewPreconditionError("project changed while creating card")
	}

	s.logger.Debug("Card added",
		zap.String("projectID", projectID.String()),
		zap.String("cardID", card.UID.String()),
		zap.Float64("x", card.Position.X),
	)
	return card, nil
}

// linkCardOps stamps the card with its id and appends it to the project.
// A failed append leaves an orphan card document, which is logged and left
// to Reconcile.
func (s *State) linkCardOps(card entities.Card) []*writeOp {
	uid := card.UID.String()
	projectID := card.ProjectID
	return []*writeOp{
		{
			name:      "set card uid",
			projectID: projectID,
			run: func(ctx context.Context) error {
				return s.store.UpdateDocument(ctx, ports.CollectionCards, uid, ports.Document{fieldUID: uid})
			},
		},
		{
			name:      "link card to project",
			projectID: projectID,
			run: func(ctx context.Context) error {
				if err := s.store.AppendToArrayField(ctx, ports.CollectionProjects, projectID.String(), fieldCardIDs, uid); err != nil {
					s.logger.Error("Card document is orphaned",
						zap.String("projectID", projectID.String()),
						zap.String("cardID", uid),
						zap.Error(err),
					)
					return err
				}
				return s.touchProject(ctx, projectID)
			},
		},
	}
}

func (s *State) touchProject(ctx context.Context, projectID valueobjects.ProjectID) error {
	return s.store.UpdateDocument(ctx, ports.CollectionProjects, projectID.String(), ports.Document{
		fieldLastUpdated: utils.NowRFC3339(),
	})
}

// updateCardOp writes one card field. Pending writes of the same field are
// superseded, so fast edits collapse into the latest value.
func (s *State) updateCardOp(projectID valueobjects.ProjectID, uid valueobjects.CardID, field string, value interface{}) *writeOp {
	return &writeOp{
		key:       fmt.Sprintf("card:%s:%s", uid, field),
		name:      "update card " + field,
		projectID: projectID,
		run: func(ctx context.Context) error {
			return s.store.UpdateDocument(ctx, ports.CollectionCards, uid.String(), ports.Document{field: value})
		},
	}
}

// SetCardDescription replaces the description locally and queues the write
func (s *State) SetCardDescription(uid valueobjects.CardID, text string) error {
	if utf8.RuneCountInString(text) > s.cfg.MaxDescriptionLength {
		return pkgerrors.NewValidationError("description is too long")
	}
	return s.apply(func(g *aggregates.Graph) ([]*writeOp, error) {
		if _, err := g.SetDescription(uid, text); err != nil {
			return nil, err
		}
		return []*writeOp{s.updateCardOp(g.ProjectID(), uid, fieldDescription, text)}, nil
	})
}

// SetCardPosition commits a drag release
func (s *State) SetCardPosition(uid valueobjects.CardID, position valueobjects.Position) error {
	if err := position.Validate(); err != nil {
		return pkgerrors.NewValidationError(err.Error())
	}
	return s.apply(func(g *aggregates.Graph) ([]*writeOp, error) {
		if _, err := g.MoveCard(uid, position); err != nil {
			return nil, err
		}
		return []*writeOp{s.updateCardOp(g.ProjectID(), uid, fieldPosition, encodePosition(position))}, nil
	})
}

// SetCardSize commits a resize release
func (s *State) SetCardSize(uid valueobjects.CardID, size valueobjects.Size) error {
	if err := size.Validate(); err != nil {
		return pkgerrors.NewValidationError(err.Error())
	}
	return s.apply(func(g *aggregates.Graph) ([]*writeOp, error) {
		if _, err := g.ResizeCard(uid, size); err != nil {
			return nil, err
		}
		return []*writeOp{s.updateCardOp(g.ProjectID(), uid, fieldSize, encodeSize(size))}, nil
	})
}

// AddLink connects two cards. Self links and links equal to an existing one
// are ignored and reported as false. The remote append is atomic, so
// concurrent sessions never drop each other's links.
func (s *State) AddLink(link entities.Link) (bool, error) {
	var added bool
	err := s.apply(func(g *aggregates.Graph) ([]*writeOp, error) {
		var err error
		added, err = g.AddLink(link)
		if err != nil || !added {
			return nil, err
		}
		projectID := g.ProjectID()
		value := encodeLink(link)
		return []*writeOp{{
			name:      "append link",
			projectID: projectID,
			run: func(ctx context.Context) error {
				return s.store.AppendToArrayField(ctx, ports.CollectionProjects, projectID.String(), fieldLinks, value)
			},
		}}, nil
	})
	if pkgerrors.IsPrecondition(err) {
		s.logger.Error("AddLink called with no project loaded",
			zap.String("start", link.Start.String()),
			zap.String("end", link.End.String()),
		)
	}
	return added, err
}

// RefreshLinks asks views to redraw link endpoints; data is unchanged
func (s *State) RefreshLinks() {
	_ = s.apply(func(g *aggregates.Graph) ([]*writeOp, error) {
		g.TouchTopology()
		return nil, nil
	})
}

// DeleteCardAndLinks removes a card and every link touching it
func (s *State) DeleteCardAndLinks(uid valueobjects.CardID) error {
	return s.apply(func(g *aggregates.Graph) ([]*writeOp, error) {
		removed, err := g.RemoveCardAndLinks(uid)
		if err != nil {
			return nil, err
		}
		projectID := g.ProjectID()

		ops := []*writeOp{
			{
				name:      "delete card",
				projectID: projectID,
				run: func(ctx context.Context) error {
					return s.store.DeleteDocument(ctx, ports.CollectionCards, uid.String())
				},
			},
			{
				name:      "unlink card from project",
				projectID: projectID,
				run: func(ctx context.Context) error {
					return s.store.RemoveFromArrayField(ctx, ports.CollectionProjects, projectID.String(), fieldCardIDs, uid.String())
				},
			},
		}
		if len(removed) > 0 {
			values := encodeLinks(removed)
			ops = append(ops, &writeOp{
				name:      "remove links",
				projectID: projectID,
				run: func(ctx context.Context) error {
					return s.store.RemoveFromArrayField(ctx, ports.CollectionProjects, projectID.String(), fieldLinks, values...)
				},
			})
		}
		return ops, nil
	})
}

// ResetStore empties the loaded project remotely, deletes its card
// documents and unloads it locally. It waits for the remote writes and
// reports the first one that failed.
func (s *State) ResetStore(ctx context.Context) error {
	failedBefore := s.queue.failedCount()

	var projectID valueobjects.ProjectID
	err := s.apply(func(g *aggregates.Graph) ([]*writeOp, error) {
		projectID = g.ProjectID()
		if projectID.IsZero() {
			return nil, pkgerrors.NewPreconditionError("no project loaded")
		}

		pid := projectID
		ops := []*writeOp{{
			name:      "reset project",
			projectID: pid,
			run: func(ctx context.Context) error {
				return s.store.UpdateDocument(ctx, ports.CollectionProjects, pid.String(), ports.Document{
					fieldCardIDs: []interface{}{},
					fieldLinks:   []interface{}{},
				})
			},
		}}
		for _, id := range g.CardIDs() {
			cardID := id.String()
			ops = append(ops, &writeOp{
				name:      "delete card",
				projectID: pid,
				run: func(ctx context.Context) error {
					return s.store.DeleteDocument(ctx, ports.CollectionCards, cardID)
				},
			})
		}

		// apply holds the write lock, so the swap is atomic with the queueing
		s.graph = aggregates.NewEmptyGraph(limitsFrom(s.cfg))
		return ops, nil
	})
	if err != nil {
		return err
	}
	s.emit([]events.DomainEvent{events.NewProjectCleared(projectID, true)})

	if err := s.Flush(ctx); err != nil {
		return err
	}
	if s.queue.failedCount() != failedBefore {
		cause := fmt.Errorf("reset of project %s incomplete", projectID)
		if last, ok := s.queue.lastFailure(); ok {
			cause = fmt.Errorf("%s: %s", last.Operation, last.Error)
		}
		return pkgerrors.NewWriteError("reset project", cause)
	}
	return nil
}

// AddComment appends a comment to a card. An empty author is recorded as
// Anonymous.
func (s *State) AddComment(authorName string, cardID valueobjects.CardID, text string) (entities.Comment, error) {
	if utf8.RuneCountInString(authorName) > s.cfg.MaxAuthorNameLength {
		return entities.Comment{}, pkgerrors.NewValidationError("author name is too long")
	}
	comment, err := entities.NewComment(authorName, cardID, text, s.cfg.MaxCommentLength)
	if err != nil {
		return entities.Comment{}, err
	}

	err = s.apply(func(g *aggregates.Graph) ([]*writeOp, error) {
		if err := g.AddComment(comment); err != nil {
			return nil, err
		}
		projectID := g.ProjectID()
		value := encodeComment(comment)
		return []*writeOp{{
			name:      "append comment",
			projectID: projectID,
			run: func(ctx context.Context) error {
				return s.store.AppendToArrayField(ctx, ports.CollectionCards, cardID.String(), fieldComments, value)
			},
		}}, nil
	})
	if err != nil {
		return entities.Comment{}, err
	}
	return comment, nil
}

// ApplyTemplate adds the cards of a pipeline template in order and links
// them as the template describes. Cards added before a failure stay.
func (s *State) ApplyTemplate(ctx context.Context, name string) ([]entities.Card, error) {
	tpl, ok := s.templates.Lookup(name)
	if !ok {
		return nil, pkgerrors.NewNotFoundError("template " + name)
	}

	cards := make([]entities.Card, 0, len(tpl.Stages))
	for _, stage := range tpl.Stages {
		card, err := s.AddCard(ctx, stage)
		if err != nil {
			return cards, pkgerrors.Wrapf(err, "template %s stopped at stage %s", name, stage)
		}
		cards = append(cards, card)
	}

	for _, arrow := range tpl.Arrows {
		link := entities.Link{Start: cards[arrow.From].UID, End: cards[arrow.To].UID}
		if _, err := s.AddLink(link); err != nil {
			return cards, pkgerrors.Wrapf(err, "template %s link %d->%d", name, arrow.From, arrow.To)
		}
	}

	s.logger.Info("Template applied",
		zap.String("template", name),
		zap.Int("cards", len(cards)),
		zap.Int("links", len(tpl.Arrows)),
	)
	return cards, nil
}
