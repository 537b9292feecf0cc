// Package handlers binds editor commands to project sessions
package handlers

import (
	"context"
	"fmt"

	"ailego/application/commands"
	"ailego/application/commands/bus"
	"ailego/application/sessions"
	"ailego/domain/core/entities"
	"ailego/domain/core/valueobjects"

	"go.uber.org/zap"
)

// EditorHandlers executes commands against the session of their project
type EditorHandlers struct {
	sessions *sessions.Manager
	logger   *zap.Logger
}

// NewEditorHandlers creates the handler set
func NewEditorHandlers(manager *sessions.Manager, logger *zap.Logger) *EditorHandlers {
	return &EditorHandlers{sessions: manager, logger: logger}
}

// Register adds every editor command to the bus
func (h *EditorHandlers) Register(b *bus.CommandBus) error {
	registrations := []struct {
		cmd     bus.Command
		handler bus.CommandHandlerFunc
	}{
		{&commands.CreateProjectCommand{}, h.createProject},
		{&commands.AddCardCommand{}, h.addCard},
		{&commands.SetCardDescriptionCommand{}, h.setDescription},
		{&commands.SetCardPositionCommand{}, h.setPosition},
		{&commands.SetCardSizeCommand{}, h.setSize},
		{&commands.DeleteCardCommand{}, h.deleteCard},
		{&commands.AddLinkCommand{}, h.addLink},
		{&commands.RefreshLinksCommand{}, h.refreshLinks},
		{&commands.ResetProjectCommand{}, h.resetProject},
		{&commands.ApplyTemplateCommand{}, h.applyTemplate},
		{&commands.ReconcileCommand{}, h.reconcile},
		{&commands.AddCommentCommand{}, h.addComment},
		{&commands.HandleGestureCommand{}, h.handleGesture},
		{&commands.CloseSessionCommand{}, h.closeSession},
	}
	for _, r := range registrations {
		if err := b.Register(r.cmd, r.handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *EditorHandlers) session(ctx context.Context, projectID string) (*sessions.Session, error) {
	return h.sessions.Acquire(ctx, valueobjects.ProjectID(projectID))
}

func unexpected(cmd bus.Command) error {
	return fmt.Errorf("%w: %T", bus.ErrUnexpectedType, cmd)
}

func (h *EditorHandlers) createProject(ctx context.Context, c bus.Command) error {
	cmd, ok := c.(*commands.CreateProjectCommand)
	if !ok {
		return unexpected(c)
	}
	id, err := h.sessions.CreateProject(ctx)
	if err != nil {
		return err
	}
	cmd.ProjectID = id
	return nil
}

func (h *EditorHandlers) addCard(ctx context.Context, c bus.Command) error {
	cmd, ok := c.(*commands.AddCardCommand)
	if !ok {
		return unexpected(c)
	}
	s, err := h.session(ctx, cmd.ProjectID)
	if err != nil {
		return err
	}
	card, err := s.State.AddCard(ctx, valueobjects.Stage(cmd.Stage))
	if err != nil {
		return err
	}
	cmd.Card = card
	return nil
}

func (h *EditorHandlers) setDescription(ctx context.Context, c bus.Command) error {
	cmd, ok := c.(*commands.SetCardDescriptionCommand)
	if !ok {
		return unexpected(c)
	}
	s, err := h.session(ctx, cmd.ProjectID)
	if err != nil {
		return err
	}
	return s.State.SetCardDescription(valueobjects.CardID(cmd.CardID), cmd.Description)
}

func (h *EditorHandlers) setPosition(ctx context.Context, c bus.Command) error {
	cmd, ok := c.(*commands.SetCardPositionCommand)
	if !ok {
		return unexpected(c)
	}
	s, err := h.session(ctx, cmd.ProjectID)
	if err != nil {
		return err
	}
	uid := valueobjects.CardID(cmd.CardID)
	if err := s.State.SetCardPosition(uid, valueobjects.Position{X: cmd.X, Y: cmd.Y}); err != nil {
		return err
	}
	s.State.RefreshLinks()
	return nil
}

func (h *EditorHandlers) setSize(ctx context.Context, c bus.Command) error {
	cmd, ok := c.(*commands.SetCardSizeCommand)
	if !ok {
		return unexpected(c)
	}
	s, err := h.session(ctx, cmd.ProjectID)
	if err != nil {
		return err
	}
	return s.State.SetCardSize(valueobjects.CardID(cmd.CardID), valueobjects.Size{Width: cmd.Width, Height: cmd.Height})
}

func (h *EditorHandlers) deleteCard(ctx context.Context, c bus.Command) error {
	cmd, ok := c.(*commands.DeleteCardCommand)
	if !ok {
		return unexpected(c)
	}
	s, err := h.session(ctx, cmd.ProjectID)
	if err != nil {
		return err
	}
	return s.State.DeleteCardAndLinks(valueobjects.CardID(cmd.CardID))
}

func (h *EditorHandlers) addLink(ctx context.Context, c bus.Command) error {
	cmd, ok := c.(*commands.AddLinkCommand)
	if !ok {
		return unexpected(c)
	}
	s, err := h.session(ctx, cmd.ProjectID)
	if err != nil {
		return err
	}
	link, err := entities.NewLink(valueobjects.CardID(cmd.Start), valueobjects.CardID(cmd.End))
	if err != nil {
		return err
	}
	added, err := s.State.AddLink(link)
	if err != nil {
		return err
	}
	cmd.Added = added
	return nil
}

func (h *EditorHandlers) refreshLinks(ctx context.Context, c bus.Command) error {
	cmd, ok := c.(*commands.RefreshLinksCommand)
	if !ok {
		return unexpected(c)
	}
	s, err := h.session(ctx, cmd.ProjectID)
	if err != nil {
		return err
	}
	s.State.RefreshLinks()
	return nil
}

// resetProject empties the project and ends its session, since a reset
// unloads the project locally
func (h *EditorHandlers) resetProject(ctx context.Context, c bus.Command) error {
	cmd, ok := c.(*commands.ResetProjectCommand)
	if !ok {
		return unexpected(c)
	}
	s, err := h.session(ctx, cmd.ProjectID)
	if err != nil {
		return err
	}
	resetErr := s.State.ResetStore(ctx)
	if err := h.sessions.Release(ctx, s.ProjectID); err != nil {
		h.logger.Warn("Failed to release session after reset",
			zap.String("projectID", cmd.ProjectID),
			zap.Error(err),
		)
	}
	return resetErr
}

func (h *EditorHandlers) applyTemplate(ctx context.Context, c bus.Command) error {
	cmd, ok := c.(*commands.ApplyTemplateCommand)
	if !ok {
		return unexpected(c)
	}
	s, err := h.session(ctx, cmd.ProjectID)
	if err != nil {
		return err
	}
	cards, err := s.State.ApplyTemplate(ctx, cmd.Template)
	cmd.Cards = cards
	return err
}

func (h *EditorHandlers) reconcile(ctx context.Context, c bus.Command) error {
	cmd, ok := c.(*commands.ReconcileCommand)
	if !ok {
		return unexpected(c)
	}
	s, err := h.session(ctx, cmd.ProjectID)
	if err != nil {
		return err
	}
	report, err := s.State.Reconcile(ctx)
	cmd.Report = report
	return err
}

func (h *EditorHandlers) addComment(ctx context.Context, c bus.Command) error {
	cmd, ok := c.(*commands.AddCommentCommand)
	if !ok {
		return unexpected(c)
	}
	s, err := h.session(ctx, cmd.ProjectID)
	if err != nil {
		return err
	}
	comment, err := s.State.AddComment(cmd.Author.DisplayName, valueobjects.CardID(cmd.CardID), cmd.Text)
	if err != nil {
		return err
	}
	cmd.Comment = comment
	return nil
}

func (h *EditorHandlers) handleGesture(ctx context.Context, c bus.Command) error {
	cmd, ok := c.(*commands.HandleGestureCommand)
	if !ok {
		return unexpected(c)
	}
	s, err := h.session(ctx, cmd.ProjectID)
	if err != nil {
		return err
	}
	result, err := s.Canvas.Handle(cmd.Event)
	if err != nil {
		return err
	}
	cmd.Result = result
	return nil
}

func (h *EditorHandlers) closeSession(ctx context.Context, c bus.Command) error {
	cmd, ok := c.(*commands.CloseSessionCommand)
	if !ok {
		return unexpected(c)
	}
	return h.sessions.Release(ctx, valueobjects.ProjectID(cmd.ProjectID))
}
