package interaction

import (
	"sync"

	"ailego/domain/core/entities"
	"ailego/domain/core/valueobjects"
	"ailego/pkg/auth"
)

// CardEditor is the part of the engine a card surface needs
type CardEditor interface {
	SetCardPosition(uid valueobjects.CardID, position valueobjects.Position) error
	SetCardSize(uid valueobjects.CardID, size valueobjects.Size) error
	SetCardDescription(uid valueobjects.CardID, text string) error
	AddComment(authorName string, cardID valueobjects.CardID, text string) (entities.Comment, error)
	RefreshLinks()
}

// SurfaceView is what a view renders for one card
type SurfaceView struct {
	CardID       valueobjects.CardID   `json:"cardId"`
	Stage        valueobjects.Stage    `json:"stage"`
	Prompt       string                `json:"prompt"`
	Description  string                `json:"description"`
	Position     valueobjects.Position `json:"position"`
	Size         valueobjects.Size     `json:"size"`
	CommentCount int                   `json:"commentCount"`
	CommentDraft string                `json:"commentDraft"`
	ShowComments bool                  `json:"showComments"`
	ShowPrompt   bool                  `json:"showPrompt"`
	Dragging     bool                  `json:"dragging"`
	Resizing     bool                  `json:"resizing"`
}

// CardSurface binds one card to the view. The committed card comes from the
// graph state; pending geometry is the echo of a gesture still in progress
// and never reaches the engine until the gesture is released.
type CardSurface struct {
	editor CardEditor
	uid    valueobjects.CardID

	mu           sync.Mutex
	committed    entities.Card
	pendingPos   *valueobjects.Position
	pendingSize  *valueobjects.Size
	draft        string
	showComments bool
	showPrompt   bool
}

// NewCardSurface creates a surface for a loaded card
func NewCardSurface(editor CardEditor, card entities.Card) *CardSurface {
	return &CardSurface{editor: editor, uid: card.UID, committed: card.Clone()}
}

// CardID returns the bound card
func (s *CardSurface) CardID() valueobjects.CardID {
	return s.uid
}

// Sync replaces the committed card with the graph state's copy
func (s *CardSurface) Sync(card entities.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = card.Clone()
}

// DragMove updates the pending position only
func (s *CardSurface) DragMove(p valueobjects.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingPos = &p
}

// DragStop commits the drop position and asks views to redraw links
func (s *CardSurface) DragStop(p valueobjects.Position) error {
	s.mu.Lock()
	s.pendingPos = nil
	s.mu.Unlock()

	if err := s.editor.SetCardPosition(s.uid, p); err != nil {
		return err
	}
	s.mu.Lock()
	s.committed.Position = p
	s.mu.Unlock()

	s.editor.RefreshLinks()
	return nil
}

// ResizeMove updates the pending geometry. Resizing from the top or left
// edge moves the origin as well.
func (s *CardSurface) ResizeMove(size valueobjects.Size, origin valueobjects.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingSize = &size
	s.pendingPos = &origin
}

// ResizeStop commits the size, and the origin when it moved
func (s *CardSurface) ResizeStop(size valueobjects.Size, origin valueobjects.Position) error {
	s.mu.Lock()
	moved := !origin.Equals(s.committed.Position)
	s.pendingSize = nil
	s.pendingPos = nil
	s.mu.Unlock()

	if err := s.editor.SetCardSize(s.uid, size); err != nil {
		return err
	}
	s.mu.Lock()
	s.committed.Size = size
	s.mu.Unlock()

	if moved {
		if err := s.editor.SetCardPosition(s.uid, origin); err != nil {
			return err
		}
		s.mu.Lock()
		s.committed.Position = origin
		s.mu.Unlock()
	}

	s.editor.RefreshLinks()
	return nil
}

// Abort drops any pending geometry
func (s *CardSurface) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingPos = nil
	s.pendingSize = nil
}

// EditDescription forwards every change to the engine
func (s *CardSurface) EditDescription(text string) error {
	if err := s.editor.SetCardDescription(s.uid, text); err != nil {
		return err
	}
	s.mu.Lock()
	s.committed.Description = text
	s.mu.Unlock()
	return nil
}

// SetCommentDraft stores the comment being typed
func (s *CardSurface) SetCommentDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
}

// SubmitComment sends the draft as the actor. The draft is cleared whether
// or not the engine accepts it.
func (s *CardSurface) SubmitComment(actor auth.Identity) (entities.Comment, error) {
	s.mu.Lock()
	draft := s.draft
	s.draft = ""
	s.mu.Unlock()

	return s.editor.AddComment(actor.DisplayName, s.uid, draft)
}

// ToggleComments flips the comment panel and returns the new state
func (s *CardSurface) ToggleComments() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showComments = !s.showComments
	return s.showComments
}

// TogglePrompt flips the prompt panel and returns the new state
func (s *CardSurface) TogglePrompt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showPrompt = !s.showPrompt
	return s.showPrompt
}

// Bounds is the effective area of the card, pending geometry first
func (s *CardSurface) Bounds() valueobjects.Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundsLocked()
}

func (s *CardSurface) boundsLocked() valueobjects.Rect {
	r := s.committed.Bounds()
	if s.pendingPos != nil {
		r.Origin = *s.pendingPos
	}
	if s.pendingSize != nil {
		r.Size = *s.pendingSize
	}
	return r
}

// View returns the effective card for rendering
func (s *CardSurface) View() SurfaceView {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.boundsLocked()
	return SurfaceView{
		CardID:       s.uid,
		Stage:        s.committed.Stage,
		Prompt:       s.committed.Prompt,
		Description:  s.committed.Description,
		Position:     r.Origin,
		Size:         r.Size,
		CommentCount: len(s.committed.Comments),
		CommentDraft: s.draft,
		ShowComments: s.showComments,
		ShowPrompt:   s.showPrompt,
		Dragging:     s.pendingPos != nil && s.pendingSize == nil,
		Resizing:     s.pendingSize != nil,
	}
}
