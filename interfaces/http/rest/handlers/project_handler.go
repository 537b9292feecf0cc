// Package handlers translates editor HTTP requests into bus commands and queries
package handlers

import (
	"net/http"

	"ailego/application/commands"
	"ailego/application/commands/bus"
	"ailego/application/interaction"
	"ailego/application/queries"
	querybus "ailego/application/queries/bus"
	"ailego/pkg/auth"
	"ailego/pkg/common"
	pkgerrors "ailego/pkg/errors"
	"ailego/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ProjectHandler handles the project, card, link and session endpoints
type ProjectHandler struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	errors     *pkgerrors.ErrorHandler
	logger     *zap.Logger
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	errorHandler *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *ProjectHandler {
	return &ProjectHandler{
		commandBus: commandBus,
		queryBus:   queryBus,
		errors:     errorHandler,
		logger:     logger,
	}
}

// AddCardRequest is the body of POST /projects/{id}/cards
type AddCardRequest struct {
	Stage string `json:"stage" validate:"required"`
}

// DescriptionRequest is the body of PUT .../description
type DescriptionRequest struct {
	Description string `json:"description" validate:"max=20000"`
}

// PositionRequest is the body of PUT .../position
type PositionRequest struct {
	X *float64 `json:"x" validate:"required"`
	Y *float64 `json:"y" validate:"required"`
}

// SizeRequest is the body of PUT .../size
type SizeRequest struct {
	Width  float64 `json:"width" validate:"gt=0"`
	Height float64 `json:"height" validate:"gt=0"`
}

// AddLinkRequest is the body of POST /projects/{id}/links
type AddLinkRequest struct {
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

// AddCommentRequest is the body of POST .../comments
type AddCommentRequest struct {
	Text string `json:"text" validate:"required,max=5000"`
}

// AddLinkResponse reports whether the link was new
type AddLinkResponse struct {
	Added bool `json:"added"`
}

func (h *ProjectHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := common.ParseJSONBody(w, r, v, common.DefaultMaxBodyBytes); err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("Invalid request body: "+err.Error()))
		return false
	}
	if err := utils.ValidateStruct(v); err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError(err.Error()))
		return false
	}
	return true
}

func (h *ProjectHandler) send(w http.ResponseWriter, r *http.Request, cmd bus.Command) bool {
	if err := h.commandBus.Send(r.Context(), cmd); err != nil {
		h.errors.Handle(w, r, err)
		return false
	}
	return true
}

func (h *ProjectHandler) ask(w http.ResponseWriter, r *http.Request, query querybus.Query) {
	result, err := h.queryBus.Ask(r.Context(), query)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, r, http.StatusOK, result)
}

func projectID(r *http.Request) string { return chi.URLParam(r, "projectID") }
func cardID(r *http.Request) string    { return chi.URLParam(r, "cardID") }

// CreateProject handles POST /projects
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	cmd := &commands.CreateProjectCommand{}
	if !h.send(w, r, cmd) {
		return
	}
	common.RespondJSON(w, r, http.StatusCreated, map[string]string{"projectId": string(cmd.ProjectID)})
}

// GetGraph handles GET /projects/{projectID}/graph
func (h *ProjectHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.GetGraphQuery{ProjectID: projectID(r)})
}

// GetSyncStatus handles GET /projects/{projectID}/sync
func (h *ProjectHandler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.GetSyncStatusQuery{ProjectID: projectID(r)})
}

// GetCardThread handles GET /projects/{projectID}/cards/{cardID}/thread
func (h *ProjectHandler) GetCardThread(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.GetCardThreadQuery{ProjectID: projectID(r), CardID: cardID(r)})
}

// ListTemplates handles GET /templates
func (h *ProjectHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.ListTemplatesQuery{})
}

// AddCard handles POST /projects/{projectID}/cards
func (h *ProjectHandler) AddCard(w http.ResponseWriter, r *http.Request) {
	var req AddCardRequest
	if !h.decode(w, r, &req) {
		return
	}
	cmd := &commands.AddCardCommand{ProjectID: projectID(r), Stage: req.Stage}
	if !h.send(w, r, cmd) {
		return
	}
	common.RespondJSON(w, r, http.StatusCreated, cmd.Card)
}

// SetDescription handles PUT /projects/{projectID}/cards/{cardID}/description
func (h *ProjectHandler) SetDescription(w http.ResponseWriter, r *http.Request) {
	var req DescriptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	cmd := &commands.SetCardDescriptionCommand{
		ProjectID:   projectID(r),
		CardID:      cardID(r),
		Description: req.Description,
	}
	if h.send(w, r, cmd) {
		w.WriteHeader(http.StatusNoContent)
	}
}

// SetPosition handles PUT /projects/{projectID}/cards/{cardID}/position
func (h *ProjectHandler) SetPosition(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if !h.decode(w, r, &req) {
		return
	}
	cmd := &commands.SetCardPositionCommand{
		ProjectID: projectID(r),
		CardID:    cardID(r),
		X:         *req.X,
		Y:         *req.Y,
	}
	if h.send(w, r, cmd) {
		w.WriteHeader(http.StatusNoContent)
	}
}

// SetSize handles PUT /projects/{projectID}/cards/{cardID}/size
func (h *ProjectHandler) SetSize(w http.ResponseWriter, r *http.Request) {
	var req SizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	cmd := &commands.SetCardSizeCommand{
		ProjectID: projectID(r),
		CardID:    cardID(r),
		Width:     req.Width,
		Height:    req.Height,
	}
	if h.send(w, r, cmd) {
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteCard handles DELETE /projects/{projectID}/cards/{cardID}
func (h *ProjectHandler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	cmd := &commands.DeleteCardCommand{ProjectID: projectID(r), CardID: cardID(r)}
	if h.send(w, r, cmd) {
		w.WriteHeader(http.StatusNoContent)
	}
}

// AddLink handles POST /projects/{projectID}/links
func (h *ProjectHandler) AddLink(w http.ResponseWriter, r *http.Request) {
	var req AddLinkRequest
	if !h.decode(w, r, &req) {
		return
	}
	cmd := &commands.AddLinkCommand{ProjectID: projectID(r), Start: req.Start, End: req.End}
	if !h.send(w, r, cmd) {
		return
	}
	status := http.StatusOK
	if cmd.Added {
		status = http.StatusCreated
	}
	common.RespondJSON(w, r, status, AddLinkResponse{Added: cmd.Added})
}

// RefreshLinks handles POST /projects/{projectID}/refresh-links
func (h *ProjectHandler) RefreshLinks(w http.ResponseWriter, r *http.Request) {
	if h.send(w, r, &commands.RefreshLinksCommand{ProjectID: projectID(r)}) {
		w.WriteHeader(http.StatusAccepted)
	}
}

// Reset handles POST /projects/{projectID}/reset
func (h *ProjectHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if h.send(w, r, &commands.ResetProjectCommand{ProjectID: projectID(r)}) {
		w.WriteHeader(http.StatusNoContent)
	}
}

// ApplyTemplate handles POST /projects/{projectID}/templates/{name}
func (h *ProjectHandler) ApplyTemplate(w http.ResponseWriter, r *http.Request) {
	cmd := &commands.ApplyTemplateCommand{ProjectID: projectID(r), Template: chi.URLParam(r, "name")}
	if !h.send(w, r, cmd) {
		return
	}
	common.RespondJSON(w, r, http.StatusCreated, cmd.Cards)
}

// Reconcile handles POST /projects/{projectID}/reconcile
func (h *ProjectHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	cmd := &commands.ReconcileCommand{ProjectID: projectID(r)}
	if !h.send(w, r, cmd) {
		return
	}
	common.RespondJSON(w, r, http.StatusOK, cmd.Report)
}

// AddComment handles POST /projects/{projectID}/cards/{cardID}/comments
func (h *ProjectHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req AddCommentRequest
	if !h.decode(w, r, &req) {
		return
	}
	cmd := &commands.AddCommentCommand{
		ProjectID: projectID(r),
		CardID:    cardID(r),
		Text:      req.Text,
		Author:    auth.IdentityFromContext(r.Context()),
	}
	if !h.send(w, r, cmd) {
		return
	}
	common.RespondJSON(w, r, http.StatusCreated, cmd.Comment)
}

// HandleGesture handles POST /projects/{projectID}/gestures
func (h *ProjectHandler) HandleGesture(w http.ResponseWriter, r *http.Request) {
	var event interaction.PointerEvent
	if !h.decode(w, r, &event) {
		return
	}
	cmd := &commands.HandleGestureCommand{ProjectID: projectID(r), Event: event}
	if !h.send(w, r, cmd) {
		return
	}
	common.RespondJSON(w, r, http.StatusOK, cmd.Result)
}

// CloseSession handles DELETE /projects/{projectID}/session
func (h *ProjectHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if h.send(w, r, &commands.CloseSessionCommand{ProjectID: projectID(r)}) {
		w.WriteHeader(http.StatusNoContent)
	}
}
