package rest

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/application/elements"
	"github.com/mariamrf/pegasus/internal/application/session"
	"github.com/mariamrf/pegasus/internal/domain/board"
	apperrors "github.com/mariamrf/pegasus/internal/errors"
	"github.com/mariamrf/pegasus/internal/interfaces/surface"
)

var validate = validator.New()

// ============================================================================
// REQUESTS AND RESPONSES
// ============================================================================

// PositionRequest is a note position. Both coordinates are required.
type PositionRequest struct {
	Top  *float64 `json:"top" validate:"required"`
	Left *float64 `json:"left" validate:"required"`
}

func (p *PositionRequest) toPosition() (board.Position, error) {
	return board.NewPosition(*p.Top, *p.Left)
}

// CreateNoteRequest represents the request body for creating a note
type CreateNoteRequest struct {
	Content  string           `json:"content" validate:"required"`
	Position *PositionRequest `json:"position,omitempty"`
}

// EditNoteRequest represents the request body for editing a note
type EditNoteRequest struct {
	Content string `json:"content" validate:"required"`
}

// ChatRequest represents the request body for sending a chat line
type ChatRequest struct {
	Message string `json:"message" validate:"required"`
}

// NoteResponse is a note as the viewer's change left it.
type NoteResponse struct {
	ElementID string          `json:"elementId,omitempty"`
	SoftID    string          `json:"softId"`
	Content   string          `json:"content"`
	Markup    string          `json:"markup"`
	Position  *board.Position `json:"position,omitempty"`
	Editable  bool            `json:"editable"`
}

func noteResponse(el *board.PositionedElement) NoteResponse {
	return NoteResponse{
		ElementID: el.ElementID,
		SoftID:    el.SoftID,
		Content:   el.Content,
		Markup:    el.Markup(),
		Position:  board.ClonePosition(el.Position),
		Editable:  el.Editable,
	}
}

// BoardResponse is the board as the viewer sees it.
type BoardResponse struct {
	ID         string       `json:"id"`
	Actor      string       `json:"actor"`
	Invite     bool         `json:"invite"`
	CanEdit    bool         `json:"canEdit"`
	Enabled    bool         `json:"enabled"`
	Finished   bool         `json:"finished"`
	Locked     bool         `json:"locked"`
	LockedBy   string       `json:"lockedBy,omitempty"`
	Notice     string       `json:"notice,omitempty"`
	Expiry     string       `json:"expiry,omitempty"`
	Watermark  string       `json:"watermark"`
	Tombstones int          `json:"tombstones"`
	InFlight   int          `json:"inFlight"`
	View       surface.View `json:"view"`
}

// ============================================================================
// HANDLER
// ============================================================================

// BoardHandler handles board requests from the local viewer.
type BoardHandler struct {
	session  *session.BoardSession
	elements Elements
	surface  Surface
	loc      *time.Location
	logger   *zap.Logger
}

// NewBoardHandler creates a new board handler
func NewBoardHandler(sess *session.BoardSession, el Elements, s Surface, loc *time.Location, logger *zap.Logger) *BoardHandler {
	return &BoardHandler{session: sess, elements: el, surface: s, loc: loc, logger: logger}
}

// GetBoard handles GET /api/board
func (h *BoardHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	snap := h.session.Snapshot()
	invite := h.session.Invite()

	resp := BoardResponse{
		ID:         h.session.BoardID(),
		Actor:      invite.Actor().String(),
		Invite:     invite.HasInvite(),
		CanEdit:    snap.CanEdit,
		Enabled:    snap.Enabled,
		Finished:   snap.Finished,
		Locked:     snap.Lock.Locked,
		LockedBy:   snap.Lock.LockedByName,
		Notice:     snap.Lock.Notice(),
		Watermark:  snap.Watermark.String(),
		Tombstones: snap.Tombstones,
		InFlight:   snap.InFlight,
		View:       h.surface.View(),
	}
	if doneAt := h.session.DoneAt(); !doneAt.IsZero() {
		resp.Expiry = board.ExpiryDescription(doneAt, time.Now(), snap.Finished, h.loc)
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// CreateNote handles POST /api/board/notes
func (h *BoardHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	var pos *board.Position
	if req.Position != nil {
		p, err := req.Position.toPosition()
		if err != nil {
			h.respondError(w, badRequest(err.Error()))
			return
		}
		pos = &p
	}

	el, err := h.elements.Create(r.Context(), req.Content, pos)
	if err != nil {
		h.respondError(w, err)
		return
	}
	// an invite-only write has no id yet; the next poll draws it
	status := http.StatusCreated
	if el.ElementID == "" {
		status = http.StatusAccepted
	}
	h.respondJSON(w, status, noteResponse(el))
}

// EditNote handles PUT /api/board/notes/{elementID}
func (h *BoardHandler) EditNote(w http.ResponseWriter, r *http.Request) {
	var req EditNoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	el, err := h.elements.Edit(r.Context(), chi.URLParam(r, "elementID"), req.Content)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, noteResponse(el))
}

// MoveNote handles POST /api/board/notes/{elementID}/move
func (h *BoardHandler) MoveNote(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if !h.decode(w, r, &req) {
		return
	}
	pos, err := req.toPosition()
	if err != nil {
		h.respondError(w, badRequest(err.Error()))
		return
	}

	el, err := h.elements.Move(r.Context(), chi.URLParam(r, "elementID"), pos)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if el == nil {
		// removed by someone else while the move was in flight
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.respondJSON(w, http.StatusOK, noteResponse(el))
}

// DeleteNote handles DELETE /api/board/notes/{elementID}
func (h *BoardHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.elements.Delete(r.Context(), chi.URLParam(r, "elementID")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendChat handles POST /api/board/chat
func (h *BoardHandler) SendChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.elements.SendChat(r.Context(), req.Message); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ListBanners handles GET /api/board/banners
func (h *BoardHandler) ListBanners(w http.ResponseWriter, r *http.Request) {
	banners := h.elements.Banners()
	if banners == nil {
		banners = []elements.Banner{}
	}
	h.respondJSON(w, http.StatusOK, banners)
}

// DismissBanner handles DELETE /api/board/banners/{bannerID}
func (h *BoardHandler) DismissBanner(w http.ResponseWriter, r *http.Request) {
	if err := h.elements.DismissBanner(r.Context(), chi.URLParam(r, "bannerID")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// HELPERS
// ============================================================================

// decode reads and validates a JSON body. It answers the request itself
// when the body is unusable.
func (h *BoardHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondError(w, badRequest("Invalid request body: "+err.Error()))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		h.respondError(w, badRequest("Validation error: "+err.Error()))
		return false
	}
	return true
}

func badRequest(message string) error {
	return apperrors.Validation(apperrors.CodeBadRequest, message).Build()
}

func (h *BoardHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (h *BoardHandler) respondError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: true, Code: apperrors.CodeWrapped, Type: string(apperrors.ErrorTypeInternal), Message: apperrors.UserMessage(err)}
	var ue *apperrors.UnifiedError
	if stderrors.As(err, &ue) {
		resp.Code = ue.Code
		resp.Type = string(ue.Type)
	}
	h.respondJSON(w, apperrors.HTTPStatus(err), resp)
}
