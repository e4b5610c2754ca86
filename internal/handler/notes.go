package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/notely/notely/internal/auth"
	"github.com/notely/notely/internal/handler/dto"
	"github.com/notely/notely/internal/service"
)

const msgNoteRemoved = "Note removed"

// NoteHandler handles HTTP requests for note operations. Every route sits
// behind the auth middleware; the owner is always the authenticated user.
type NoteHandler struct {
	svc    *service.NoteService
	logger *slog.Logger
}

// NewNoteHandler creates a new NoteHandler.
func NewNoteHandler(svc *service.NoteService, logger *slog.Logger) *NoteHandler {
	return &NoteHandler{
		svc:    svc,
		logger: logger.With("component", "handler.notes"),
	}
}

// List handles GET /api/notes.
func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	notes, err := h.svc.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, h.logger, err, msgNoteNotFound)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToNoteListResponse(notes))
}

// Create handles POST /api/notes.
func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req dto.CreateNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	note, err := h.svc.Create(r.Context(), userID, req.Title, req.Content)
	if err != nil {
		handleServiceError(w, r, h.logger, err, msgNoteNotFound)
		return
	}

	h.logger.Info("note_created",
		slog.String("note_id", note.ID),
		slog.String("owner_id", userID),
	)
	writeJSON(w, http.StatusCreated, dto.ToNoteResponse(note))
}

// Delete handles DELETE /api/notes/{id}.
func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	noteID := chi.URLParam(r, "id")

	if err := h.svc.Delete(r.Context(), userID, noteID); err != nil {
		handleServiceError(w, r, h.logger, err, msgNoteNotFound)
		return
	}

	h.logger.Info("note_deleted",
		slog.String("note_id", noteID),
		slog.String("owner_id", userID),
	)
	writeJSON(w, http.StatusOK, dto.MessageResponse{Message: msgNoteRemoved})
}

// requireUserID returns the authenticated user's ID, writing a 401 when the
// route was mounted without the auth middleware.
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", msgUnauthorized)
		return "", false
	}
	return userID, true
}
