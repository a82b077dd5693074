package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashvetsov/flowpilot/internal/domain"
	"github.com/ashvetsov/flowpilot/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SessionHandler exposes the conversation store's session surface. Display
// concerns stay with the presentation layer; this is list/archive only.
type SessionHandler struct {
	repo store.Repository
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(repo store.Repository) *SessionHandler {
	return &SessionHandler{repo: repo}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/{sessionID}/archive", h.Archive)
	})
}

// List returns all sessions for a user, newest first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if _, err := uuid.Parse(userID); err != nil {
		Error(w, http.StatusBadRequest, "user_id must be a well-formed UUID")
		return
	}

	sessions, err := h.repo.ListSessions(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list sessions", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// Archive marks a session archived.
func (h *SessionHandler) Archive(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if _, err := uuid.Parse(userID); err != nil {
		Error(w, http.StatusBadRequest, "user_id must be a well-formed UUID")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	err := h.repo.UpdateSessionStatus(r.Context(), sessionID, userID, domain.SessionArchived)
	if errors.Is(err, store.ErrSessionNotFound) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		slog.Error("failed to archive session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to archive session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "archived"})
}
