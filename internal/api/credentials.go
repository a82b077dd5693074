package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashvetsov/flowpilot/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// CredentialHandler stores API credentials for external services. Keys are
// write-only through the API: there is intentionally no read endpoint.
type CredentialHandler struct {
	repo store.Repository
}

// NewCredentialHandler creates a credential handler.
func NewCredentialHandler(repo store.Repository) *CredentialHandler {
	return &CredentialHandler{repo: repo}
}

// RegisterRoutes registers credential routes.
func (h *CredentialHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/credentials", h.Put)
}

type credentialRequest struct {
	Service    string `json:"service"`
	UserID     string `json:"user_id,omitempty"`
	Credential string `json:"credential"`
}

// Put stores a credential. An empty user_id stores the shared fallback key.
func (h *CredentialHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Service == "" || req.Credential == "" {
		Error(w, http.StatusBadRequest, "service and credential are required")
		return
	}
	if req.UserID != "" {
		if _, err := uuid.Parse(req.UserID); err != nil {
			Error(w, http.StatusBadRequest, "user_id must be a well-formed UUID")
			return
		}
	}

	if err := h.repo.PutCredential(r.Context(), req.Service, req.UserID, req.Credential); err != nil {
		slog.Error("failed to store credential", "service", req.Service, "error", err)
		Error(w, http.StatusInternalServerError, "failed to store credential")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "stored"})
}
