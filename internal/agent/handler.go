package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashvetsov/flowpilot/internal/api"
	"github.com/ashvetsov/flowpilot/internal/domain"
	"github.com/ashvetsov/flowpilot/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// maxRequestBodySize is the maximum allowed chat request body (1MB).
const maxRequestBodySize = 1 << 20

// MsgUnexpected is the generic apology for unhandled pipeline failures. The
// user never sees a raw error.
const MsgUnexpected = "Something went wrong on my side while handling that. " +
	"Your message was saved, so just try again in a moment."

// Handler exposes the chat pipeline over HTTP.
type Handler struct {
	service     *Service
	rateLimiter *RateLimiter
}

// NewHandler creates the chat handler with per-user rate limiting.
func NewHandler(service *Service, rateLimiter *RateLimiter) *Handler {
	return &Handler{service: service, rateLimiter: rateLimiter}
}

// RegisterRoutes registers agent routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/agent/chat", h.HandleChat)
}

// HandleChat handles POST /api/agent/chat requests.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Malformed user IDs are rejected before any processing.
	if _, err := uuid.Parse(req.UserID); err != nil {
		api.Error(w, http.StatusBadRequest, "user_id must be a well-formed UUID")
		return
	}
	if req.Message == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.AgentRole != "" && !domain.AgentRole(req.AgentRole).Valid() {
		api.Error(w, http.StatusBadRequest, "unknown agent_role")
		return
	}

	if !h.rateLimiter.Allow(req.UserID) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	slog.Info("agent chat request",
		"request_id", reqID,
		"user_id", req.UserID,
		"session_id", req.SessionID,
		"message_length", len(req.Message),
	)

	resp, err := h.service.HandleMessage(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			api.Error(w, http.StatusNotFound, "session not found")
			return
		}
		// Outermost boundary: log the real cause, hand the user an apology.
		slog.Error("chat pipeline failed",
			"request_id", reqID,
			"user_id", req.UserID,
			"error", err,
		)
		api.JSON(w, http.StatusInternalServerError, map[string]any{
			"response": MsgUnexpected,
			"error":    "internal_error",
		})
		return
	}

	api.JSON(w, http.StatusOK, resp)
}
