package api

import (
	"net/http"

	"github.com/ashvetsov/flowpilot/internal/store"
	"github.com/go-chi/chi/v5"
)

// HealthHandler reports service health for probes and dashboards.
type HealthHandler struct {
	repo store.Repository
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// RegisterRoutes registers the health route.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)
}

// Health reports database connectivity.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	dbOK := h.repo.Ping(r.Context()) == nil

	status := http.StatusOK
	overall := "ok"
	if !dbOK {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	JSON(w, status, map[string]any{
		"status":   overall,
		"database": dbOK,
	})
}
