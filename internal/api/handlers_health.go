package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/engramdev/engram/internal/engine"
)

type HealthHandler struct {
	svc *engine.Service
}

func NewHealthHandler(svc *engine.Service) *HealthHandler {
	return &HealthHandler{svc: svc}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := h.svc.Health()

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Guards handles GET /admin/guards
func (h *HealthHandler) Guards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GuardStatuses())
}

// ClearHalt handles POST /admin/guards/{store}/clear-halt
func (h *HealthHandler) ClearHalt(w http.ResponseWriter, r *http.Request) {
	store := chi.URLParam(r, "store")

	if err := h.svc.ClearHalt(store); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
