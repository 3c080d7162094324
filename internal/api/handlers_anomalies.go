package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/models"
)

type AnomalyHandler struct {
	svc *engine.Service
}

func NewAnomalyHandler(svc *engine.Service) *AnomalyHandler {
	return &AnomalyHandler{svc: svc}
}

// List handles GET /anomalies
func (h *AnomalyHandler) List(w http.ResponseWriter, r *http.Request) {
	status := models.AnomalyStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 50)

	anomalies, err := h.svc.ListAnomalies(status, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, anomalies)
}

// Review handles POST /anomalies/{id}/review
func (h *AnomalyHandler) Review(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.ReviewAnomalyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	a, err := h.svc.ReviewAnomaly(id, req.Status, req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Stats handles GET /anomalies/stats
func (h *AnomalyHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.AnomalyStats()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
