package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/models"
)

type PatternHandler struct {
	svc *engine.Service
}

func NewPatternHandler(svc *engine.Service) *PatternHandler {
	return &PatternHandler{svc: svc}
}

// Observe handles POST /patterns/observe
func (h *PatternHandler) Observe(w http.ResponseWriter, r *http.Request) {
	var req models.ObservePatternRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, err := h.svc.ObservePattern(req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Get handles GET /patterns/{id}
func (h *PatternHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.svc.GetPattern(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Outcome handles POST /patterns/{id}/outcome
func (h *PatternHandler) Outcome(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.RecordOutcomeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, err := h.svc.RecordOutcome(id, req.Success)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Relate handles POST /patterns/{id}/relate/{targetID}
func (h *PatternHandler) Relate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	targetID := chi.URLParam(r, "targetID")

	if err := h.svc.RelatePatterns(id, targetID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /patterns/search
func (h *PatternHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	minConfidence := queryFloat(r, "minConfidence", 0)
	limit := queryInt(r, "limit", 10)

	resp, err := h.svc.SearchPatterns(query, minConfidence, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stats handles GET /patterns/stats
func (h *PatternHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.PatternStats()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Decay handles POST /patterns/decay
func (h *PatternHandler) Decay(w http.ResponseWriter, r *http.Request) {
	var req models.DecayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	decayed, err := h.svc.DecayUnused(req.ThresholdDays)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.DecayResponse{Decayed: decayed})
}

// ObserveRelationship handles POST /relationships/observe
func (h *PatternHandler) ObserveRelationship(w http.ResponseWriter, r *http.Request) {
	var req models.ObserveRelationshipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rel, err := h.svc.ObserveFileRelationship(req.FileA, req.FileB)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// ListRelationships handles GET /relationships
func (h *PatternHandler) ListRelationships(w http.ResponseWriter, r *http.Request) {
	file := r.URL.Query().Get("file")
	if file == "" {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}

	rels, err := h.svc.RelationshipsForFile(file)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rels)
}

// ObserveIntent handles POST /intents/observe
func (h *PatternHandler) ObserveIntent(w http.ResponseWriter, r *http.Request) {
	var req models.ObserveIntentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ip, err := h.svc.ObserveIntent(req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ip)
}

// RecordCorrection handles POST /corrections
func (h *PatternHandler) RecordCorrection(w http.ResponseWriter, r *http.Request) {
	var req models.RecordCorrectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	c, err := h.svc.RecordCorrection(req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
