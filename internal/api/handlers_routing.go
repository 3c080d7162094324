package api

import (
	"net/http"

	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/models"
)

type RoutingHandler struct {
	svc *engine.Service
}

func NewRoutingHandler(svc *engine.Service) *RoutingHandler {
	return &RoutingHandler{svc: svc}
}

// Evaluate handles POST /routing/evaluate
func (h *RoutingHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req models.EvaluateRoutingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		writeError(w, http.StatusBadRequest, "confidence must be within [0, 1]")
		return
	}
	if req.Occurrences < 0 {
		writeError(w, http.StatusBadRequest, "occurrences must not be negative")
		return
	}

	decision, err := h.svc.EvaluateRouting(req.Confidence, req.Occurrences)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
