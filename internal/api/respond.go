package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/protect"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps engine errors onto HTTP statuses. Guard failures
// get distinct statuses so callers can tell a rejected write from a down
// store.
func writeServiceError(w http.ResponseWriter, err error) {
	var vErr *protect.ValidationError
	var rbErr *protect.RollbackFailure
	switch {
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrConversationInactive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrAlreadyReviewed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, protect.ErrWritesHalted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &rbErr):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &vErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
