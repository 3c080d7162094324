package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/models"
)

type ConversationHandler struct {
	svc *engine.Service
}

func NewConversationHandler(svc *engine.Service) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

type addConversationResponse struct {
	Conversation *models.Conversation `json:"conversation"`
	Evicted      *models.Conversation `json:"evicted,omitempty"`
}

// Add handles POST /conversations
func (h *ConversationHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req models.AddConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	conv, evicted, err := h.svc.AddConversation(req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, addConversationResponse{Conversation: conv, Evicted: evicted})
}

// Get handles GET /conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conv, msgs, err := h.svc.GetConversation(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     msgs,
	})
}

// AppendMessage handles POST /conversations/{id}/messages
func (h *ConversationHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.AppendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	msg, err := h.svc.AppendMessage(id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// Complete handles POST /conversations/{id}/complete
func (h *ConversationHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conv, err := h.svc.CompleteConversation(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Recent handles GET /conversations/recent
func (h *ConversationHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)

	convs, err := h.svc.RecentConversations(limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// Search handles GET /conversations/search
func (h *ConversationHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := queryInt(r, "limit", 10)

	matches, err := h.svc.SearchConversations(query, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

func queryFloat(r *http.Request, key string, fallback float64) float64 {
	if v := r.URL.Query().Get(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
