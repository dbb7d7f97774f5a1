package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/circles-backend/internal/models"
	"github.com/AnshRaj112/circles-backend/internal/services"
)

const historyTimeout = 5 * time.Second

// ChatHistoryHandler serves the message history of a pair of users.
type ChatHistoryHandler struct {
	history *services.HistoryService
}

func NewChatHistoryHandler(history *services.HistoryService) *ChatHistoryHandler {
	return &ChatHistoryHandler{history: history}
}

// History returns the messages exchanged between {a} and {b}, oldest first.
// The order of the two ids does not matter.
func (h *ChatHistoryHandler) History(w http.ResponseWriter, r *http.Request) {
	a, b := chi.URLParam(r, "a"), chi.URLParam(r, "b")
	if a == "" || b == "" {
		writeError(w, http.StatusBadRequest, "both user ids are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), historyTimeout)
	defer cancel()

	msgs, err := h.history.History(ctx, a, b)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
