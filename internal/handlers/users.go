package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/circles-backend/internal/services"
)

// UsersHandler serves the roster.
type UsersHandler struct {
	history *services.HistoryService
}

func NewUsersHandler(history *services.HistoryService) *UsersHandler {
	return &UsersHandler{history: history}
}

// List returns every account with its live presence, ordered by username.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.history.Roster(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// LastMessages returns the last message time between {id} and every other user.
func (h *UsersHandler) LastMessages(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}

	entries, err := h.history.LastMessageTimes(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
