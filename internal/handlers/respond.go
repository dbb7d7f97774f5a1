package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/AnshRaj112/circles-backend/internal/services"
	"github.com/AnshRaj112/circles-backend/pkg/log"
	"github.com/AnshRaj112/circles-backend/pkg/utils"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.L().Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Message: message})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *utils.ValidationError
	var perr *services.PersistenceError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, services.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "Username is already taken")
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
	case errors.Is(err, services.ErrSessionNotFound):
		writeError(w, http.StatusUnauthorized, "Invalid or expired session")
	case errors.Is(err, services.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.As(err, &perr):
		log.Ctx(r.Context()).Error().Err(err).Str("op", perr.Op).Msg("store failure")
		writeError(w, http.StatusInternalServerError, "Temporary server error")
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
