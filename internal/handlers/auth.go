package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/AnshRaj112/circles-backend/internal/models"
	"github.com/AnshRaj112/circles-backend/internal/services"
	"github.com/AnshRaj112/circles-backend/pkg/log"
)

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse carries the account and a fresh session token.
type AuthResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	ID       string `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

// AuthHandler serves the account endpoints.
type AuthHandler struct {
	auth     *services.AuthService
	validate *validator.Validate
}

func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth, validate: validator.New()}
}

func (h *AuthHandler) decodeCredentials(w http.ResponseWriter, r *http.Request) (CredentialsRequest, bool) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return req, false
	}
	return req, true
}

// Register creates an account. 201 on success, 409 if the username is taken.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	user, token, err := h.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	log.Ctx(r.Context()).Info().Str(log.FieldUserID, user.ID).Msg("account registered")
	writeJSON(w, http.StatusCreated, authResponse(user, token, "Account created"))
}

// Login exchanges credentials for a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	user, token, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse(user, token, "Signed in"))
}

// Me returns the account behind the bearer token.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Missing session token")
		return
	}

	user, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Missing session token")
		return
	}
	if err := h.auth.Logout(r.Context(), token); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Signed out"})
}

func authResponse(user *models.User, token, message string) AuthResponse {
	return AuthResponse{
		Success:  true,
		Message:  message,
		ID:       user.ID,
		Username: user.Username,
		Token:    token,
	}
}
