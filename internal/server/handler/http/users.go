package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atinyakov/syncmanager/internal/manager"
	"github.com/atinyakov/syncmanager/internal/models"
)

// UserService defines the identity operations required by the UserHandler.
type UserService interface {
	// LogIn stores the identity as logged in and notifies listeners.
	LogIn(ctx context.Context, user models.Identity) error
	// LogOut marks the identity with the given id as logged out.
	LogOut(ctx context.Context, id string) error
	// Users lists every stored identity.
	Users(ctx context.Context) ([]models.Identity, error)
}

// UserHandler handles HTTP requests for logging users in and out.
type UserHandler struct {
	UserService UserService
}

// LoginRequest is the JSON payload of POST /api/users/login.
type LoginRequest struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	ServerURL    string `json:"server_url"`
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest is the JSON payload of POST /api/users/logout.
type LogoutRequest struct {
	ID string `json:"id"`
}

// userView is an identity without its refresh token.
type userView struct {
	ID        string `json:"id"`
	Username  string `json:"username,omitempty"`
	ServerURL string `json:"server_url,omitempty"`
	LoggedIn  bool   `json:"logged_in"`
}

func newUserView(u models.Identity) userView {
	return userView{ID: u.ID, Username: u.Username, ServerURL: u.ServerURL, LoggedIn: u.LoggedIn}
}

// List handles GET /api/users requests.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.UserService.Users(r.Context())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, newUserView(u))
	}
	writeJSON(w, http.StatusOK, out)
}

// Login handles POST /api/users/login requests.
// It expects a JSON body with a non-empty "id" field.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	user := models.Identity{
		ID:           req.ID,
		Username:     req.Username,
		ServerURL:    req.ServerURL,
		RefreshToken: req.RefreshToken,
		LoggedIn:     true,
	}
	if err := h.UserService.LogIn(r.Context(), user); err != nil {
		if errors.Is(err, manager.ErrInvalidArgument) {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to save user", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"user":   req.ID,
	})
}

// Logout handles POST /api/users/logout requests.
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := h.UserService.LogOut(r.Context(), req.ID); err != nil {
		if errors.Is(err, manager.ErrUnknownUser) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"user":   req.ID,
	})
}
