package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/atinyakov/syncmanager/internal/manager"
	"github.com/atinyakov/syncmanager/internal/models"
	"github.com/atinyakov/syncmanager/internal/session"
)

// SessionService defines the session operations required by the SessionHandler.
type SessionService interface {
	// GetSession returns the session for cfg, creating it on first use.
	GetSession(ctx context.Context, cfg models.SyncConfiguration) (*session.Session, error)
	// Sessions lists every live session.
	Sessions() []*session.Session
}

// SessionHandler handles HTTP requests for sync sessions.
type SessionHandler struct {
	SessionService SessionService
	// Users resolves the owner identity. When nil, or when the user is not
	// stored, the owner is identified by id only.
	Users UserService
}

// OpenSessionRequest is the JSON payload of POST /api/sessions.
type OpenSessionRequest struct {
	UserID string `json:"user_id"`
	URL    string `json:"url"`
	Name   string `json:"name,omitempty"`
	// SyncInterval is a duration string such as "30s".
	SyncInterval string `json:"sync_interval,omitempty"`
}

type sessionView struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	URL        string     `json:"url"`
	Name       string     `json:"name,omitempty"`
	State      string     `json:"state"`
	Version    int64      `json:"version"`
	LastSynced *time.Time `json:"last_synced,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func newSessionView(s *session.Session) sessionView {
	v := sessionView{
		ID:      s.ID(),
		UserID:  s.Owner().ID,
		URL:     s.Config().URL(),
		Name:    s.Config().Name(),
		State:   string(s.State()),
		Version: s.Version(),
	}
	if at := s.LastSynced(); !at.IsZero() {
		v.LastSynced = &at
	}
	if err := s.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

// List handles GET /api/sessions requests.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.SessionService.Sessions()
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, newSessionView(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// Open handles POST /api/sessions requests. It returns the existing session
// for an equal configuration or creates a new one.
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.URL == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	opts := []models.ConfigOption{models.WithName(req.Name)}
	if req.SyncInterval != "" {
		d, err := time.ParseDuration(req.SyncInterval)
		if err != nil {
			http.Error(w, "invalid sync_interval", http.StatusBadRequest)
			return
		}
		opts = append(opts, models.WithSyncInterval(d))
	}

	owner, err := h.owner(r.Context(), req.UserID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	cfg, err := models.NewSyncConfiguration(owner, req.URL, opts...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s, err := h.SessionService.GetSession(r.Context(), cfg)
	if err != nil {
		if errors.Is(err, manager.ErrInvalidArgument) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to open session", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(s))
}

func (h *SessionHandler) owner(ctx context.Context, id string) (models.Identity, error) {
	if h.Users == nil {
		return models.Identity{ID: id}, nil
	}
	users, err := h.Users.Users(ctx)
	if err != nil {
		return models.Identity{}, err
	}
	for _, u := range users {
		if u.ID == id {
			return u, nil
		}
	}
	return models.Identity{ID: id}, nil
}
