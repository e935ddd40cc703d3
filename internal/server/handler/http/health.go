package http

import (
	"net/http"
)

// HealthHandler reports the lifecycle state of the sync manager.
type HealthHandler struct {
	// State returns the current manager state name.
	State func() string
	// Worker is the background client label.
	Worker string
}

// Health handles GET /api/health requests. It always answers 200 with the
// current state so it can be polled during start-up.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": h.State(),
		"worker": h.Worker,
	})
}
