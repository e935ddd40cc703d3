// Package http provides the local control API of the sync client: routing,
// middleware configuration and the handlers behind it.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/syncmanager/internal/middleware"
)

// NewRouter constructs and returns an HTTP handler that serves the control
// API. It applies JSON content-type enforcement, request ids and request
// logging, and mounts every endpoint under /api.
//
// Routes:
//
//	GET  /api/health        → healthHandler.Health
//	GET  /api/users         → userHandler.List
//	POST /api/users/login   → userHandler.Login
//	POST /api/users/logout  → userHandler.Logout
//	GET  /api/sessions      → sessionHandler.List
//	POST /api/sessions      → sessionHandler.Open
//
// Middleware chain (applied in order):
//  1. AllowContentType("application/json"): rejects non-JSON bodies
//  2. RequestID: tags each request
//  3. WithRequestLogging(logger): logs requests
//
// The session routes additionally go through RequireReady(ensureReady),
// which starts the manager if needed and answers 503 while it cannot.
// User routes do not depend on the background client and are not gated.
func NewRouter(
	healthHandler *HealthHandler,
	userHandler *UserHandler,
	sessionHandler *SessionHandler,
	ensureReady middleware.EnsureReadyFunc,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.WithRequestLogging(logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", userHandler.List)
			r.Post("/login", userHandler.Login)
			r.Post("/logout", userHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireReady(ensureReady))
			r.Get("/sessions", sessionHandler.List)
			r.Post("/sessions", sessionHandler.Open)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
