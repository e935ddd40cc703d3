// Package middleware provides HTTP middlewares for the control API:
// readiness gating and request logging.
package middleware

import (
	"context"
	"net/http"
)

// EnsureReadyFunc brings the sync manager up if it is not running yet and
// reports why it could not. It must be cheap once the manager is ready.
type EnsureReadyFunc func(ctx context.Context) error

// RequireReady is a middleware that tries to bring the sync manager up on
// every request and answers 503 while that fails, so a backend that comes
// back later is picked up by the next request.
//
// The health endpoint is excluded so callers can poll it while the
// background client is still starting.
func RequireReady(ensure EnsureReadyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/health" {
				next.ServeHTTP(w, r)
				return
			}
			if err := ensure(r.Context()); err != nil {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "sync manager is not ready", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
