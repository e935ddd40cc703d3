package session

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/atinyakov/syncmanager/internal/models"
)

// Factory builds the session for a configuration that has none yet.
type Factory func(ctx context.Context, cfg models.SyncConfiguration) (*Session, error)

// Registry maps sync configurations to sessions.
//
// Creation is single-flight per configuration key: concurrent callers for the
// same key share one factory call, while different keys never wait on each
// other's factories.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	group    singleflight.Group
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session for cfg, if one exists.
func (r *Registry) Get(cfg models.SyncConfiguration) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[cfg.Key()]
	return s, ok
}

// GetOrCreate returns the session for cfg, calling factory at most once
// among concurrent callers if none exists. Factory errors are returned to
// every waiting caller and nothing is stored.
func (r *Registry) GetOrCreate(ctx context.Context, cfg models.SyncConfiguration, factory Factory) (*Session, error) {
	if s, ok := r.Get(cfg); ok {
		return s, nil
	}

	key := cfg.Key()
	v, err, _ := r.group.Do(key, func() (any, error) {
		// A previous flight may have finished between Get and Do.
		if s, ok := r.Get(cfg); ok {
			return s, nil
		}

		s, err := factory(ctx, cfg)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.sessions[key] = s
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Remove drops the session for cfg and returns it.
func (r *Registry) Remove(cfg models.SyncConfiguration) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := cfg.Key()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	return s, ok
}

// Clear drops every session.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*Session)
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the current sessions ordered by configuration key.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Session, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.sessions[k])
	}
	r.mu.RUnlock()
	return out
}
