// Package session holds live sync sessions, one per sync configuration.
package session

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/atinyakov/syncmanager/internal/models"
)

// State is the runtime status of a session as seen by the background client.
type State string

const (
	StateInactive State = "inactive"
	StateActive   State = "active"
	StateError    State = "error"
)

// Session is the live handle for one SyncConfiguration.
type Session struct {
	id     string
	config models.SyncConfiguration

	state      atomic.String
	version    atomic.Int64
	lastSynced atomic.Time
	lastErr    atomic.Error
}

// New creates an inactive session bound to cfg.
func New(cfg models.SyncConfiguration) *Session {
	s := &Session{
		id:     uuid.NewString(),
		config: cfg,
	}
	s.state.Store(string(StateInactive))
	return s
}

// ID returns the unique id assigned at creation.
func (s *Session) ID() string { return s.id }

// Config returns the configuration the session is bound to.
func (s *Session) Config() models.SyncConfiguration { return s.config }

// Owner returns the identity the session syncs for.
func (s *Session) Owner() models.Identity { return s.config.Owner() }

// State returns the current runtime status.
func (s *Session) State() State { return State(s.state.Load()) }

// Version returns the last server version acknowledged for this session.
func (s *Session) Version() int64 { return s.version.Load() }

// LastSynced returns when the last successful sync finished.
func (s *Session) LastSynced() time.Time { return s.lastSynced.Load() }

// Err returns the error from the last failed sync, nil after a success.
func (s *Session) Err() error { return s.lastErr.Load() }

// MarkSynced records a successful sync round.
func (s *Session) MarkSynced(version int64, at time.Time) {
	s.version.Store(version)
	s.lastSynced.Store(at)
	s.lastErr.Store(nil)
	s.state.Store(string(StateActive))
}

// MarkFailed records a failed sync round.
func (s *Session) MarkFailed(err error) {
	s.lastErr.Store(err)
	s.state.Store(string(StateError))
}
