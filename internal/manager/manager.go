// Package manager provides SyncManager, the entry point that ties the user
// store, the authentication listeners and the sync sessions to a single
// background sync client.
package manager

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/syncmanager/internal/auth"
	"github.com/atinyakov/syncmanager/internal/models"
	"github.com/atinyakov/syncmanager/internal/session"
	"github.com/atinyakov/syncmanager/internal/syncclient"
	"github.com/atinyakov/syncmanager/internal/transport"
	"github.com/atinyakov/syncmanager/internal/userstore"
)

var (
	// ErrInvalidArgument is returned for nil stores, nil listeners and empty identities.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownUser is returned by LogOut when the store has no such user.
	ErrUnknownUser = errors.New("unknown user")
)

// UserStore defines the persistence operations the manager needs for
// authenticated identities. Missing keys are reported as nil, not as errors.
type UserStore interface {
	// Put stores user under key and returns the value it replaced, or nil.
	Put(ctx context.Context, key string, user models.Identity) (*models.Identity, error)
	// Get returns the identity under key, or nil.
	Get(ctx context.Context, key string) (*models.Identity, error)
	// Remove deletes key and returns the removed identity, or nil.
	Remove(ctx context.Context, key string) (*models.Identity, error)
	// All returns every stored identity.
	All(ctx context.Context) ([]models.Identity, error)
	// Clear removes every identity.
	Clear(ctx context.Context) error
}

// State is the lifecycle state of the manager's background client.
type State string

const (
	StateUninitialized State = "Uninitialized"
	StateInitializing  State = "Initializing"
	StateReady         State = "Ready"
)

// Option configures a SyncManager.
type Option func(*options)

type options struct {
	store      UserStore
	logger     *zap.Logger
	transport  transport.Transport
	interval   time.Duration
	workerName string
}

// WithUserStore sets the initial user store. A nil store keeps the default.
func WithUserStore(s UserStore) Option {
	return func(o *options) {
		if !isNilStore(s) {
			o.store = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTransport sets the transport the background client syncs through.
func WithTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.transport = t
		}
	}
}

// WithSyncInterval sets the tick between background sync rounds.
func WithSyncInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithWorkerName overrides the background worker label.
func WithWorkerName(name string) Option {
	return func(o *options) { o.workerName = name }
}

// SyncManager coordinates authenticated users with their sync sessions.
// All methods are safe for concurrent use.
type SyncManager struct {
	logger *zap.Logger

	storeMu sync.RWMutex
	store   UserStore

	listeners *auth.Registry
	sessions  *session.Registry
	client    *syncclient.Client
}

// New creates a manager with an in-memory user store and a no-op transport
// unless options say otherwise. The background client is not started until
// Init or GetSession.
func New(opts ...Option) *SyncManager {
	o := options{
		store:      userstore.NewMemory(),
		logger:     zap.NewNop(),
		transport:  transport.Nop{},
		workerName: syncclient.DefaultName,
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &SyncManager{
		logger:    o.logger,
		store:     o.store,
		listeners: auth.NewRegistry(),
		sessions:  session.NewRegistry(),
	}
	m.client = syncclient.New(syncclient.Params{
		Name:      o.workerName,
		Transport: o.transport,
		Sessions:  m.sessions,
		Interval:  o.interval,
		Logger:    o.logger,
	})
	return m
}

// Init starts the background sync client once. Concurrent callers wait for
// the first start to finish. If the start fails the manager stays
// Uninitialized and a later call tries again.
func (m *SyncManager) Init(ctx context.Context) error {
	if m.client.Status() == syncclient.StatusRunning {
		return nil
	}
	if err := m.client.Start(ctx); err != nil {
		return fmt.Errorf("init sync manager: %w", err)
	}
	return nil
}

// State reports the lifecycle state. A closed manager reports Uninitialized.
func (m *SyncManager) State() State {
	switch m.client.Status() {
	case syncclient.StatusStarting:
		return StateInitializing
	case syncclient.StatusRunning:
		return StateReady
	default:
		return StateUninitialized
	}
}

// Ready is closed once the background client is running.
func (m *SyncManager) Ready() <-chan struct{} { return m.client.Ready() }

// WorkerName returns the label of the background client goroutine.
func (m *SyncManager) WorkerName() string { return m.client.Name() }

// SetUserStore replaces the active user store. Existing sessions are kept.
func (m *SyncManager) SetUserStore(s UserStore) error {
	if isNilStore(s) {
		return fmt.Errorf("%w: user store is nil", ErrInvalidArgument)
	}
	m.storeMu.Lock()
	m.store = s
	m.storeMu.Unlock()
	m.logger.Info("user store replaced", zap.String("store", fmt.Sprintf("%T", s)))
	return nil
}

// isNilStore also catches a typed nil pointer wrapped in the interface.
func isNilStore(s UserStore) bool {
	if s == nil {
		return true
	}
	v := reflect.ValueOf(s)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Slice, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// UserStore returns the active user store.
func (m *SyncManager) UserStore() UserStore {
	m.storeMu.RLock()
	defer m.storeMu.RUnlock()
	return m.store
}

// AddAuthenticationListener registers l and returns the token that removes it.
func (m *SyncManager) AddAuthenticationListener(l auth.Listener) (auth.Subscription, error) {
	sub, err := m.listeners.Add(l)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return sub, nil
}

// RemoveAuthenticationListener unregisters the listener behind sub.
// Unknown tokens are ignored.
func (m *SyncManager) RemoveAuthenticationListener(sub auth.Subscription) {
	m.listeners.Remove(sub)
}

// ListenerCount returns the number of registered listeners.
func (m *SyncManager) ListenerCount() int { return m.listeners.Len() }

// NotifyUserLoggedIn tells every listener that user logged in. Listener
// failures are logged and do not stop delivery to the others.
func (m *SyncManager) NotifyUserLoggedIn(user models.Identity) {
	m.logListenerErrors(m.listeners.NotifyLoggedIn(user))
}

// NotifyUserLoggedOut tells every listener that user logged out.
func (m *SyncManager) NotifyUserLoggedOut(user models.Identity) {
	m.logListenerErrors(m.listeners.NotifyLoggedOut(user))
}

func (m *SyncManager) logListenerErrors(err error) {
	if err == nil {
		return
	}
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}
	for _, e := range errs {
		var cbErr *auth.CallbackError
		if errors.As(e, &cbErr) {
			m.logger.Error("authentication listener failed",
				zap.String("subscription", string(cbErr.Subscription)),
				zap.String("event", string(cbErr.Event)),
				zap.String("user", cbErr.UserID),
				zap.Error(cbErr.Err))
			continue
		}
		m.logger.Error("authentication listener failed", zap.Error(e))
	}
}

// GetSession returns the session for cfg, creating it on first use. Every
// caller asking for an equal configuration gets the same session. The
// background client is started first if needed.
func (m *SyncManager) GetSession(ctx context.Context, cfg models.SyncConfiguration) (*session.Session, error) {
	if cfg.Owner().ID == "" || cfg.URL() == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, models.ErrInvalidConfiguration)
	}
	if err := m.Init(ctx); err != nil {
		return nil, err
	}

	created := false
	s, err := m.sessions.GetOrCreate(ctx, cfg, func(_ context.Context, cfg models.SyncConfiguration) (*session.Session, error) {
		created = true
		return session.New(cfg), nil
	})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if created {
		m.logger.Info("sync session created",
			zap.String("session", s.ID()),
			zap.String("config", cfg.String()))
		m.client.Kick()
	}
	return s, nil
}

// Sessions returns every live session.
func (m *SyncManager) Sessions() []*session.Session {
	return m.sessions.Snapshot()
}

// LogIn stores user as logged in and notifies the listeners.
func (m *SyncManager) LogIn(ctx context.Context, user models.Identity) error {
	if user.ID == "" {
		return fmt.Errorf("%w: identity has no id", ErrInvalidArgument)
	}
	user.LoggedIn = true
	if _, err := m.UserStore().Put(ctx, user.ID, user); err != nil {
		return fmt.Errorf("store user %q: %w", user.ID, err)
	}
	m.logger.Info("user logged in", zap.String("user", user.ID))
	m.NotifyUserLoggedIn(user)
	return nil
}

// LogOut marks the user with the given id as logged out and notifies the
// listeners. Sessions owned by the user stay registered.
func (m *SyncManager) LogOut(ctx context.Context, id string) error {
	store := m.UserStore()
	user, err := store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load user %q: %w", id, err)
	}
	if user == nil {
		return fmt.Errorf("%w: %q", ErrUnknownUser, id)
	}
	user.LoggedIn = false
	if _, err := store.Put(ctx, id, *user); err != nil {
		return fmt.Errorf("store user %q: %w", id, err)
	}
	m.logger.Info("user logged out", zap.String("user", id))
	m.NotifyUserLoggedOut(*user)
	return nil
}

// Users returns every identity in the active store.
func (m *SyncManager) Users(ctx context.Context) ([]models.Identity, error) {
	users, err := m.UserStore().All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Close stops the background client. It is not restarted afterwards.
func (m *SyncManager) Close() {
	m.client.Stop()
}
