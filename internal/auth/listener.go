// Package auth provides the authentication event bus: a registry of
// listeners that are told when identities log in or out.
package auth

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/atinyakov/syncmanager/internal/models"
)

// ErrNilListener is returned when a nil listener is registered.
var ErrNilListener = errors.New("listener is nil")

// ErrListenerCallback marks a failure raised by a listener during fan-out.
var ErrListenerCallback = errors.New("listener callback failed")

// Listener receives authentication events.
type Listener interface {
	LoggedIn(user models.Identity) error
	LoggedOut(user models.Identity) error
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnLoggedIn  func(models.Identity) error
	OnLoggedOut func(models.Identity) error
}

// LoggedIn implements Listener.
func (f *ListenerFuncs) LoggedIn(user models.Identity) error {
	if f.OnLoggedIn == nil {
		return nil
	}
	return f.OnLoggedIn(user)
}

// LoggedOut implements Listener.
func (f *ListenerFuncs) LoggedOut(user models.Identity) error {
	if f.OnLoggedOut == nil {
		return nil
	}
	return f.OnLoggedOut(user)
}

// Subscription identifies a registered listener. The zero value matches nothing.
type Subscription string

// Event names the notification being delivered.
type Event string

const (
	EventLoggedIn  Event = "logged_in"
	EventLoggedOut Event = "logged_out"
)

// CallbackError records a single listener failure.
type CallbackError struct {
	Subscription Subscription
	Event        Event
	UserID       string
	Err          error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("%s: %s for user %q (subscription %s): %v",
		ErrListenerCallback, e.Event, e.UserID, e.Subscription, e.Err)
}

// Unwrap exposes both the sentinel and the listener's own error.
func (e *CallbackError) Unwrap() []error {
	return []error{ErrListenerCallback, e.Err}
}

type entry struct {
	sub      Subscription
	listener Listener
}

// Registry is a concurrency-safe, ordered set of listeners.
//
// Listeners are notified in registration order. Each notification works on a
// snapshot taken when it starts: a listener added or removed while a
// fan-out is running may or may not see that event.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers l and returns the token needed to remove it.
func (r *Registry) Add(l Listener) (Subscription, error) {
	if isNil(l) {
		return "", ErrNilListener
	}
	sub := Subscription(uuid.NewString())

	r.mu.Lock()
	r.entries = append(r.entries, entry{sub: sub, listener: l})
	r.mu.Unlock()

	return sub, nil
}

// Remove unregisters the listener behind sub. Unknown tokens are ignored.
// It reports whether a listener was removed.
func (r *Registry) Remove(sub Subscription) bool {
	if sub == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.sub != sub {
			continue
		}
		// Copy rather than shift in place: snapshots handed out earlier
		// share the old backing array.
		next := make([]entry, 0, len(r.entries)-1)
		next = append(next, r.entries[:i]...)
		next = append(next, r.entries[i+1:]...)
		r.entries = next
		return true
	}
	return false
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// NotifyLoggedIn calls LoggedIn on every listener.
// Failures are isolated per listener and returned joined.
func (r *Registry) NotifyLoggedIn(user models.Identity) error {
	return r.notify(EventLoggedIn, user)
}

// NotifyLoggedOut calls LoggedOut on every listener.
// Failures are isolated per listener and returned joined.
func (r *Registry) NotifyLoggedOut(user models.Identity) error {
	return r.notify(EventLoggedOut, user)
}

func (r *Registry) notify(ev Event, user models.Identity) error {
	r.mu.RLock()
	targets := r.entries[:len(r.entries):len(r.entries)]
	r.mu.RUnlock()

	var errs []error
	for _, e := range targets {
		if err := deliver(e.listener, ev, user); err != nil {
			errs = append(errs, &CallbackError{
				Subscription: e.sub,
				Event:        ev,
				UserID:       user.ID,
				Err:          err,
			})
		}
	}
	return errors.Join(errs...)
}

func deliver(l Listener, ev Event, user models.Identity) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	switch ev {
	case EventLoggedIn:
		return l.LoggedIn(user)
	case EventLoggedOut:
		return l.LoggedOut(user)
	default:
		return fmt.Errorf("unknown event %q", ev)
	}
}

// isNil also catches typed nil pointers, maps, funcs and the like wrapped
// in a non-nil interface.
func isNil(l Listener) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Slice, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
