package auth

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/syncmanager/internal/models"
)

type countingListener struct {
	in, out atomic.Int32
}

func (c *countingListener) LoggedIn(models.Identity) error  { c.in.Add(1); return nil }
func (c *countingListener) LoggedOut(models.Identity) error { c.out.Add(1); return nil }

func TestRegistry_FanOutCounts(t *testing.T) {
	r := NewRegistry()
	l := &countingListener{}
	_, err := r.Add(l)
	require.NoError(t, err)

	user := models.Identity{ID: "user-1"}
	require.NoError(t, r.NotifyLoggedIn(user))
	require.NoError(t, r.NotifyLoggedOut(user))

	assert.EqualValues(t, 1, l.in.Load())
	assert.EqualValues(t, 1, l.out.Load())
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	l := &countingListener{}
	sub, err := r.Add(l)
	require.NoError(t, err)

	assert.True(t, r.Remove(sub))
	assert.False(t, r.Remove(sub), "second removal is a no-op")
	assert.False(t, r.Remove(""), "zero token is a no-op")
	assert.False(t, r.Remove("unknown"))

	user := models.Identity{ID: "user-1"}
	require.NoError(t, r.NotifyLoggedIn(user))
	require.NoError(t, r.NotifyLoggedOut(user))

	assert.EqualValues(t, 0, l.in.Load())
	assert.EqualValues(t, 0, l.out.Load())
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_AddNil(t *testing.T) {
	r := NewRegistry()

	_, err := r.Add(nil)
	assert.ErrorIs(t, err, ErrNilListener)

	var funcs *ListenerFuncs
	_, err = r.Add(funcs)
	assert.ErrorIs(t, err, ErrNilListener)

	var counting *countingListener
	_, err = r.Add(counting)
	assert.ErrorIs(t, err, ErrNilListener)

	assert.Equal(t, 0, r.Len())
}

func TestRegistry_SameListenerTwice(t *testing.T) {
	r := NewRegistry()
	l := &countingListener{}
	s1, err := r.Add(l)
	require.NoError(t, err)
	s2, err := r.Add(l)
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)

	require.NoError(t, r.NotifyLoggedIn(models.Identity{ID: "u"}))
	assert.EqualValues(t, 2, l.in.Load())

	r.Remove(s1)
	require.NoError(t, r.NotifyLoggedIn(models.Identity{ID: "u"}))
	assert.EqualValues(t, 3, l.in.Load())
}

func TestRegistry_RegistrationOrder(t *testing.T) {
	r := NewRegistry()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		_, err := r.Add(&ListenerFuncs{OnLoggedIn: func(models.Identity) error {
			got = append(got, i)
			return nil
		}})
		require.NoError(t, err)
	}

	require.NoError(t, r.NotifyLoggedIn(models.Identity{ID: "u"}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestRegistry_FailureIsolation(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	after := &countingListener{}

	failing, err := r.Add(&ListenerFuncs{OnLoggedIn: func(models.Identity) error { return boom }})
	require.NoError(t, err)
	_, err = r.Add(&ListenerFuncs{OnLoggedIn: func(models.Identity) error { panic("kaboom") }})
	require.NoError(t, err)
	_, err = r.Add(after)
	require.NoError(t, err)

	err = r.NotifyLoggedIn(models.Identity{ID: "user-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrListenerCallback)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "panic: kaboom")

	var cbErr *CallbackError
	require.True(t, errors.As(err, &cbErr))
	assert.Equal(t, failing, cbErr.Subscription)
	assert.Equal(t, EventLoggedIn, cbErr.Event)
	assert.Equal(t, "user-1", cbErr.UserID)

	assert.EqualValues(t, 1, after.in.Load(), "later listeners still notified")
}

func TestRegistry_ListenerFuncsNilFields(t *testing.T) {
	r := NewRegistry()
	_, err := r.Add(&ListenerFuncs{})
	require.NoError(t, err)

	assert.NoError(t, r.NotifyLoggedIn(models.Identity{ID: "u"}))
	assert.NoError(t, r.NotifyLoggedOut(models.Identity{ID: "u"}))
}

func TestRegistry_RemoveDuringNotify(t *testing.T) {
	r := NewRegistry()
	second := &countingListener{}
	var secondSub Subscription

	_, err := r.Add(&ListenerFuncs{OnLoggedIn: func(models.Identity) error {
		r.Remove(secondSub)
		return nil
	}})
	require.NoError(t, err)
	secondSub, err = r.Add(second)
	require.NoError(t, err)

	// The in-flight notification works on its snapshot.
	require.NoError(t, r.NotifyLoggedIn(models.Identity{ID: "u"}))
	assert.EqualValues(t, 1, second.in.Load())

	require.NoError(t, r.NotifyLoggedIn(models.Identity{ID: "u"}))
	assert.EqualValues(t, 1, second.in.Load())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ConcurrentMutation(t *testing.T) {
	r := NewRegistry()
	user := models.Identity{ID: "u"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sub, err := r.Add(&countingListener{})
				if err != nil {
					t.Error(err)
					return
				}
				r.Remove(sub)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if err := r.NotifyLoggedIn(user); err != nil {
					t.Error(err)
				}
				if err := r.NotifyLoggedOut(user); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}
