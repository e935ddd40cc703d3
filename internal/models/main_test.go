package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityEqual(t *testing.T) {
	a := Identity{ID: "user-1", Username: "alice"}
	b := Identity{ID: "user-1", Username: "alice@example.com", LoggedIn: true}
	c := Identity{ID: "user-2", Username: "alice"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestNewSyncConfiguration(t *testing.T) {
	owner := Identity{ID: "user-1"}
	cfg, err := NewSyncConfiguration(owner, "realm://objectserver.realm.io/default")
	require.NoError(t, err)

	assert.Equal(t, owner, cfg.Owner())
	assert.Equal(t, "realm://objectserver.realm.io/default", cfg.URL())
	assert.Equal(t, time.Duration(0), cfg.SyncInterval())
	assert.Equal(t, "user-1@realm://objectserver.realm.io/default", cfg.String())
}

func TestNewSyncConfiguration_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		owner Identity
		url   string
		opts  []ConfigOption
	}{
		{"empty owner", Identity{}, "realm://host/default", nil},
		{"bad scheme", Identity{ID: "u"}, "ftp://host/default", nil},
		{"no host", Identity{ID: "u"}, "realm:///default", nil},
		{"unparsable", Identity{ID: "u"}, "://", nil},
		{"negative interval", Identity{ID: "u"}, "realm://host/default", []ConfigOption{WithSyncInterval(-time.Second)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSyncConfiguration(tc.owner, tc.url, tc.opts...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfiguration))
		})
	}
}

func TestSyncConfigurationKey(t *testing.T) {
	u := Identity{ID: "user-1"}
	loggedIn := Identity{ID: "user-1", LoggedIn: true, RefreshToken: "tok"}

	c1, err := NewSyncConfiguration(u, "realm://host/default")
	require.NoError(t, err)
	c2, err := NewSyncConfiguration(loggedIn, "realm://host/default")
	require.NoError(t, err)
	c3, err := NewSyncConfiguration(u, "realm://host/other")
	require.NoError(t, err)
	c4, err := NewSyncConfiguration(u, "realm://host/default", WithName("inbox"))
	require.NoError(t, err)
	c5, err := NewSyncConfiguration(u, "realm://host/default", WithSyncInterval(time.Minute))
	require.NoError(t, err)

	assert.True(t, c1.Equal(c2), "owner is compared by key")
	assert.False(t, c1.Equal(c3))
	assert.False(t, c1.Equal(c4))
	assert.False(t, c1.Equal(c5))
	assert.Equal(t, "user-1@realm://host/default (inbox)", c4.String())
}

func TestSyncConfigurationKey_FieldsDoNotBleed(t *testing.T) {
	a, err := NewSyncConfiguration(Identity{ID: "a\x1frealm://h/p"}, "realm://h/q")
	require.NoError(t, err)
	b, err := NewSyncConfiguration(Identity{ID: "a"}, "realm://h/p", WithName("realm://h/q\x1f"))
	require.NoError(t, err)
	c, err := NewSyncConfiguration(Identity{ID: `a","realm://h/p`}, "realm://h/q")
	require.NoError(t, err)
	d, err := NewSyncConfiguration(Identity{ID: "a"}, "realm://h/p", WithName(`realm://h/q","`))
	require.NoError(t, err)

	assert.False(t, a.Equal(b))
	assert.False(t, c.Equal(d))
	assert.NotEqual(t, a.Key(), b.Key())
	assert.NotEqual(t, c.Key(), d.Key())
}
