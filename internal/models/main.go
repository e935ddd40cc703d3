// Package models defines the core data structures for identities and
// synchronization targets.
package models

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidConfiguration is returned when a sync configuration cannot be built.
var ErrInvalidConfiguration = errors.New("invalid sync configuration")

// Identity represents a user authenticated against the sync service.
type Identity struct {
	// ID is the stable key of the identity.
	ID string `json:"id"`
	// Username is the login name used to authenticate.
	Username string `json:"username"`
	// ServerURL is the authentication server the identity belongs to.
	ServerURL string `json:"server_url"`
	// RefreshToken is the credential used to obtain access tokens.
	RefreshToken string `json:"refresh_token,omitempty"`
	// LoggedIn reports whether the identity is currently logged in.
	LoggedIn bool `json:"logged_in"`
}

// Equal reports whether two identities share the same key.
func (i Identity) Equal(other Identity) bool {
	return i.ID == other.ID
}

// SyncConfiguration describes one logical sync target. It is immutable once built.
type SyncConfiguration struct {
	owner    Identity
	url      string
	name     string
	interval time.Duration
}

// ConfigOption customizes a SyncConfiguration under construction.
type ConfigOption func(*SyncConfiguration)

// WithName sets an optional label for the configuration.
func WithName(name string) ConfigOption {
	return func(c *SyncConfiguration) {
		c.name = name
	}
}

// WithSyncInterval overrides how often the background client syncs this target.
func WithSyncInterval(d time.Duration) ConfigOption {
	return func(c *SyncConfiguration) {
		c.interval = d
	}
}

// SupportedSchemes lists URL schemes accepted for sync endpoints.
var SupportedSchemes = []string{"realm", "realms", "http", "https"}

// NewSyncConfiguration builds a configuration for owner against rawURL.
func NewSyncConfiguration(owner Identity, rawURL string, opts ...ConfigOption) (SyncConfiguration, error) {
	if owner.ID == "" {
		return SyncConfiguration{}, fmt.Errorf("%w: owner id is empty", ErrInvalidConfiguration)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return SyncConfiguration{}, fmt.Errorf("%w: parse url: %v", ErrInvalidConfiguration, err)
	}
	if !supportedScheme(u.Scheme) {
		return SyncConfiguration{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfiguration, u.Scheme)
	}
	if u.Host == "" {
		return SyncConfiguration{}, fmt.Errorf("%w: missing host in %q", ErrInvalidConfiguration, rawURL)
	}
	cfg := SyncConfiguration{owner: owner, url: rawURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.interval < 0 {
		return SyncConfiguration{}, fmt.Errorf("%w: negative sync interval", ErrInvalidConfiguration)
	}
	return cfg, nil
}

func supportedScheme(scheme string) bool {
	for _, s := range SupportedSchemes {
		if strings.EqualFold(s, scheme) {
			return true
		}
	}
	return false
}

// Owner returns the identity the configuration syncs for.
func (c SyncConfiguration) Owner() Identity { return c.owner }

// URL returns the remote endpoint.
func (c SyncConfiguration) URL() string { return c.url }

// Name returns the optional label.
func (c SyncConfiguration) Name() string { return c.name }

// SyncInterval returns the per-target interval, zero meaning the client default.
func (c SyncConfiguration) SyncInterval() time.Duration { return c.interval }

// Key returns the registry key. Two configurations share a key iff all
// their fields are equal, the owner being compared by identity key. Each
// field is quoted so no field content can shift the boundaries.
func (c SyncConfiguration) Key() string {
	return strings.Join([]string{
		strconv.Quote(c.owner.ID),
		strconv.Quote(c.url),
		strconv.Quote(c.name),
		strconv.FormatInt(int64(c.interval), 10),
	}, ",")
}

// Equal reports whether both configurations map to the same session.
func (c SyncConfiguration) Equal(other SyncConfiguration) bool {
	return c.Key() == other.Key()
}

// String renders the configuration for logs.
func (c SyncConfiguration) String() string {
	if c.name != "" {
		return fmt.Sprintf("%s@%s (%s)", c.owner.ID, c.url, c.name)
	}
	return fmt.Sprintf("%s@%s", c.owner.ID, c.url)
}
