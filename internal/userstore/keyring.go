package userstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/atinyakov/syncmanager/internal/models"
)

// indexUser is the keyring entry listing every stored key. The keyring API
// cannot enumerate entries, so All and Clear go through it.
const indexUser = "__index__"

// Keyring stores identities as JSON secrets in the OS keychain.
type Keyring struct {
	service string
	mu      sync.Mutex
}

// NewKeyring creates a store scoped to the given keyring service name.
func NewKeyring(service string) *Keyring {
	return &Keyring{service: service}
}

func (k *Keyring) readIndex() ([]string, error) {
	raw, err := keyring.Get(k.service, indexUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keyring index: %w", err)
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("parse keyring index: %w", err)
	}
	return keys, nil
}

func (k *Keyring) writeIndex(keys []string) error {
	sort.Strings(keys)
	b, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("encode keyring index: %w", err)
	}
	if err := keyring.Set(k.service, indexUser, string(b)); err != nil {
		return fmt.Errorf("write keyring index: %w", err)
	}
	return nil
}

func (k *Keyring) get(key string) (*models.Identity, error) {
	raw, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keyring entry: %w", err)
	}
	var u models.Identity
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("parse keyring entry %q: %w", key, err)
	}
	return &u, nil
}

// Put stores user under key and returns the previous value, if any.
func (k *Keyring) Put(_ context.Context, key string, user models.Identity) (*models.Identity, error) {
	if key == indexUser {
		return nil, fmt.Errorf("key %q is reserved", key)
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	prev, err := k.get(key)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("encode identity: %w", err)
	}
	if err := keyring.Set(k.service, key, string(b)); err != nil {
		return nil, fmt.Errorf("write keyring entry: %w", err)
	}

	if prev == nil {
		keys, err := k.readIndex()
		if err != nil {
			return nil, err
		}
		if err := k.writeIndex(append(keys, key)); err != nil {
			return nil, err
		}
	}
	return prev, nil
}

// Get returns the identity under key, or nil.
func (k *Keyring) Get(_ context.Context, key string) (*models.Identity, error) {
	if key == indexUser {
		return nil, nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.get(key)
}

// Remove deletes key and returns the removed identity, or nil.
func (k *Keyring) Remove(_ context.Context, key string) (*models.Identity, error) {
	if key == indexUser {
		return nil, nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	u, err := k.get(key)
	if err != nil || u == nil {
		return nil, err
	}
	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("delete keyring entry: %w", err)
	}

	keys, err := k.readIndex()
	if err != nil {
		return nil, err
	}
	kept := keys[:0]
	for _, existing := range keys {
		if existing != key {
			kept = append(kept, existing)
		}
	}
	if err := k.writeIndex(kept); err != nil {
		return nil, err
	}
	return u, nil
}

// All returns every stored identity ordered by ID.
func (k *Keyring) All(context.Context) ([]models.Identity, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	keys, err := k.readIndex()
	if err != nil {
		return nil, err
	}
	users := make(map[string]models.Identity, len(keys))
	for _, key := range keys {
		u, err := k.get(key)
		if err != nil {
			return nil, err
		}
		if u != nil {
			users[key] = *u
		}
	}
	return sortedValues(users), nil
}

// Clear deletes every entry listed in the index, then the index itself.
func (k *Keyring) Clear(context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	keys, err := k.readIndex()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("delete keyring entry: %w", err)
		}
	}
	if err := keyring.Delete(k.service, indexUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete keyring index: %w", err)
	}
	return nil
}
