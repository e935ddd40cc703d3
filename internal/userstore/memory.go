// Package userstore provides persisted key→identity stores the sync manager
// can be configured with: in memory, JSON file, PostgreSQL and the OS keyring.
package userstore

import (
	"context"
	"sort"
	"sync"

	"github.com/atinyakov/syncmanager/internal/models"
)

// Memory keeps identities in a map. It is the default store.
type Memory struct {
	mu    sync.RWMutex
	users map[string]models.Identity
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{users: make(map[string]models.Identity)}
}

// Put stores user under key and returns the previous value, if any.
func (m *Memory) Put(_ context.Context, key string, user models.Identity) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.users[key]
	m.users[key] = user
	if !ok {
		return nil, nil
	}
	return &prev, nil
}

// Get returns the identity under key, or nil.
func (m *Memory) Get(_ context.Context, key string) (*models.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[key]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// Remove deletes key and returns the removed identity, or nil.
func (m *Memory) Remove(_ context.Context, key string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[key]
	if !ok {
		return nil, nil
	}
	delete(m.users, key)
	return &u, nil
}

// All returns every stored identity ordered by ID.
func (m *Memory) All(context.Context) ([]models.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.users), nil
}

// Clear removes every identity.
func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = make(map[string]models.Identity)
	return nil
}

// Nop is a store that keeps nothing: Put, Get and Remove report no value and
// All is empty.
type Nop struct{}

func (Nop) Put(context.Context, string, models.Identity) (*models.Identity, error) { return nil, nil }
func (Nop) Get(context.Context, string) (*models.Identity, error)                  { return nil, nil }
func (Nop) Remove(context.Context, string) (*models.Identity, error)               { return nil, nil }
func (Nop) All(context.Context) ([]models.Identity, error)                         { return nil, nil }
func (Nop) Clear(context.Context) error                                            { return nil }

func sortedValues(users map[string]models.Identity) []models.Identity {
	out := make([]models.Identity, 0, len(users))
	for _, u := range users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
