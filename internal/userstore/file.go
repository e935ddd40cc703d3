package userstore

import (
	"context"
	"crypto/cipher"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/atinyakov/syncmanager/internal/models"
)

// File persists identities to a JSON file. Refresh tokens are sealed with
// the AEAD when one is given.
type File struct {
	path string
	aead cipher.AEAD

	mu    sync.Mutex
	users map[string]models.Identity
}

type fileRecord struct {
	Identity models.Identity `json:"identity"`
	// SealedToken replaces Identity.RefreshToken on disk when sealing is on.
	SealedToken string `json:"sealed_token,omitempty"`
}

type fileContents struct {
	Users map[string]fileRecord `json:"users"`
}

// NewFile opens the store at path, loading existing content. A missing file
// is an empty store. aead may be nil to keep tokens in clear text.
func NewFile(path string, aead cipher.AEAD) (*File, error) {
	f := &File{path: path, aead: aead, users: make(map[string]models.Identity)}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read user store: %w", err)
	}

	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return fmt.Errorf("parse user store: %w", err)
	}
	for key, rec := range contents.Users {
		u := rec.Identity
		if rec.SealedToken != "" {
			if f.aead == nil {
				return fmt.Errorf("user store %s holds sealed tokens but no key was given", f.path)
			}
			tok, err := open(f.aead, rec.SealedToken)
			if err != nil {
				return fmt.Errorf("open token for %q: %w", key, err)
			}
			u.RefreshToken = tok
		}
		f.users[key] = u
	}
	return nil
}

// save writes the whole store through a temp file and rename. Callers hold mu.
func (f *File) save() error {
	contents := fileContents{Users: make(map[string]fileRecord, len(f.users))}
	for key, u := range f.users {
		rec := fileRecord{Identity: u}
		if f.aead != nil && u.RefreshToken != "" {
			sealed, err := seal(f.aead, u.RefreshToken)
			if err != nil {
				return err
			}
			rec.SealedToken = sealed
			rec.Identity.RefreshToken = ""
		}
		contents.Users[key] = rec
	}

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user store: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create user store dir: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write user store: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace user store: %w", err)
	}
	return nil
}

// Put stores user under key and returns the previous value, if any.
func (f *File) Put(_ context.Context, key string, user models.Identity) (*models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.users[key]
	f.users[key] = user
	if err := f.save(); err != nil {
		if had {
			f.users[key] = prev
		} else {
			delete(f.users, key)
		}
		return nil, err
	}
	if !had {
		return nil, nil
	}
	return &prev, nil
}

// Get returns the identity under key, or nil.
func (f *File) Get(_ context.Context, key string) (*models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[key]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// Remove deletes key and returns the removed identity, or nil.
func (f *File) Remove(_ context.Context, key string) (*models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[key]
	if !ok {
		return nil, nil
	}
	delete(f.users, key)
	if err := f.save(); err != nil {
		f.users[key] = u
		return nil, err
	}
	return &u, nil
}

// All returns every stored identity ordered by ID.
func (f *File) All(context.Context) ([]models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedValues(f.users), nil
}

// Clear removes every identity and persists the empty store.
func (f *File) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	old := f.users
	f.users = make(map[string]models.Identity)
	if err := f.save(); err != nil {
		f.users = old
		return err
	}
	return nil
}
