package client

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/gistchat/gistchat/internal/store"
)

// Session is the explicit per-client context: identity, display name and
// the storage adapters. It is created once at client start and handed to
// the synchronizer; there are no package-level singletons.
type Session struct {
	// ID identifies this client instance in message envelopes so a
	// client can recognize its own messages coming back from a store.
	ID      string
	Local   store.LocalStore
	Remotes []store.RemoteStore

	mu       sync.RWMutex
	username string
}

// NewSession builds a session. The display name is taken from preferred,
// falling back to the locally persisted name, falling back to a generated
// one.
func NewSession(local store.LocalStore, remotes []store.RemoteStore, preferred string) *Session {
	name := preferred
	if name == "" {
		name = string(local.Get(store.KeyUsername))
	}
	if name == "" {
		name = fmt.Sprintf("User_%04d", rand.Intn(10000))
	}

	s := &Session{
		ID:       uuid.NewString(),
		Local:    local,
		Remotes:  remotes,
		username: name,
	}
	local.Set(store.KeyUsername, []byte(name))
	return s
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// SetUsername updates and persists the display name.
func (s *Session) SetUsername(name string) {
	s.mu.Lock()
	s.username = name
	s.mu.Unlock()
	s.Local.Set(store.KeyUsername, []byte(name))
}

// AvailableRemotes returns the remote stores that currently hold the
// credentials they need.
func (s *Session) AvailableRemotes() []store.RemoteStore {
	out := make([]store.RemoteStore, 0, len(s.Remotes))
	for _, r := range s.Remotes {
		if r.Available() {
			out = append(out, r)
		}
	}
	return out
}
