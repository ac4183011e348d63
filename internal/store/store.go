// Package store contains the storage adapters: a device-local key-value
// store used as a cache, and clients for the remote document stores that
// carry rooms and messages between clients.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gistchat/gistchat/internal/registry"
	"github.com/gistchat/gistchat/internal/types"
)

// ErrUnavailable is returned for every transport-level failure of a
// remote store: timeouts, connection errors and non-2xx statuses alike.
// Callers degrade to local-only behavior instead of inspecting the cause.
var ErrUnavailable = errors.New("remote store unavailable")

// Fixed local-store keys.
const (
	KeyRooms    = "chat_rooms"
	KeyUsername = "chat_username"
	KeyGistID   = "chat_gist_id"
)

// MessagesKey returns the local-store key holding a room's message list.
func MessagesKey(room string) string {
	return "chat_" + room + "_messages"
}

// LocalStore is a synchronous string-keyed blob store scoped to one
// device. It never surfaces errors to the caller: a missing or unreadable
// record reads as nil and a failed write is silently dropped (the
// implementations log it).
type LocalStore interface {
	Get(key string) []byte
	Set(key string, value []byte)
	Close() error
}

// RemoteStore is a remote document store holding a registry snapshot and
// per-room message documents. Every method applies a bounded timeout via
// ctx and maps all transport failures to ErrUnavailable.
type RemoteStore interface {
	Name() string
	// Available reports whether the store has the credentials it needs.
	// An unavailable store is skipped, leaving the client local-only.
	Available() bool
	LoadRegistry(ctx context.Context) (map[string]types.Room, error)
	SaveRegistry(ctx context.Context, reg map[string]types.Room) error
	LoadMessages(ctx context.Context, room string) ([]types.Message, error)
	AppendMessage(ctx context.Context, room string, msg types.Message) error
}

// ReadRooms decodes the cached registry snapshot. Corrupt or missing data
// reads as an empty registry.
func ReadRooms(ls LocalStore) map[string]types.Room {
	return registry.Decode(ls.Get(KeyRooms))
}

// WriteRooms persists the registry snapshot to the local cache.
func WriteRooms(ls LocalStore, reg map[string]types.Room) {
	ls.Set(KeyRooms, registry.Encode(reg))
}

// ReadMessages decodes a room's cached message list. Corrupt or missing
// data reads as an empty list.
func ReadMessages(ls LocalStore, room string) []types.Message {
	data := ls.Get(MessagesKey(room))
	if len(data) == 0 {
		return nil
	}
	var msgs []types.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil
	}
	return msgs
}

// WriteMessages persists a room's message list, trimmed to the last limit
// entries when limit is positive.
func WriteMessages(ls LocalStore, room string, msgs []types.Message, limit int) {
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return
	}
	ls.Set(MessagesKey(room), data)
}
