// Package registry implements the cross-client room registry: a mapping
// from room name to room metadata that is merged from local and remote
// snapshots and expired by age. The registry has no authority of its own;
// every client reconciles its cache against whatever snapshot a remote
// store returns.
package registry

import (
	"encoding/json"
	"time"

	"github.com/gistchat/gistchat/internal/types"
)

// Merge unions two registry views by room name. When a name exists in
// both, the entry with the greater LastActivityAt wins; ties keep the
// local entry. Rooms only present remotely are tagged with remote origin
// so the UI can surface where they were learned from.
func Merge(local, remote map[string]types.Room) map[string]types.Room {
	out := make(map[string]types.Room, len(local)+len(remote))
	for name, room := range local {
		out[name] = room
	}
	for name, room := range remote {
		existing, ok := out[name]
		if ok && existing.LastActivityAt >= room.LastActivityAt {
			continue
		}
		if !ok || room.Origin == "" {
			room.Origin = types.OriginRemote
		}
		out[name] = room
	}
	return out
}

// Register inserts or overwrites room by name, stamping LastActivityAt
// with now. The caller persists the result.
func Register(reg map[string]types.Room, room types.Room, now int64) {
	room.LastActivityAt = now
	if room.CreatedAt == 0 {
		room.CreatedAt = now
	}
	reg[room.Name] = room
}

// Touch advances a room's activity timestamp without other changes.
// It is a no-op for unknown rooms.
func Touch(reg map[string]types.Room, name string, now int64) {
	room, ok := reg[name]
	if !ok {
		return
	}
	if now > room.LastActivityAt {
		room.LastActivityAt = now
		reg[name] = room
	}
}

// Expire removes every room whose LastActivityAt is older than now-ttl.
// It mutates reg in place and reports whether anything was removed, so
// callers can skip the remote write-back when nothing changed.
func Expire(reg map[string]types.Room, now int64, ttl time.Duration) bool {
	cutoff := now - ttl.Milliseconds()
	changed := false
	for name, room := range reg {
		if room.LastActivityAt < cutoff {
			delete(reg, name)
			changed = true
		}
	}
	return changed
}

// Decode parses a registry snapshot. Missing or corrupt data decodes to
// an empty registry, never an error: a bad document degrades to an empty
// view rather than poisoning the client.
func Decode(data []byte) map[string]types.Room {
	reg := make(map[string]types.Room)
	if len(data) == 0 {
		return reg
	}
	if err := json.Unmarshal(data, &reg); err != nil {
		return make(map[string]types.Room)
	}
	if reg == nil {
		return make(map[string]types.Room)
	}
	return reg
}

// Encode serializes a registry snapshot.
func Encode(reg map[string]types.Room) []byte {
	data, err := json.Marshal(reg)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// Clone returns a shallow copy of reg, used when handing the merged view
// to callbacks that must not observe later mutations.
func Clone(reg map[string]types.Room) map[string]types.Room {
	out := make(map[string]types.Room, len(reg))
	for name, room := range reg {
		out[name] = room
	}
	return out
}
