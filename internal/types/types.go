package types

import (
	"fmt"
	"time"
)

// Origin records whether an entry was created by this client or learned
// from a remote document store.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

type MessageKind string

const (
	KindChat       MessageKind = "chat_message"
	KindUserJoined MessageKind = "user_joined"
	KindUserLeft   MessageKind = "user_left"
)

// Room is a named chat channel. Name is the sole identity: the same name
// seen from two sources is the same logical room and must be merged.
type Room struct {
	Name           string `json:"name"`
	PasswordMarker string `json:"password,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	LastActivityAt int64  `json:"last_activity_at"`
	UserCount      int    `json:"user_count"`
	Origin         Origin `json:"origin,omitempty"`
}

// HasPassword reports whether joining the room requires a password marker.
func (r Room) HasPassword() bool {
	return r.PasswordMarker != ""
}

// Message is an immutable chat or presence event. Timestamps are epoch
// milliseconds as written by the originating client; clock skew between
// clients is not corrected.
type Message struct {
	ID        string      `json:"id,omitempty"`
	Room      string      `json:"room"`
	Kind      MessageKind `json:"kind"`
	Username  string      `json:"username"`
	Text      string      `json:"text,omitempty"`
	Timestamp int64       `json:"timestamp"`
	ClientID  string      `json:"client_id,omitempty"`
}

// Identity returns the deduplication key for the message. Messages written
// by older clients may lack an ID, in which case identity falls back to
// the (kind, timestamp) pair, a weaker guarantee.
func (m Message) Identity() string {
	if m.ID != "" {
		return m.ID
	}
	return fmt.Sprintf("%s_%d", m.Kind, m.Timestamp)
}

// NowMillis returns the current time in epoch milliseconds, the unit used
// for every timestamp that crosses a store boundary.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
