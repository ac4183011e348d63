package msglog

import (
	"sort"

	"github.com/gistchat/gistchat/internal/types"
)

// DefaultCapacity bounds the per-room message buffer.
const DefaultCapacity = 100

// Log is an append-only, capacity-bounded buffer of messages for a single
// room. Oldest entries are evicted first once the capacity is exceeded.
type Log struct {
	capacity int
	msgs     []types.Message
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		msgs:     make([]types.Message, 0, capacity),
	}
}

// Append inserts msg at the tail, evicting from the head if the log would
// exceed its capacity.
func (l *Log) Append(msg types.Message) {
	l.msgs = append(l.msgs, msg)
	if len(l.msgs) > l.capacity {
		l.msgs = l.msgs[len(l.msgs)-l.capacity:]
	}
}

func (l *Log) Len() int {
	return len(l.msgs)
}

// Messages returns a copy of the buffered messages in insertion order.
func (l *Log) Messages() []types.Message {
	out := make([]types.Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Dedupe returns msgs with every duplicate identity removed, keeping the
// first occurrence and preserving input order.
func Dedupe(msgs []types.Message) []types.Message {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		id := m.Identity()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Merge combines a local and a remote view of the same room's messages:
// concatenate, dedupe, then stable-sort ascending by timestamp. The
// ordering is a best-effort causal approximation; on exact timestamp ties
// the relative insertion order is preserved.
func Merge(local, remote []types.Message) []types.Message {
	combined := make([]types.Message, 0, len(local)+len(remote))
	combined = append(combined, local...)
	combined = append(combined, remote...)
	merged := Dedupe(combined)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// Since returns the messages with a timestamp strictly greater than the
// watermark, preserving order.
func Since(msgs []types.Message, watermark int64) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Timestamp > watermark {
			out = append(out, m)
		}
	}
	return out
}

// MaxTimestamp returns the largest timestamp in msgs, or fallback when
// msgs is empty.
func MaxTimestamp(msgs []types.Message, fallback int64) int64 {
	max := fallback
	for _, m := range msgs {
		if m.Timestamp > max {
			max = m.Timestamp
		}
	}
	return max
}
