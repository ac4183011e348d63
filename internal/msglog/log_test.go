package msglog

import (
	"fmt"
	"testing"

	"github.com/gistchat/gistchat/internal/types"
	"github.com/stretchr/testify/assert"
)

func chatMsg(id string, ts int64) types.Message {
	return types.Message{
		ID:        id,
		Room:      "test-room",
		Kind:      types.KindChat,
		Username:  "testuser",
		Text:      "hello",
		Timestamp: ts,
	}
}

func TestAppendEvictsOldest(t *testing.T) {
	l := New(100)
	for i := 0; i < 101; i++ {
		l.Append(chatMsg(fmt.Sprintf("m%d", i), int64(i)))
	}

	assert.Equal(t, 100, l.Len(), "expected log to be trimmed to capacity")

	msgs := l.Messages()
	assert.Equal(t, "m1", msgs[0].ID, "expected oldest message to be evicted")
	assert.Equal(t, "m100", msgs[99].ID, "expected newest message to be retained")
}

func TestAppendDefaultCapacity(t *testing.T) {
	l := New(0)
	for i := 0; i < DefaultCapacity+10; i++ {
		l.Append(chatMsg(fmt.Sprintf("m%d", i), int64(i)))
	}
	assert.Equal(t, DefaultCapacity, l.Len(), "expected default capacity to apply when none is given")
}

func TestDedupe(t *testing.T) {
	t.Run("keeps first occurrence per id", func(t *testing.T) {
		msgs := []types.Message{
			chatMsg("m1", 100),
			chatMsg("m2", 101),
			chatMsg("m1", 102),
		}

		out := Dedupe(msgs)
		assert.Len(t, out, 2, "expected duplicate id to be removed")
		assert.Equal(t, int64(100), out[0].Timestamp, "expected first occurrence to win")
	})

	t.Run("falls back to kind and timestamp when id is absent", func(t *testing.T) {
		msgs := []types.Message{
			{Kind: types.KindUserJoined, Timestamp: 50, Username: "a"},
			{Kind: types.KindUserJoined, Timestamp: 50, Username: "b"},
			{Kind: types.KindUserLeft, Timestamp: 50, Username: "c"},
		}

		out := Dedupe(msgs)
		assert.Len(t, out, 2, "expected identical (kind, timestamp) pairs to collapse")
		assert.Equal(t, "a", out[0].Username, "expected first occurrence to win")
	})

	t.Run("is idempotent", func(t *testing.T) {
		msgs := []types.Message{
			chatMsg("m1", 1),
			chatMsg("m2", 2),
			chatMsg("m1", 3),
			{Kind: types.KindChat, Timestamp: 2},
		}

		once := Dedupe(msgs)
		twice := Dedupe(once)
		assert.Equal(t, once, twice, "expected dedupe(dedupe(xs)) == dedupe(xs)")
	})
}

func TestMerge(t *testing.T) {
	t.Run("sorts ascending by timestamp", func(t *testing.T) {
		local := []types.Message{chatMsg("m3", 300), chatMsg("m1", 100)}
		remote := []types.Message{chatMsg("m2", 200)}

		out := Merge(local, remote)
		assert.Len(t, out, 3)
		assert.Equal(t, "m1", out[0].ID)
		assert.Equal(t, "m2", out[1].ID)
		assert.Equal(t, "m3", out[2].ID)
	})

	t.Run("colliding ids yield a single entry", func(t *testing.T) {
		local := []types.Message{chatMsg("m1", 100)}
		remote := []types.Message{chatMsg("m1", 100), chatMsg("m2", 101)}

		out := Merge(local, remote)
		assert.Len(t, out, 2, "expected duplicate delivery to collapse to one entry")
	})

	t.Run("identity set is commutative", func(t *testing.T) {
		a := []types.Message{chatMsg("m1", 100), chatMsg("m2", 200)}
		b := []types.Message{chatMsg("m2", 200), chatMsg("m3", 150)}

		ids := func(msgs []types.Message) map[string]struct{} {
			set := make(map[string]struct{})
			for _, m := range msgs {
				set[m.Identity()] = struct{}{}
			}
			return set
		}

		assert.Equal(t, ids(Merge(a, b)), ids(Merge(b, a)),
			"expected merge(A,B) and merge(B,A) to contain the same identities")
	})

	t.Run("timestamp ties preserve insertion order", func(t *testing.T) {
		local := []types.Message{chatMsg("m1", 100)}
		remote := []types.Message{chatMsg("m2", 100)}

		out := Merge(local, remote)
		assert.Equal(t, "m1", out[0].ID, "expected stable sort to keep local entry first on a tie")
		assert.Equal(t, "m2", out[1].ID)
	})
}

func TestSince(t *testing.T) {
	msgs := []types.Message{chatMsg("m1", 50), chatMsg("m2", 100), chatMsg("m3", 150)}

	out := Since(msgs, 100)
	assert.Len(t, out, 1, "expected strictly-newer filter")
	assert.Equal(t, "m3", out[0].ID)
}

func TestMaxTimestamp(t *testing.T) {
	assert.Equal(t, int64(42), MaxTimestamp(nil, 42), "expected fallback for empty input")

	msgs := []types.Message{chatMsg("m1", 100), chatMsg("m2", 300), chatMsg("m3", 200)}
	assert.Equal(t, int64(300), MaxTimestamp(msgs, 0))
}
