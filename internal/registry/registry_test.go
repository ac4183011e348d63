package registry

import (
	"testing"
	"time"

	"github.com/gistchat/gistchat/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestMerge(t *testing.T) {
	t.Run("prefers higher last activity", func(t *testing.T) {
		local := map[string]types.Room{
			"lobby1": {Name: "lobby1", LastActivityAt: 5, UserCount: 1, Origin: types.OriginLocal},
		}
		remote := map[string]types.Room{
			"lobby1": {Name: "lobby1", LastActivityAt: 9, UserCount: 2},
		}

		out := Merge(local, remote)
		assert.Len(t, out, 1, "expected same name to merge into one room")
		assert.Equal(t, int64(9), out["lobby1"].LastActivityAt, "expected newer remote record to win")
		assert.Equal(t, 2, out["lobby1"].UserCount)
	})

	t.Run("keeps local entry on tie", func(t *testing.T) {
		local := map[string]types.Room{
			"lobby1": {Name: "lobby1", LastActivityAt: 7, UserCount: 1, Origin: types.OriginLocal},
		}
		remote := map[string]types.Room{
			"lobby1": {Name: "lobby1", LastActivityAt: 7, UserCount: 3},
		}

		out := Merge(local, remote)
		assert.Equal(t, 1, out["lobby1"].UserCount, "expected local entry to survive a timestamp tie")
		assert.Equal(t, types.OriginLocal, out["lobby1"].Origin)
	})

	t.Run("tags remote-only rooms", func(t *testing.T) {
		remote := map[string]types.Room{
			"lobby2": {Name: "lobby2", LastActivityAt: 3},
		}

		out := Merge(map[string]types.Room{}, remote)
		assert.Equal(t, types.OriginRemote, out["lobby2"].Origin, "expected remote-only room to be tagged remote")
	})

	t.Run("does not mutate inputs", func(t *testing.T) {
		local := map[string]types.Room{"a": {Name: "a", LastActivityAt: 1}}
		remote := map[string]types.Room{"b": {Name: "b", LastActivityAt: 2}}

		_ = Merge(local, remote)
		assert.Len(t, local, 1)
		assert.Len(t, remote, 1)
	})
}

func TestRegister(t *testing.T) {
	reg := make(map[string]types.Room)
	Register(reg, types.Room{Name: "lobby1", UserCount: 1}, 1000)

	room := reg["lobby1"]
	assert.Equal(t, int64(1000), room.LastActivityAt, "expected activity stamp on register")
	assert.Equal(t, int64(1000), room.CreatedAt, "expected creation stamp when missing")

	Register(reg, types.Room{Name: "lobby1", CreatedAt: 1000, UserCount: 2}, 2000)
	room = reg["lobby1"]
	assert.Equal(t, int64(2000), room.LastActivityAt)
	assert.Equal(t, int64(1000), room.CreatedAt, "expected creation time to be preserved")
	assert.Equal(t, 2, room.UserCount)
}

func TestTouch(t *testing.T) {
	reg := map[string]types.Room{
		"lobby1": {Name: "lobby1", LastActivityAt: 100},
	}

	Touch(reg, "lobby1", 200)
	assert.Equal(t, int64(200), reg["lobby1"].LastActivityAt)

	Touch(reg, "lobby1", 150)
	assert.Equal(t, int64(200), reg["lobby1"].LastActivityAt, "expected activity to be monotonic")

	Touch(reg, "missing", 300)
	assert.NotContains(t, reg, "missing", "expected touch of unknown room to be a no-op")
}

func TestExpire(t *testing.T) {
	ttl := time.Hour
	now := int64(10_000_000)

	t.Run("removes rooms past the ttl", func(t *testing.T) {
		reg := map[string]types.Room{
			"stale": {Name: "stale", LastActivityAt: now - ttl.Milliseconds() - 1},
			"fresh": {Name: "fresh", LastActivityAt: now - ttl.Milliseconds() + 1},
		}

		changed := Expire(reg, now, ttl)
		assert.True(t, changed, "expected expire to report a removal")
		assert.NotContains(t, reg, "stale")
		assert.Contains(t, reg, "fresh")
	})

	t.Run("reports no change when nothing expires", func(t *testing.T) {
		reg := map[string]types.Room{
			"fresh": {Name: "fresh", LastActivityAt: now},
		}

		changed := Expire(reg, now, ttl)
		assert.False(t, changed, "expected no write-back when nothing expired")
		assert.Len(t, reg, 1)
	})
}

func TestDecode(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		reg := map[string]types.Room{
			"lobby1": {Name: "lobby1", LastActivityAt: 42, UserCount: 2},
		}

		out := Decode(Encode(reg))
		assert.Equal(t, reg, out)
	})

	t.Run("corrupt data decodes to empty", func(t *testing.T) {
		assert.Empty(t, Decode([]byte("{not json")), "expected corrupt snapshot to decode as empty")
	})

	t.Run("empty data decodes to empty", func(t *testing.T) {
		out := Decode(nil)
		assert.NotNil(t, out)
		assert.Empty(t, out)
	})
}
