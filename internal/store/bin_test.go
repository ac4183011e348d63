package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gistchat/gistchat/internal/testutil"
	"github.com/gistchat/gistchat/internal/types"
)

// fakeBinAPI serves a single shared document guarded by an access key.
type fakeBinAPI struct {
	mu      sync.Mutex
	doc     []byte
	key     string
	written int
}

func (f *fakeBinAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /b/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Header.Get("X-Access-Key") != f.key {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if f.doc == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(f.doc)
	})
	mux.HandleFunc("PUT /b/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Header.Get("X-Access-Key") != f.key {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var doc binDocument
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.doc, _ = json.Marshal(doc)
		f.written++
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newTestBinStore(t *testing.T, api *fakeBinAPI) *BinStore {
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return NewBinStore(srv.URL, "shared-bin", api.key, time.Second, testutil.TestLogger(t))
}

func TestBinStoreAvailable(t *testing.T) {
	log := testutil.TestLogger(t)

	assert.False(t, NewBinStore("u", "", "k", time.Second, log).Available(), "expected missing bin id to be unavailable")
	assert.False(t, NewBinStore("u", "id", "", time.Second, log).Available(), "expected missing access key to be unavailable")
	assert.True(t, NewBinStore("u", "id", "k", time.Second, log).Available())
}

func TestBinStoreRegistry(t *testing.T) {
	api := &fakeBinAPI{key: "secret"}
	s := newTestBinStore(t, api)

	reg, err := s.LoadRegistry(context.Background())
	assert.NoError(t, err, "expected an unwritten bin to read as empty")
	assert.Empty(t, reg)

	want := map[string]types.Room{
		"lobby1": {Name: "lobby1", LastActivityAt: 9, UserCount: 1},
	}
	assert.NoError(t, s.SaveRegistry(context.Background(), want))

	got, err := s.LoadRegistry(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBinStoreSaveRegistryPreservesMessages(t *testing.T) {
	api := &fakeBinAPI{key: "secret"}
	s := newTestBinStore(t, api)

	msg := types.Message{ID: "m1", Room: "lobby1", Kind: types.KindChat, Timestamp: 100}
	assert.NoError(t, s.AppendMessage(context.Background(), "lobby1", msg))

	assert.NoError(t, s.SaveRegistry(context.Background(), map[string]types.Room{
		"lobby1": {Name: "lobby1", LastActivityAt: 100},
	}))

	msgs, err := s.LoadMessages(context.Background(), "lobby1")
	assert.NoError(t, err)
	assert.Equal(t, []types.Message{msg}, msgs, "expected registry save to leave messages intact")
}

func TestBinStoreAppendTrims(t *testing.T) {
	api := &fakeBinAPI{key: "secret"}
	s := newTestBinStore(t, api)

	for i := 0; i < RemoteMessageLimit+3; i++ {
		msg := types.Message{ID: "m" + string(rune('a'+i%26)) + string(rune('a'+i/26)), Kind: types.KindChat, Timestamp: int64(i)}
		assert.NoError(t, s.AppendMessage(context.Background(), "lobby1", msg))
	}

	msgs, err := s.LoadMessages(context.Background(), "lobby1")
	assert.NoError(t, err)
	assert.Len(t, msgs, RemoteMessageLimit, "expected shared document to stay bounded")
	assert.Equal(t, int64(3), msgs[0].Timestamp)
}

func TestBinStoreUnavailable(t *testing.T) {
	t.Run("wrong access key", func(t *testing.T) {
		api := &fakeBinAPI{key: "secret"}
		srv := httptest.NewServer(api.handler())
		defer srv.Close()

		s := NewBinStore(srv.URL, "shared-bin", "wrong", time.Second, testutil.TestLogger(t))
		_, err := s.LoadRegistry(context.Background())
		assert.ErrorIs(t, err, ErrUnavailable, "expected 403 to map to ErrUnavailable")
	})

	t.Run("connection refused", func(t *testing.T) {
		s := NewBinStore("http://127.0.0.1:1", "shared-bin", "k", 100*time.Millisecond, testutil.TestLogger(t))
		_, err := s.LoadRegistry(context.Background())
		assert.ErrorIs(t, err, ErrUnavailable, "expected connection error to map to ErrUnavailable")
	})
}
