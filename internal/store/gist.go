package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gistchat/gistchat/internal/registry"
	"github.com/gistchat/gistchat/internal/types"
)

// RemoteMessageLimit bounds each room's message document held by a remote
// store. It is smaller than the local log capacity: remote documents are
// rewritten wholesale on every append, so they stay short.
const RemoteMessageLimit = 50

const registryFile = "registry.json"

// GistStore carries rooms and messages through a gist-style document API:
// one private multi-file document per client community, addressed by a
// document id, authenticated with a user-supplied bearer token. Without a
// token the store reports unavailable and the client runs local-only.
type GistStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        zerolog.Logger

	mu     sync.Mutex
	gistID string
	// onCreate is invoked with the new document id after lazy creation so
	// the caller can persist it for the next run.
	onCreate func(id string)
}

type GistOption func(*GistStore)

func WithGistID(id string) GistOption {
	return func(s *GistStore) { s.gistID = id }
}

func WithGistHTTPClient(client *http.Client) GistOption {
	return func(s *GistStore) { s.httpClient = client }
}

// WithGistCreateHook registers fn to be called when the signaling document
// is first created.
func WithGistCreateHook(fn func(id string)) GistOption {
	return func(s *GistStore) { s.onCreate = fn }
}

func NewGistStore(baseURL, token string, timeout time.Duration, logger zerolog.Logger, opts ...GistOption) *GistStore {
	s := &GistStore{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GistStore) Name() string { return "gist" }

func (s *GistStore) Available() bool { return s.token != "" }

// Wire shapes of the gist API.

type gistFile struct {
	Content string `json:"content"`
}

type gistDocument struct {
	ID          string              `json:"id,omitempty"`
	Description string              `json:"description,omitempty"`
	Public      bool                `json:"public"`
	Files       map[string]gistFile `json:"files"`
}

// roomDocument is the per-room signaling file inside the gist.
type roomDocument struct {
	Room     string          `json:"room"`
	Created  int64           `json:"created"`
	Messages []types.Message `json:"messages"`
}

func roomFile(room string) string {
	return "room_" + room + ".json"
}

func (s *GistStore) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.token}
}

func (s *GistStore) documentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gistID
}

func (s *GistStore) setDocumentID(id string) {
	s.mu.Lock()
	created := s.gistID == "" && id != ""
	s.gistID = id
	hook := s.onCreate
	s.mu.Unlock()
	if created && hook != nil {
		hook(id)
	}
}

func (s *GistStore) fetch(ctx context.Context) (*gistDocument, error) {
	id := s.documentID()
	if id == "" {
		return nil, errNotFound
	}
	var doc gistDocument
	if err := doJSON(ctx, s.httpClient, http.MethodGet, s.baseURL+"/gists/"+id, s.headers(), nil, &doc); err != nil {
		if errors.Is(err, errNotFound) {
			// The document id points at nothing; treat like a transport
			// failure so the client keeps running on its other sources.
			return nil, ErrUnavailable
		}
		return nil, err
	}
	return &doc, nil
}

func (s *GistStore) create(ctx context.Context, files map[string]gistFile) error {
	doc := gistDocument{
		Description: "gistchat signaling",
		Public:      false,
		Files:       files,
	}
	var created gistDocument
	if err := doJSON(ctx, s.httpClient, http.MethodPost, s.baseURL+"/gists", s.headers(), doc, &created); err != nil {
		return err
	}
	s.setDocumentID(created.ID)
	return nil
}

func (s *GistStore) patch(ctx context.Context, files map[string]gistFile) error {
	id := s.documentID()
	if id == "" {
		return s.create(ctx, files)
	}
	body := map[string]any{"files": files}
	return doJSON(ctx, s.httpClient, http.MethodPatch, s.baseURL+"/gists/"+id, s.headers(), body, nil)
}

func (s *GistStore) LoadRegistry(ctx context.Context) (map[string]types.Room, error) {
	doc, err := s.fetch(ctx)
	if err != nil {
		if errors.Is(err, errNotFound) {
			// Nothing published yet: an empty view, not a failure.
			return map[string]types.Room{}, nil
		}
		return nil, err
	}
	file, ok := doc.Files[registryFile]
	if !ok {
		return make(map[string]types.Room), nil
	}
	// Corrupt content degrades to an empty view, same as the local cache.
	return registry.Decode([]byte(file.Content)), nil
}

func (s *GistStore) SaveRegistry(ctx context.Context, reg map[string]types.Room) error {
	return s.patch(ctx, map[string]gistFile{
		registryFile: {Content: string(registry.Encode(reg))},
	})
}

func (s *GistStore) LoadMessages(ctx context.Context, room string) ([]types.Message, error) {
	doc, err := s.fetch(ctx)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	file, ok := doc.Files[roomFile(room)]
	if !ok {
		return nil, nil
	}
	var rd roomDocument
	if err := json.Unmarshal([]byte(file.Content), &rd); err != nil {
		s.log.Warn().Err(err).Str("room", room).Msg("gist room document corrupt, treating as empty")
		return nil, nil
	}
	return rd.Messages, nil
}

// AppendMessage is a read-modify-write of the room document: the document
// store has no partial update. Concurrent appenders can overwrite each
// other; the polling merge absorbs duplicates and accepts losses.
func (s *GistStore) AppendMessage(ctx context.Context, room string, msg types.Message) error {
	rd := roomDocument{Room: room, Created: msg.Timestamp}

	doc, err := s.fetch(ctx)
	if err != nil && !errors.Is(err, errNotFound) {
		return err
	}
	if doc != nil {
		if file, ok := doc.Files[roomFile(room)]; ok {
			if err := json.Unmarshal([]byte(file.Content), &rd); err != nil {
				s.log.Warn().Err(err).Str("room", room).Msg("gist room document corrupt, rewriting")
				rd = roomDocument{Room: room, Created: msg.Timestamp}
			}
		}
	}

	rd.Messages = append(rd.Messages, msg)
	if len(rd.Messages) > RemoteMessageLimit {
		rd.Messages = rd.Messages[len(rd.Messages)-RemoteMessageLimit:]
	}

	content, err := json.Marshal(rd)
	if err != nil {
		return err
	}
	return s.patch(ctx, map[string]gistFile{
		roomFile(room): {Content: string(content)},
	})
}
