package store

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/gistchat/gistchat/internal/types"
)

// BinStore carries the whole registry and every room's recent messages in
// one shared document, keyed by a fixed bin id and access key that all
// clients hold. It is the lowest-common-denominator cross-device channel
// used when the gist API is not configured.
type BinStore struct {
	baseURL    string
	binID      string
	accessKey  string
	httpClient *http.Client
	log        zerolog.Logger
}

type BinOption func(*BinStore)

func WithBinHTTPClient(client *http.Client) BinOption {
	return func(s *BinStore) { s.httpClient = client }
}

func NewBinStore(baseURL, binID, accessKey string, timeout time.Duration, logger zerolog.Logger, opts ...BinOption) *BinStore {
	s := &BinStore{
		baseURL:    baseURL,
		binID:      binID,
		accessKey:  accessKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BinStore) Name() string { return "bin" }

func (s *BinStore) Available() bool { return s.binID != "" && s.accessKey != "" }

// binDocument is the single shared document.
type binDocument struct {
	Rooms    map[string]types.Room      `json:"rooms"`
	Messages map[string][]types.Message `json:"messages"`
}

func (s *BinStore) url() string {
	return s.baseURL + "/b/" + s.binID
}

func (s *BinStore) headers() map[string]string {
	return map[string]string{"X-Access-Key": s.accessKey}
}

// fetch reads the shared document. A bin that has never been written
// reads as an empty document.
func (s *BinStore) fetch(ctx context.Context) (*binDocument, error) {
	var doc binDocument
	err := doJSON(ctx, s.httpClient, http.MethodGet, s.url(), s.headers(), nil, &doc)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return &binDocument{}, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (s *BinStore) put(ctx context.Context, doc *binDocument) error {
	return doJSON(ctx, s.httpClient, http.MethodPut, s.url(), s.headers(), doc, nil)
}

func (s *BinStore) LoadRegistry(ctx context.Context) (map[string]types.Room, error) {
	doc, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if doc.Rooms == nil {
		return map[string]types.Room{}, nil
	}
	return doc.Rooms, nil
}

// SaveRegistry replaces the rooms section of the shared document,
// preserving whatever messages other clients have written since our read.
func (s *BinStore) SaveRegistry(ctx context.Context, reg map[string]types.Room) error {
	doc, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	doc.Rooms = reg
	return s.put(ctx, doc)
}

func (s *BinStore) LoadMessages(ctx context.Context, room string) ([]types.Message, error) {
	doc, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Messages[room], nil
}

func (s *BinStore) AppendMessage(ctx context.Context, room string, msg types.Message) error {
	doc, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	if doc.Messages == nil {
		doc.Messages = make(map[string][]types.Message)
	}
	msgs := append(doc.Messages[room], msg)
	if len(msgs) > RemoteMessageLimit {
		msgs = msgs[len(msgs)-RemoteMessageLimit:]
	}
	doc.Messages[room] = msgs
	return s.put(ctx, doc)
}
