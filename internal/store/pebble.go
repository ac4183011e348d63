package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
	"github.com/rs/zerolog"
)

// PebbleStore is a LocalStore backed by a PebbleDB directory, giving the
// client state that survives restarts on one device.
type PebbleStore struct {
	db  *pebble.DB
	log zerolog.Logger
}

func OpenPebbleStore(dir string, logger zerolog.Logger) (*PebbleStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &PebbleStore{db: db, log: logger}, nil
}

func (s *PebbleStore) Get(key string) []byte {
	val, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			s.log.Warn().Err(err).Str("key", key).Msg("local store read failed")
		}
		return nil
	}
	out := make([]byte, len(val))
	copy(out, val)
	if err := closer.Close(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("local store close failed")
	}
	return out
}

func (s *PebbleStore) Set(key string, value []byte) {
	if err := s.db.Set([]byte(key), value, pebble.Sync); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("local store write failed")
	}
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
