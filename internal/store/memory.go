package store

import "sync"

// MemoryStore is an in-process LocalStore used in tests and when no data
// directory is configured. Safe for concurrent use.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string][]byte)}
}

func (s *MemoryStore) Get(key string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.m[key]
	if !ok {
		return nil
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out
}

func (s *MemoryStore) Set(key string, value []byte) {
	val := make([]byte, len(value))
	copy(val, value)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = val
}

func (s *MemoryStore) Close() error {
	return nil
}
