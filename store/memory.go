package store

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store for single-node deployments and tests.
type MemoryStore struct {
	mux     sync.RWMutex
	entries map[string]*entry
}

// NewMemoryStore creates an in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]*entry{}}
}

// Get implements Store.Get with lazy TTL expiry.
func (s *MemoryStore) Get(_ context.Context, id string) ([]byte, error) {
	s.mux.RLock()
	item, ok := s.entries[id]
	s.mux.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		s.mux.Lock()
		delete(s.entries, id)
		s.mux.Unlock()
		return nil, ErrNotFound
	}
	return append([]byte(nil), item.data...), nil
}

// Put implements Store.Put.
func (s *MemoryStore) Put(_ context.Context, id string, state []byte, ttl time.Duration) error {
	item := &entry{data: append([]byte(nil), state...)}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	s.mux.Lock()
	s.entries[id] = item
	s.mux.Unlock()
	return nil
}

// Delete implements Store.Delete.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mux.Lock()
	delete(s.entries, id)
	s.mux.Unlock()
	return nil
}
