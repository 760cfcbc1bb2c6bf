package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
// It supports sliding idle TTL and absolute max TTL semantics.
type MemoryStore struct {
	mux       sync.RWMutex
	byToken   map[string]*Grant
	bySubject map[string]map[string]struct{}
	idleTTL   time.Duration
	maxTTL    time.Duration
}

// NewMemoryStore creates a MemoryStore with given TTL settings.
func NewMemoryStore(idleTTL, maxTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		byToken:   map[string]*Grant{},
		bySubject: map[string]map[string]struct{}{},
		idleTTL:   idleTTL,
		maxTTL:    maxTTL,
	}
}

// Put implements Store.Put.
func (s *MemoryStore) Put(_ context.Context, g *Grant) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	now := time.Now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	if g.LastUsedAt.IsZero() {
		g.LastUsedAt = now
	}
	if g.ExpiresAt.IsZero() && s.idleTTL > 0 {
		g.ExpiresAt = now.Add(s.idleTTL)
	}
	if g.MaxExpiresAt.IsZero() && s.maxTTL > 0 {
		g.MaxExpiresAt = now.Add(s.maxTTL)
	}
	s.byToken[g.Token] = clone(g)
	subject := s.bySubject[g.Subject]
	if subject == nil {
		subject = map[string]struct{}{}
		s.bySubject[g.Subject] = subject
	}
	subject[g.Token] = struct{}{}
	return nil
}

// Get implements Store.Get.
func (s *MemoryStore) Get(ctx context.Context, token string) (*Grant, error) {
	s.mux.RLock()
	g, ok := s.byToken[token]
	s.mux.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if g.expired(time.Now()) {
		_ = s.Revoke(ctx, token)
		return nil, ErrNotFound
	}
	return clone(g), nil
}

// Touch implements Store.Touch.
func (s *MemoryStore) Touch(_ context.Context, token string, at time.Time) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	g, ok := s.byToken[token]
	if !ok {
		return ErrNotFound
	}
	g.LastUsedAt = at
	if s.idleTTL > 0 {
		newExpiry := at.Add(s.idleTTL)
		if !g.MaxExpiresAt.IsZero() && newExpiry.After(g.MaxExpiresAt) {
			newExpiry = g.MaxExpiresAt
		}
		g.ExpiresAt = newExpiry
	}
	return nil
}

// Revoke implements Store.Revoke.
func (s *MemoryStore) Revoke(_ context.Context, token string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	g, ok := s.byToken[token]
	if !ok {
		return ErrNotFound
	}
	delete(s.byToken, token)
	if subject := s.bySubject[g.Subject]; subject != nil {
		delete(subject, token)
		if len(subject) == 0 {
			delete(s.bySubject, g.Subject)
		}
	}
	return nil
}

// RevokeSubject implements Store.RevokeSubject.
func (s *MemoryStore) RevokeSubject(_ context.Context, subject string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	tokens := s.bySubject[subject]
	if tokens == nil {
		return nil
	}
	for token := range tokens {
		delete(s.byToken, token)
	}
	delete(s.bySubject, subject)
	return nil
}
