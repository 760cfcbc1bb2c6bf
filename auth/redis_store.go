package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore is a durable grant Store backed by Redis.
type RedisStore struct {
	rdb     *redis.Client
	prefix  string
	idleTTL time.Duration
	maxTTL  time.Duration
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb *redis.Client, prefix string, idleTTL, maxTTL time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "mcp:auth:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, idleTTL: idleTTL, maxTTL: maxTTL}
}

func (s *RedisStore) keyGrant(token string) string     { return s.prefix + "grant:" + token }
func (s *RedisStore) keySubject(subject string) string { return s.prefix + "subject:" + subject }

// Put implements Store.Put.
func (s *RedisStore) Put(ctx context.Context, g *Grant) error {
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
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keyGrant(g.Token), data, ttlFor(g, now))
	pipe.SAdd(ctx, s.keySubject(g.Subject), g.Token)
	_, err = pipe.Exec(ctx)
	return err
}

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, token string) (*Grant, error) {
	raw, err := s.rdb.Get(ctx, s.keyGrant(token)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	g := &Grant{}
	if err := json.Unmarshal(raw, g); err != nil {
		return nil, err
	}
	if g.expired(time.Now()) {
		_ = s.Revoke(ctx, token)
		return nil, ErrNotFound
	}
	return g, nil
}

// Touch implements Store.Touch.
func (s *RedisStore) Touch(ctx context.Context, token string, at time.Time) error {
	g, err := s.Get(ctx, token)
	if err != nil {
		return err
	}
	g.LastUsedAt = at
	if s.idleTTL > 0 {
		newExpiry := at.Add(s.idleTTL)
		if !g.MaxExpiresAt.IsZero() && newExpiry.After(g.MaxExpiresAt) {
			newExpiry = g.MaxExpiresAt
		}
		g.ExpiresAt = newExpiry
	}
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keyGrant(token), data, ttlFor(g, time.Now())).Err()
}

// Revoke implements Store.Revoke.
func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	g, err := s.Get(ctx, token)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.keyGrant(token))
	pipe.SRem(ctx, s.keySubject(g.Subject), token)
	_, err = pipe.Exec(ctx)
	return err
}

// RevokeSubject implements Store.RevokeSubject.
func (s *RedisStore) RevokeSubject(ctx context.Context, subject string) error {
	key := s.keySubject(subject)
	tokens, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	for _, token := range tokens {
		pipe.Del(ctx, s.keyGrant(token))
	}
	pipe.Del(ctx, key)
	_, err = pipe.Exec(ctx)
	return err
}

func ttlFor(g *Grant, now time.Time) time.Duration {
	var until time.Time
	switch {
	case !g.ExpiresAt.IsZero() && !g.MaxExpiresAt.IsZero():
		if g.ExpiresAt.Before(g.MaxExpiresAt) {
			until = g.ExpiresAt
		} else {
			until = g.MaxExpiresAt
		}
	case !g.ExpiresAt.IsZero():
		until = g.ExpiresAt
	case !g.MaxExpiresAt.IsZero():
		until = g.MaxExpiresAt
	default:
		return 0 // no TTL
	}
	if until.Before(now) {
		return time.Second
	}
	return time.Until(until)
}

// String returns a diagnostic representation of the store config.
func (s *RedisStore) String() string {
	return fmt.Sprintf("RedisStore{prefix=%s idleTTL=%s maxTTL=%s}", s.prefix, s.idleTTL, s.maxTTL)
}
