package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	redis "github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis, suitable for horizontally scaled
// deployments where any node may resume a session created elsewhere.
type RedisStore struct {
	rdb      *redis.Client
	prefix   string
	maxTries uint
}

// RedisOption mutates a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix overrides the default key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithMaxTries bounds the retry attempts for transient errors.
func WithMaxTries(n uint) RedisOption {
	return func(s *RedisStore) { s.maxTries = n }
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb *redis.Client, options ...RedisOption) *RedisStore {
	ret := &RedisStore{rdb: rdb, prefix: "mcp:session:", maxTries: 3}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, id string) ([]byte, error) {
	return retry(ctx, s.maxTries, func() ([]byte, error) {
		data, err := s.rdb.Get(ctx, s.key(id)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, backoff.Permanent(ErrNotFound)
			}
			return nil, err
		}
		return data, nil
	})
}

// Put implements Store.Put.
func (s *RedisStore) Put(ctx context.Context, id string, state []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	_, err := retry(ctx, s.maxTries, func() (struct{}, error) {
		return struct{}{}, s.rdb.Set(ctx, s.key(id), state, ttl).Err()
	})
	return err
}

// Delete implements Store.Delete.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := retry(ctx, s.maxTries, func() (struct{}, error) {
		return struct{}{}, s.rdb.Del(ctx, s.key(id)).Err()
	})
	return err
}

// retry runs op with bounded exponential backoff; context cancellation and
// permanent errors stop retrying immediately.
func retry[T any](ctx context.Context, maxTries uint, op func() (T, error)) (T, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 20 * time.Millisecond
	expo.MaxInterval = 500 * time.Millisecond
	return backoff.Retry(ctx, op, backoff.WithBackOff(expo), backoff.WithMaxTries(maxTries))
}
