package stream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	redis "github.com/redis/go-redis/v9"
)

// RedisManager is a Manager backed by a per-session Redis log (sorted set
// keyed by cursor) plus a per-session pub/sub channel used as a wake-up for
// live tailing. Publishing on one node reaches subscribers on any node.
type RedisManager struct {
	rdb       *redis.Client
	prefix    string
	maxLen    int64
	retention time.Duration
	maxTries  uint
}

// RedisOption mutates a RedisManager.
type RedisOption func(*RedisManager)

// WithRedisPrefix overrides the default key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(m *RedisManager) { m.prefix = prefix }
}

// WithRetention bounds the per-session log length and age.
func WithRetention(maxLen int64, maxAge time.Duration) RedisOption {
	return func(m *RedisManager) {
		if maxLen > 0 {
			m.maxLen = maxLen
		}
		if maxAge > 0 {
			m.retention = maxAge
		}
	}
}

// NewRedisManager creates a Redis-backed stream Manager.
// Defaults: last 1000 messages, 5 minute retention.
func NewRedisManager(rdb *redis.Client, options ...RedisOption) *RedisManager {
	ret := &RedisManager{
		rdb:       rdb,
		prefix:    "mcp:stream:",
		maxLen:    1000,
		retention: 5 * time.Minute,
		maxTries:  3,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (m *RedisManager) keySeq(id string) string   { return m.prefix + id + ":seq" }
func (m *RedisManager) keyLog(id string) string   { return m.prefix + id + ":log" }
func (m *RedisManager) keyFloor(id string) string { return m.prefix + id + ":floor" }
func (m *RedisManager) channel(id string) string  { return m.prefix + id }

// Publish implements Manager.Publish.
func (m *RedisManager) Publish(ctx context.Context, sessionID string, payload []byte) (uint64, error) {
	return retry(ctx, m.maxTries, func() (uint64, error) {
		cursor, err := m.rdb.Incr(ctx, m.keySeq(sessionID)).Uint64()
		if err != nil {
			return 0, err
		}
		member := encodeEvent(cursor, payload)
		pipe := m.rdb.TxPipeline()
		pipe.ZAdd(ctx, m.keyLog(sessionID), redis.Z{Score: float64(cursor), Member: member})
		if over := int64(cursor) - m.maxLen; over > 0 {
			pipe.ZRemRangeByScore(ctx, m.keyLog(sessionID), "-inf", strconv.FormatInt(over, 10))
			pipe.Set(ctx, m.keyFloor(sessionID), over, m.retention)
		}
		pipe.Expire(ctx, m.keySeq(sessionID), m.retention)
		pipe.Expire(ctx, m.keyLog(sessionID), m.retention)
		pipe.Publish(ctx, m.channel(sessionID), member)
		if _, err = pipe.Exec(ctx); err != nil {
			return 0, err
		}
		return cursor, nil
	})
}

// Subscribe implements Manager.Subscribe.
func (m *RedisManager) Subscribe(ctx context.Context, sessionID string, fromCursor uint64) (*Subscription, error) {
	floor, err := m.floor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if fromCursor > 0 && fromCursor < floor {
		return nil, ErrReplayGone
	}
	if fromCursor == 0 {
		fromCursor = floor
	}

	subCtx, cancel := context.WithCancel(context.Background())
	// wire cancellation of the caller context without retaining it for delivery
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-subCtx.Done():
		}
	}()

	pubsub := m.rdb.Subscribe(subCtx, m.channel(sessionID))
	// force subscription establishment before replay so no publish is missed
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	subscription := newSubscription(cancel)
	go m.run(subCtx, sessionID, pubsub, subscription, fromCursor)
	return subscription, nil
}

// run replays the log after last, then tails the pub/sub channel, filling
// gaps from the log when pub/sub delivery skipped entries.
func (m *RedisManager) run(ctx context.Context, sessionID string, pubsub *redis.PubSub, subscription *Subscription, last uint64) {
	defer func() {
		_ = pubsub.Close()
	}()

	var err error
	if last, err = m.replay(ctx, sessionID, subscription, last); err != nil {
		subscription.finish(err)
		return
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			subscription.finish(nil)
			return
		case message, ok := <-messages:
			if !ok {
				subscription.finish(nil)
				return
			}
			cursor, payload, decodeErr := decodeEvent(message.Payload)
			if decodeErr != nil || cursor <= last {
				continue
			}
			if cursor > last+1 {
				// pub/sub skipped entries, recover them from the log
				if last, err = m.replay(ctx, sessionID, subscription, last); err != nil {
					subscription.finish(err)
					return
				}
				if cursor <= last {
					continue
				}
			}
			select {
			case subscription.events <- Event{Cursor: cursor, Payload: payload}:
				last = cursor
			case <-ctx.Done():
				subscription.finish(nil)
				return
			}
		}
	}
}

// replay delivers logged events with cursor > last and returns the new last.
func (m *RedisManager) replay(ctx context.Context, sessionID string, subscription *Subscription, last uint64) (uint64, error) {
	members, err := m.rdb.ZRangeByScore(ctx, m.keyLog(sessionID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatUint(last, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return last, err
	}
	for _, member := range members {
		cursor, payload, decodeErr := decodeEvent(member)
		if decodeErr != nil || cursor <= last {
			continue
		}
		select {
		case subscription.events <- Event{Cursor: cursor, Payload: payload}:
			last = cursor
		case <-ctx.Done():
			return last, nil
		}
	}
	return last, nil
}

// Trim implements Manager.Trim.
func (m *RedisManager) Trim(ctx context.Context, sessionID string, uptoCursor uint64) error {
	_, err := retry(ctx, m.maxTries, func() (struct{}, error) {
		pipe := m.rdb.TxPipeline()
		pipe.ZRemRangeByScore(ctx, m.keyLog(sessionID), "-inf", strconv.FormatUint(uptoCursor, 10))
		pipe.Set(ctx, m.keyFloor(sessionID), uptoCursor, m.retention)
		_, execErr := pipe.Exec(ctx)
		return struct{}{}, execErr
	})
	return err
}

// Drop implements Manager.Drop.
func (m *RedisManager) Drop(ctx context.Context, sessionID string) error {
	_, err := retry(ctx, m.maxTries, func() (struct{}, error) {
		return struct{}{}, m.rdb.Del(ctx, m.keySeq(sessionID), m.keyLog(sessionID), m.keyFloor(sessionID)).Err()
	})
	return err
}

func (m *RedisManager) floor(ctx context.Context, sessionID string) (uint64, error) {
	value, err := m.rdb.Get(ctx, m.keyFloor(sessionID)).Uint64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return value, nil
}

// encodeEvent frames cursor and payload for log members and pub/sub messages.
func encodeEvent(cursor uint64, payload []byte) string {
	return strconv.FormatUint(cursor, 10) + ":" + string(payload)
}

func decodeEvent(member string) (uint64, []byte, error) {
	idx := strings.IndexByte(member, ':')
	if idx <= 0 {
		return 0, nil, fmt.Errorf("malformed stream entry: %q", member)
	}
	cursor, err := strconv.ParseUint(member[:idx], 10, 64)
	if err != nil {
		return 0, nil, err
	}
	return cursor, []byte(member[idx+1:]), nil
}

// retry runs op with bounded exponential backoff.
func retry[T any](ctx context.Context, maxTries uint, op func() (T, error)) (T, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 20 * time.Millisecond
	expo.MaxInterval = 500 * time.Millisecond
	return backoff.Retry(ctx, op, backoff.WithBackOff(expo), backoff.WithMaxTries(maxTries))
}
