package stream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisManager(t *testing.T, options ...RedisOption) (*RedisManager, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisManager(rdb, options...), srv
}

func TestRedisManager_PublishSubscribeOrder(t *testing.T) {
	ctx := context.Background()
	manager, _ := newRedisManager(t)

	subscription, err := manager.Subscribe(ctx, "s-1", 0)
	require.Nil(t, err)
	defer subscription.Close()

	for i := 1; i <= 5; i++ {
		cursor, err := manager.Publish(ctx, "s-1", []byte(fmt.Sprintf("m%d", i)))
		require.Nil(t, err)
		assert.EqualValues(t, i, cursor)
	}

	events := collect(t, subscription, 5)
	for i, event := range events {
		assert.EqualValues(t, i+1, event.Cursor)
		assert.EqualValues(t, fmt.Sprintf("m%d", i+1), string(event.Payload))
	}
}

func TestRedisManager_ReplayThenTail(t *testing.T) {
	ctx := context.Background()
	manager, _ := newRedisManager(t)

	for i := 1; i <= 3; i++ {
		_, err := manager.Publish(ctx, "s-1", []byte(fmt.Sprintf("old%d", i)))
		require.Nil(t, err)
	}

	subscription, err := manager.Subscribe(ctx, "s-1", 1)
	require.Nil(t, err)
	defer subscription.Close()

	_, err = manager.Publish(ctx, "s-1", []byte("live"))
	require.Nil(t, err)

	events := collect(t, subscription, 3)
	assert.EqualValues(t, 2, events[0].Cursor)
	assert.EqualValues(t, 3, events[1].Cursor)
	assert.EqualValues(t, 4, events[2].Cursor)
	assert.EqualValues(t, "live", string(events[2].Payload))
}

func TestRedisManager_CrossNodeFanOut(t *testing.T) {
	// two managers sharing one redis emulate two server nodes
	ctx := context.Background()
	srv := miniredis.RunT(t)
	rdbA := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdbA.Close(); _ = rdbB.Close() })
	nodeA := NewRedisManager(rdbA)
	nodeB := NewRedisManager(rdbB)

	subscription, err := nodeA.Subscribe(ctx, "s-1", 0)
	require.Nil(t, err)
	defer subscription.Close()

	cursor, err := nodeB.Publish(ctx, "s-1", []byte(`{"method":"custom/test","params":{"x":1}}`))
	require.Nil(t, err)
	assert.EqualValues(t, 1, cursor)

	events := collect(t, subscription, 1)
	assert.EqualValues(t, 1, events[0].Cursor)
	assert.Contains(t, string(events[0].Payload), "custom/test")
}

func TestRedisManager_ReplayGoneAfterRetention(t *testing.T) {
	ctx := context.Background()
	manager, _ := newRedisManager(t, WithRetention(4, time.Minute))

	for i := 0; i < 10; i++ {
		_, err := manager.Publish(ctx, "s-1", []byte("x"))
		require.Nil(t, err)
	}

	_, err := manager.Subscribe(ctx, "s-1", 2)
	assert.Equal(t, ErrReplayGone, err)

	subscription, err := manager.Subscribe(ctx, "s-1", 8)
	require.Nil(t, err)
	defer subscription.Close()
	events := collect(t, subscription, 2)
	assert.EqualValues(t, 9, events[0].Cursor)
	assert.EqualValues(t, 10, events[1].Cursor)
}

func TestRedisManager_TrimAndDrop(t *testing.T) {
	ctx := context.Background()
	manager, _ := newRedisManager(t)

	for i := 0; i < 5; i++ {
		_, err := manager.Publish(ctx, "s-1", []byte("x"))
		require.Nil(t, err)
	}
	require.Nil(t, manager.Trim(ctx, "s-1", 3))
	_, err := manager.Subscribe(ctx, "s-1", 2)
	assert.Equal(t, ErrReplayGone, err)

	require.Nil(t, manager.Drop(ctx, "s-1"))
	cursor, err := manager.Publish(ctx, "s-1", []byte("fresh"))
	require.Nil(t, err)
	assert.EqualValues(t, 1, cursor, "drop resets the session sequence")
}
