// Package stream implements per-session outbound message delivery with
// monotone cursors, bounded buffering and resumable subscriptions. The memory
// implementation serves single-node deployments; the Redis implementation
// backs the buffer with a shared log plus pub/sub so a message published on
// one node reaches a subscriber connected to another.
package stream

import (
	"context"
	"errors"
)

// ErrReplayGone indicates the requested cursor is older than the retained
// buffer; the client has to re-initialize.
var ErrReplayGone = errors.New("replay window no longer covers requested cursor")

// ErrOverflow indicates the session buffer exceeded its high-water mark and
// undelivered messages were dropped.
var ErrOverflow = errors.New("stream buffer overflow")

// ErrDropped indicates the session stream was discarded while a publisher was
// waiting for buffer space.
var ErrDropped = errors.New("session stream dropped")

// Event is a single buffered message with its delivery cursor.
type Event struct {
	Cursor  uint64
	Payload []byte
}

// Manager owns per-session outbound delivery.
type Manager interface {
	// Publish appends payload to the session buffer and returns its cursor.
	// Cursors start at 1 and increase monotonically per session.
	Publish(ctx context.Context, sessionID string, payload []byte) (uint64, error)

	// Subscribe returns a subscription delivering events with cursor strictly
	// greater than fromCursor, in cursor order, replaying the buffer first and
	// then tailing live publishes. fromCursor 0 means the start of what is
	// still buffered. ErrReplayGone when fromCursor predates the buffer.
	Subscribe(ctx context.Context, sessionID string, fromCursor uint64) (*Subscription, error)

	// Trim drops buffered events with cursor <= uptoCursor.
	Trim(ctx context.Context, sessionID string, uptoCursor uint64) error

	// Drop discards all state held for the session.
	Drop(ctx context.Context, sessionID string) error
}

// Subscription is a lazy, cancellable sequence of events.
type Subscription struct {
	events chan Event
	cancel context.CancelFunc
	err    error
	done   chan struct{}
}

func newSubscription(cancel context.CancelFunc) *Subscription {
	return &Subscription{
		events: make(chan Event, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Events returns the ordered event sequence; the channel is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Err reports why the subscription ended; nil after a plain Close.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close cancels the subscription and releases its resources.
func (s *Subscription) Close() {
	s.cancel()
}

// finish ends the subscription with err and closes the event channel.
func (s *Subscription) finish(err error) {
	s.err = err
	close(s.done)
	close(s.events)
}
