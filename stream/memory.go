package stream

import (
	"context"
	"sync"
)

// OverflowPolicy controls producer behavior when a session buffer is full.
type OverflowPolicy int

const (
	// OverflowDropOldest drops the oldest undelivered entry; a subscriber that
	// still needed it observes ErrOverflow.
	OverflowDropOldest OverflowPolicy = iota
	// OverflowBlock blocks the producer until the buffer drains.
	OverflowBlock
)

// MemoryManager is an in-process Manager with one bounded buffer per session.
type MemoryManager struct {
	mux      sync.Mutex
	sessions map[string]*memorySession
	maxLen   int
	policy   OverflowPolicy
}

type memorySession struct {
	mux     sync.Mutex
	cond    *sync.Cond
	seq     uint64
	floor   uint64 // cursor of the newest discarded event
	dropped bool
	events  []Event
	// notify wakes the attached subscriber; capacity one, publish never blocks on it
	notify chan struct{}
}

// MemoryOption mutates a MemoryManager.
type MemoryOption func(*MemoryManager)

// WithMaxLen bounds the per-session buffer size.
func WithMaxLen(n int) MemoryOption {
	return func(m *MemoryManager) {
		if n > 0 {
			m.maxLen = n
		}
	}
}

// WithOverflowPolicy sets producer behavior on a full buffer.
func WithOverflowPolicy(policy OverflowPolicy) MemoryOption {
	return func(m *MemoryManager) { m.policy = policy }
}

// NewMemoryManager creates an in-memory stream Manager.
func NewMemoryManager(options ...MemoryOption) *MemoryManager {
	ret := &MemoryManager{sessions: map[string]*memorySession{}, maxLen: 1024}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (m *MemoryManager) session(id string) *memorySession {
	m.mux.Lock()
	defer m.mux.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		sess = &memorySession{notify: make(chan struct{}, 1)}
		sess.cond = sync.NewCond(&sess.mux)
		m.sessions[id] = sess
	}
	return sess
}

// Publish implements Manager.Publish.
func (m *MemoryManager) Publish(ctx context.Context, sessionID string, payload []byte) (uint64, error) {
	sess := m.session(sessionID)
	sess.mux.Lock()
	if m.policy == OverflowBlock {
		// a cancelled context has to wake the cond; Trim and Drop broadcast
		// on their own
		stop := context.AfterFunc(ctx, func() {
			sess.mux.Lock()
			sess.cond.Broadcast()
			sess.mux.Unlock()
		})
		defer stop()
		for len(sess.events) >= m.maxLen && !sess.dropped && ctx.Err() == nil {
			sess.cond.Wait()
		}
		if sess.dropped {
			sess.mux.Unlock()
			return 0, ErrDropped
		}
		if err := ctx.Err(); err != nil {
			sess.mux.Unlock()
			return 0, err
		}
	}
	sess.seq++
	cursor := sess.seq
	sess.events = append(sess.events, Event{Cursor: cursor, Payload: append([]byte(nil), payload...)})
	if len(sess.events) > m.maxLen {
		excess := len(sess.events) - m.maxLen
		sess.floor = sess.events[excess-1].Cursor
		sess.events = sess.events[excess:]
	}
	sess.mux.Unlock()

	select {
	case sess.notify <- struct{}{}:
	default:
	}
	return cursor, nil
}

// Subscribe implements Manager.Subscribe.
func (m *MemoryManager) Subscribe(ctx context.Context, sessionID string, fromCursor uint64) (*Subscription, error) {
	sess := m.session(sessionID)
	sess.mux.Lock()
	if fromCursor > 0 && fromCursor < sess.floor {
		sess.mux.Unlock()
		return nil, ErrReplayGone
	}
	if fromCursor == 0 {
		fromCursor = sess.floor
	}
	sess.mux.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	subscription := newSubscription(cancel)
	go m.run(subCtx, sess, subscription, fromCursor)
	return subscription, nil
}

// run delivers buffered events after last, then waits for publishes.
func (m *MemoryManager) run(ctx context.Context, sess *memorySession, subscription *Subscription, last uint64) {
	for {
		batch, floor := sess.eventsAfter(last)
		if floor > last {
			// events the subscriber still needed were dropped
			subscription.finish(ErrOverflow)
			return
		}
		for _, event := range batch {
			select {
			case subscription.events <- event:
				last = event.Cursor
			case <-ctx.Done():
				subscription.finish(nil)
				return
			}
		}
		select {
		case <-sess.notify:
		case <-ctx.Done():
			subscription.finish(nil)
			return
		}
	}
}

func (s *memorySession) eventsAfter(last uint64) ([]Event, uint64) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if last < s.floor {
		return nil, s.floor
	}
	var idx int
	for idx < len(s.events) && s.events[idx].Cursor <= last {
		idx++
	}
	if idx >= len(s.events) {
		return nil, s.floor
	}
	batch := make([]Event, len(s.events)-idx)
	copy(batch, s.events[idx:])
	return batch, s.floor
}

// Trim implements Manager.Trim.
func (m *MemoryManager) Trim(_ context.Context, sessionID string, uptoCursor uint64) error {
	sess := m.session(sessionID)
	sess.mux.Lock()
	defer sess.mux.Unlock()
	var idx int
	for idx < len(sess.events) && sess.events[idx].Cursor <= uptoCursor {
		idx++
	}
	if idx > 0 {
		sess.events = sess.events[idx:]
	}
	if uptoCursor > sess.floor {
		sess.floor = uptoCursor
	}
	sess.cond.Broadcast()
	return nil
}

// Drop implements Manager.Drop.
func (m *MemoryManager) Drop(_ context.Context, sessionID string) error {
	m.mux.Lock()
	sess, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mux.Unlock()
	if ok {
		sess.mux.Lock()
		sess.dropped = true
		sess.cond.Broadcast()
		sess.mux.Unlock()
		select {
		case sess.notify <- struct{}{}:
		default:
		}
	}
	return nil
}
