package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/viant/mcpserver/jsonrpc"
	"github.com/viant/mcpserver/store"
	"github.com/viant/mcpserver/stream"
)

// Broker owns session lifecycle: creation, resume from the session store,
// idle expiry and termination. Live runtime state (pending round trips,
// in-flight cancellations) is node local; the persisted snapshot lets any
// node resume a session by id.
type Broker struct {
	store        store.Store
	streams      stream.Manager
	logger       jsonrpc.Logger
	metrics      *Metrics
	idleTimeout  time.Duration
	sweepEvery   time.Duration
	mux          sync.RWMutex
	sessions     map[string]*Session
	stopOnce     sync.Once
	stopCh       chan struct{}
	sweeperDone  chan struct{}
	sweeperStart sync.Once
}

// NewBroker creates a broker over the supplied store and stream manager.
func NewBroker(sessions store.Store, streams stream.Manager, idleTimeout time.Duration, logger jsonrpc.Logger, metrics *Metrics) *Broker {
	if logger == nil {
		logger = jsonrpc.DefaultLogger
	}
	return &Broker{
		store:       sessions,
		streams:     streams,
		logger:      logger,
		metrics:     metrics,
		idleTimeout: idleTimeout,
		sweepEvery:  idleTimeout / 4,
		sessions:    map[string]*Session{},
		stopCh:      make(chan struct{}),
		sweeperDone: make(chan struct{}),
	}
}

// Create registers a fresh session and persists its snapshot.
func (b *Broker) Create(ctx context.Context) (*Session, error) {
	session := NewSession("")
	b.mux.Lock()
	b.sessions[session.ID()] = session
	b.mux.Unlock()
	if err := b.persist(ctx, session); err != nil {
		b.mux.Lock()
		delete(b.sessions, session.ID())
		b.mux.Unlock()
		return nil, err
	}
	b.metrics.sessionOpened()
	b.startSweeper()
	return session, nil
}

// Lookup resolves a session id to a live session, rehydrating from the store
// when the session was created on another node. Returns a 404 StatusError
// when the id is unknown or the session terminated.
func (b *Broker) Lookup(ctx context.Context, id string) (*Session, error) {
	b.mux.RLock()
	session, ok := b.sessions[id]
	b.mux.RUnlock()
	if ok {
		if session.State() == StateTerminated {
			return nil, jsonrpc.NewSessionNotFoundError(id)
		}
		return session, nil
	}
	data, err := b.store.Get(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, jsonrpc.NewSessionNotFoundError(id)
		}
		return nil, err
	}
	snap := &snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, err
	}
	if snap.State == StateTerminated {
		return nil, jsonrpc.NewSessionNotFoundError(id)
	}
	restored := restoreSession(snap)

	b.mux.Lock()
	// another goroutine may have rehydrated concurrently; keep the first
	if existing, ok := b.sessions[id]; ok {
		b.mux.Unlock()
		return existing, nil
	}
	b.sessions[id] = restored
	b.mux.Unlock()
	b.logger.Debugf("session %s rehydrated from store (state=%s)", id, restored.State())
	return restored, nil
}

// Touch refreshes session activity and re-persists the snapshot so the
// sweeper and other nodes see the new deadline.
func (b *Broker) Touch(ctx context.Context, session *Session) {
	session.Touch()
	if err := b.persist(ctx, session); err != nil {
		b.logger.Errorf("session %s: persist failed: %v", session.ID(), err)
	}
}

// Persist writes the current session snapshot to the store.
func (b *Broker) Persist(ctx context.Context, session *Session) error {
	return b.persist(ctx, session)
}

// Terminate ends a session: fails pending round trips, cancels in-flight
// requests, drops its stream buffer and removes the snapshot. Terminating a
// missing or already terminated session is a no-op.
func (b *Broker) Terminate(ctx context.Context, id string) {
	b.mux.Lock()
	session, ok := b.sessions[id]
	if ok {
		delete(b.sessions, id)
	}
	b.mux.Unlock()

	if ok && session.terminate() {
		b.metrics.sessionClosed()
	}
	if b.streams != nil {
		if err := b.streams.Drop(ctx, id); err != nil {
			b.logger.Errorf("session %s: stream drop failed: %v", id, err)
		}
	}
	if err := b.store.Delete(ctx, id); err != nil {
		b.logger.Errorf("session %s: store delete failed: %v", id, err)
	}
}

// Active returns the sessions currently live on this node.
func (b *Broker) Active() []*Session {
	b.mux.RLock()
	defer b.mux.RUnlock()
	ret := make([]*Session, 0, len(b.sessions))
	for _, session := range b.sessions {
		ret = append(ret, session)
	}
	return ret
}

// Stop halts the sweeper. Live sessions stay valid; Stop is for shutdown.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.sweeperStart.Do(func() {
		close(b.sweeperDone)
	})
	<-b.sweeperDone
}

func (b *Broker) persist(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session.snapshot())
	if err != nil {
		return err
	}
	ttl := time.Duration(0)
	if b.idleTimeout > 0 {
		// keep the snapshot a bit past the idle deadline so a slow sweep
		// does not race session resume
		ttl = b.idleTimeout + b.idleTimeout/2
	}
	return b.store.Put(ctx, session.ID(), data, ttl)
}

func (b *Broker) startSweeper() {
	if b.idleTimeout <= 0 {
		return
	}
	b.sweeperStart.Do(func() {
		go b.sweep()
	})
}

func (b *Broker) sweep() {
	defer close(b.sweeperDone)
	interval := b.sweepEvery
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			deadline := time.Now().Add(-b.idleTimeout)
			for _, session := range b.Active() {
				if session.LastActivityAt().Before(deadline) {
					b.logger.Infof("session %s idle for over %s, terminating", session.ID(), b.idleTimeout)
					b.Terminate(context.Background(), session.ID())
				}
			}
		}
	}
}
