package server

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/viant/mcpserver/jsonrpc"
	"github.com/viant/mcpserver/schema"
	"github.com/viant/mcpserver/transport"
)

// SessionState represents the lifecycle state of a session.
type SessionState int32

const (
	StateUninitialized SessionState = iota
	StateInitializing
	StateReady
	StateTerminated
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Session is the unit of client-server association. Inbound requests of one
// session are serialized on dispatchMux; responses and notifications only use
// the short-lived bookkeeping locks.
type Session struct {
	id string

	// dispatchMux serializes inbound request dispatch to preserve per-client ordering
	dispatchMux sync.Mutex

	mux                sync.RWMutex
	state              SessionState
	protocolVersion    string
	clientInfo         schema.Implementation
	clientCapabilities schema.ClientCapabilities
	serverCapabilities schema.ServerCapabilities
	createdAt          time.Time
	lastActivityAt     time.Time

	user *UserContext

	// pending holds server-to-client round trips indexed by outbound request id
	pending      *transport.RoundTrips
	requestIdSeq uint64

	// inflight maps inbound request ids to the cancel funcs of their handlers
	inflightMux sync.Mutex
	inflight    map[string]context.CancelFunc
}

var _ transport.Sequencer = (*Session)(nil)

// NewSession creates a session in state Uninitialized. An empty id is replaced
// with a generated one.
func NewSession(id string) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()
	return &Session{
		id:             id,
		state:          StateUninitialized,
		createdAt:      now,
		lastActivityAt: now,
		user:           NewUserContext(),
		pending:        transport.NewRoundTrips(),
		inflight:       map[string]context.CancelFunc{},
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.state
}

// ProtocolVersion returns the negotiated protocol version.
func (s *Session) ProtocolVersion() string {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.protocolVersion
}

// ClientInfo returns the client implementation info advertised on initialize.
func (s *Session) ClientInfo() schema.Implementation {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.clientInfo
}

// ClientCapabilities returns the capabilities advertised by the client.
func (s *Session) ClientCapabilities() schema.ClientCapabilities {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.clientCapabilities
}

// ServerCapabilities returns the capabilities advertised to the client.
func (s *Session) ServerCapabilities() schema.ServerCapabilities {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.serverCapabilities
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.createdAt
}

// LastActivityAt returns the time of the last inbound activity.
func (s *Session) LastActivityAt() time.Time {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.lastActivityAt
}

// User returns the session user context bag populated by middleware.
func (s *Session) User() *UserContext { return s.user }

// Touch updates the last activity timestamp.
func (s *Session) Touch() {
	s.mux.Lock()
	s.lastActivityAt = time.Now()
	s.mux.Unlock()
}

// NextRequestID allocates the next server-to-client request id.
func (s *Session) NextRequestID() jsonrpc.RequestId {
	return int(atomic.AddUint64(&s.requestIdSeq, 1))
}

// LastRequestID returns the most recently generated request id without
// mutating the underlying sequence.
func (s *Session) LastRequestID() jsonrpc.RequestId {
	return int(atomic.LoadUint64(&s.requestIdSeq))
}

// beginInitialize transitions Uninitialized -> Initializing recording the
// negotiated attributes.
func (s *Session) beginInitialize(version string, info schema.Implementation, capabilities schema.ClientCapabilities, serverCapabilities schema.ServerCapabilities) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.state != StateUninitialized {
		return false
	}
	s.state = StateInitializing
	s.protocolVersion = version
	s.clientInfo = info
	s.clientCapabilities = capabilities
	s.serverCapabilities = serverCapabilities
	s.lastActivityAt = time.Now()
	return true
}

// completeInitialize transitions Initializing -> Ready.
func (s *Session) completeInitialize() bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.state != StateInitializing {
		return false
	}
	s.state = StateReady
	s.lastActivityAt = time.Now()
	return true
}

// terminate transitions to Terminated; returns false when already terminated.
func (s *Session) terminate() bool {
	s.mux.Lock()
	if s.state == StateTerminated {
		s.mux.Unlock()
		return false
	}
	s.state = StateTerminated
	s.mux.Unlock()

	s.pending.CloseWithError(jsonrpc.NewSessionNotFound(s.id))
	s.cancelAllInflight()
	return true
}

// registerInflight records the cancel func of an in-flight inbound request.
func (s *Session) registerInflight(id jsonrpc.RequestId, cancel context.CancelFunc) {
	s.inflightMux.Lock()
	s.inflight[requestKey(id)] = cancel
	s.inflightMux.Unlock()
}

// releaseInflight removes bookkeeping for a finished inbound request.
func (s *Session) releaseInflight(id jsonrpc.RequestId) {
	s.inflightMux.Lock()
	delete(s.inflight, requestKey(id))
	s.inflightMux.Unlock()
}

// cancelInflight raises the cancellation signal of an in-flight request.
func (s *Session) cancelInflight(id jsonrpc.RequestId) bool {
	s.inflightMux.Lock()
	cancel, ok := s.inflight[requestKey(id)]
	s.inflightMux.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *Session) cancelAllInflight() {
	s.inflightMux.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.inflight))
	for _, cancel := range s.inflight {
		cancels = append(cancels, cancel)
	}
	s.inflight = map[string]context.CancelFunc{}
	s.inflightMux.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func requestKey(id jsonrpc.RequestId) string {
	data, _ := json.Marshal(id)
	return string(data)
}

// snapshot is the serializable subset of session state kept in the session
// store so that any node can resume the session.
type snapshot struct {
	ID                 string                    `json:"id"`
	State              SessionState              `json:"state"`
	ProtocolVersion    string                    `json:"protocolVersion"`
	ClientInfo         schema.Implementation     `json:"clientInfo"`
	ClientCapabilities schema.ClientCapabilities `json:"clientCapabilities"`
	ServerCapabilities schema.ServerCapabilities `json:"serverCapabilities"`
	CreatedAt          time.Time                 `json:"createdAt"`
	LastActivityAt     time.Time                 `json:"lastActivityAt"`
	User               map[string]any            `json:"user,omitempty"`
}

func (s *Session) snapshot() *snapshot {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return &snapshot{
		ID:                 s.id,
		State:              s.state,
		ProtocolVersion:    s.protocolVersion,
		ClientInfo:         s.clientInfo,
		ClientCapabilities: s.clientCapabilities,
		ServerCapabilities: s.serverCapabilities,
		CreatedAt:          s.createdAt,
		LastActivityAt:     s.lastActivityAt,
		User:               s.user.values(),
	}
}

func restoreSession(snap *snapshot) *Session {
	ret := NewSession(snap.ID)
	ret.state = snap.State
	ret.protocolVersion = snap.ProtocolVersion
	ret.clientInfo = snap.ClientInfo
	ret.clientCapabilities = snap.ClientCapabilities
	ret.serverCapabilities = snap.ServerCapabilities
	ret.createdAt = snap.CreatedAt
	ret.lastActivityAt = snap.LastActivityAt
	ret.user.replace(snap.User)
	return ret
}

// UserContext is a typed key/value bag scoped to a session, populated by
// middleware (e.g. the authenticated principal) and readable from handlers.
type UserContext struct {
	mux  sync.RWMutex
	data map[string]any
}

// NewUserContext creates an empty user context.
func NewUserContext() *UserContext {
	return &UserContext{data: map[string]any{}}
}

// Set stores a value under key.
func (u *UserContext) Set(key string, value any) {
	u.mux.Lock()
	u.data[key] = value
	u.mux.Unlock()
}

// Get returns the value stored under key.
func (u *UserContext) Get(key string) (any, bool) {
	u.mux.RLock()
	defer u.mux.RUnlock()
	value, ok := u.data[key]
	return value, ok
}

// String returns the string value stored under key, or "".
func (u *UserContext) String(key string) string {
	value, ok := u.Get(key)
	if !ok {
		return ""
	}
	text, _ := value.(string)
	return text
}

const userPrincipalKey = "principal"

// SetPrincipal records the authenticated principal.
func (u *UserContext) SetPrincipal(subject string) { u.Set(userPrincipalKey, subject) }

// Principal returns the authenticated principal, or "".
func (u *UserContext) Principal() string { return u.String(userPrincipalKey) }

func (u *UserContext) values() map[string]any {
	u.mux.RLock()
	defer u.mux.RUnlock()
	ret := make(map[string]any, len(u.data))
	for k, v := range u.data {
		ret[k] = v
	}
	return ret
}

func (u *UserContext) replace(values map[string]any) {
	if values == nil {
		values = map[string]any{}
	}
	u.mux.Lock()
	u.data = values
	u.mux.Unlock()
}
