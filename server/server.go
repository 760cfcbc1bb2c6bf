// Package server implements the protocol core: session lifecycle, capability
// negotiation, request dispatch, server-to-client round trips and registry
// backed tool, resource and prompt operations. Transports feed it raw
// JSON-RPC payloads and deliver the stream events it publishes.
package server

import (
	"context"
	"encoding/json"

	"github.com/viant/mcpserver/jsonrpc"
	"github.com/viant/mcpserver/stream"
)

// Server is the transport-independent protocol core.
type Server struct {
	options  *Options
	registry *Registry
	broker   *Broker
	streams  stream.Manager
	logger   jsonrpc.Logger
	metrics  *Metrics
	handler  Handler
}

// New creates a server with the supplied options.
func New(options ...Option) *Server {
	opts := newOptions(options...)
	ret := &Server{
		options:  opts,
		registry: NewRegistry(),
		streams:  opts.streamManager,
		logger:   opts.logger,
	}
	if opts.registerer != nil {
		ret.metrics = NewMetrics(opts.registerer)
	}
	ret.broker = NewBroker(opts.sessionStore, opts.streamManager, opts.idleTimeout, opts.logger, ret.metrics)
	ret.handler = chain(ret.dispatch, opts.middleware)
	ret.registry.onListChanged = ret.broadcast
	return ret
}

// Registry returns the tool, resource and prompt registry.
func (s *Server) Registry() *Registry { return s.registry }

// Broker returns the session broker.
func (s *Server) Broker() *Broker { return s.broker }

// Notify publishes a server-to-client notification on the session stream and
// returns its delivery cursor.
func (s *Server) Notify(ctx context.Context, sessionID string, method string, params any) (uint64, error) {
	notification, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(notification)
	if err != nil {
		return 0, err
	}
	return s.publish(ctx, sessionID, data)
}

// Subscribe attaches to the session outbound stream after validating the
// session id. Events with cursor greater than fromCursor are delivered in
// order, replayed first, then live.
func (s *Server) Subscribe(ctx context.Context, sessionID string, fromCursor uint64) (*stream.Subscription, error) {
	if _, err := s.broker.Lookup(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.streams.Subscribe(ctx, sessionID, fromCursor)
}

// Acknowledge trims the session stream up to an acknowledged cursor.
func (s *Server) Acknowledge(ctx context.Context, sessionID string, cursor uint64) error {
	return s.streams.Trim(ctx, sessionID, cursor)
}

// Terminate ends the session; terminating an unknown session is a no-op.
func (s *Server) Terminate(ctx context.Context, sessionID string) {
	s.broker.Terminate(ctx, sessionID)
}

// Close stops background workers. Sessions remain in the store for other
// nodes to resume.
func (s *Server) Close() {
	s.broker.Stop()
}

func (s *Server) publish(ctx context.Context, sessionID string, payload []byte) (uint64, error) {
	cursor, err := s.streams.Publish(ctx, sessionID, payload)
	if err != nil {
		return 0, err
	}
	s.metrics.streamPublished()
	return cursor, nil
}

// broadcast delivers a list-changed notification to every Ready session on
// this node.
func (s *Server) broadcast(method string) {
	notification, err := jsonrpc.NewNotification(method, nil)
	if err != nil {
		return
	}
	data, err := json.Marshal(notification)
	if err != nil {
		return
	}
	ctx := context.Background()
	for _, session := range s.broker.Active() {
		if session.State() != StateReady {
			continue
		}
		if _, err := s.publish(ctx, session.ID(), data); err != nil {
			s.logger.Errorf("session %s: %s broadcast failed: %v", session.ID(), method, err)
		}
	}
}
