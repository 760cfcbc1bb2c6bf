package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/viant/mcpserver/jsonrpc"
	"github.com/viant/mcpserver/schema"
	"github.com/viant/mcpserver/store"
	"github.com/viant/mcpserver/stream"
)

// Options holds server configuration.
type Options struct {
	info             schema.Implementation
	instructions     string
	protocolVersions []string
	idleTimeout      time.Duration
	outboundTimeout  time.Duration
	sessionStore     store.Store
	streamManager    stream.Manager
	middleware       []Middleware
	logger           jsonrpc.Logger
	registerer       prometheus.Registerer
}

// Option mutates server Options.
type Option func(*Options)

func newOptions(options ...Option) *Options {
	ret := &Options{
		info:             schema.Implementation{Name: "mcpserver", Version: "0.1.0"},
		protocolVersions: schema.SupportedVersions,
		idleTimeout:      30 * time.Minute,
		outboundTimeout:  60 * time.Second,
		logger:           jsonrpc.DefaultLogger,
	}
	for _, option := range options {
		option(ret)
	}
	if ret.sessionStore == nil {
		ret.sessionStore = store.NewMemoryStore()
	}
	if ret.streamManager == nil {
		ret.streamManager = stream.NewMemoryManager()
	}
	return ret
}

// WithImplementation sets the server name and version advertised on initialize.
func WithImplementation(name, version string) Option {
	return func(o *Options) {
		o.info = schema.Implementation{Name: name, Version: version}
	}
}

// WithInstructions sets the instructions string returned on initialize.
func WithInstructions(instructions string) Option {
	return func(o *Options) {
		o.instructions = instructions
	}
}

// WithProtocolVersions restricts the protocol versions the server accepts.
func WithProtocolVersions(versions ...string) Option {
	return func(o *Options) {
		o.protocolVersions = versions
	}
}

// WithIdleTimeout sets how long a session may stay inactive before the
// sweeper terminates it.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.idleTimeout = timeout
	}
}

// WithOutboundTimeout bounds how long server-to-client requests wait for a
// response.
func WithOutboundTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.outboundTimeout = timeout
	}
}

// WithSessionStore sets the session state store.
func WithSessionStore(sessions store.Store) Option {
	return func(o *Options) {
		o.sessionStore = sessions
	}
}

// WithStreamManager sets the outbound stream manager.
func WithStreamManager(streams stream.Manager) Option {
	return func(o *Options) {
		o.streamManager = streams
	}
}

// WithMiddleware appends dispatch middleware, first registered outermost.
func WithMiddleware(middleware ...Middleware) Option {
	return func(o *Options) {
		o.middleware = append(o.middleware, middleware...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger jsonrpc.Logger) Option {
	return func(o *Options) {
		o.logger = logger
	}
}

// WithMetrics registers prometheus instruments with the supplied registerer.
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(o *Options) {
		o.registerer = registerer
	}
}
