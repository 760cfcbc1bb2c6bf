package streamable

import (
	"time"

	"github.com/viant/mcpserver/jsonrpc"
)

// Options configures the streamable HTTP handler.
type Options struct {
	// URI is the mount path suffix; empty serves every path.
	URI string
	// SessionLocation describes where the session id travels; default header Mcp-Session-Id.
	SessionLocation *Location
	// HeartbeatInterval spaces SSE comment frames on idle streams.
	HeartbeatInterval time.Duration
	// AllowedOrigins lists origins allowed with credentials.
	AllowedOrigins []string
	// AllowCredentials switches CORS to the allow-list above.
	AllowCredentials bool
	// AllowSameTopDomain additionally allows origins sharing the request eTLD+1.
	AllowSameTopDomain bool
	Logger             jsonrpc.Logger
}

// Option mutates handler Options.
type Option func(*Options)

// WithURI sets the mount path suffix.
func WithURI(uri string) Option {
	return func(o *Options) { o.URI = uri }
}

// WithSessionLocation overrides where the session id travels.
func WithSessionLocation(location *Location) Option {
	return func(o *Options) { o.SessionLocation = location }
}

// WithHeartbeatInterval sets the idle SSE heartbeat cadence.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(o *Options) { o.HeartbeatInterval = interval }
}

// WithAllowedOrigins enables credentialed CORS for the listed origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(o *Options) {
		o.AllowedOrigins = origins
		o.AllowCredentials = true
	}
}

// WithSameTopDomainOrigins allows credentialed requests from any origin that
// shares the request's registrable domain.
func WithSameTopDomainOrigins() Option {
	return func(o *Options) {
		o.AllowSameTopDomain = true
		o.AllowCredentials = true
	}
}

// WithLogger sets the logger.
func WithLogger(logger jsonrpc.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}
