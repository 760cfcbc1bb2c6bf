package server

import (
	"context"

	"github.com/viant/mcpserver/jsonrpc"
)

// Handler processes one decoded inbound message for a session. A returned
// *jsonrpc.Error becomes the protocol-level error response; a returned
// *jsonrpc.StatusError is rejected at the transport layer with its HTTP
// status.
type Handler func(ctx context.Context, session *Session, message *jsonrpc.Message) (*jsonrpc.Response, error)

// Middleware wraps a Handler; returning an error short-circuits dispatch.
type Middleware func(next Handler) Handler

// chain composes middleware around handler, first registered outermost.
func chain(handler Handler, middleware []Middleware) Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}

type authorizationKey struct{}

// WithAuthorization attaches the bearer credential extracted by the transport
// so authentication middleware can verify it.
func WithAuthorization(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, authorizationKey{}, token)
}

// AuthorizationFrom returns the bearer credential attached by the transport.
func AuthorizationFrom(ctx context.Context) string {
	token, _ := ctx.Value(authorizationKey{}).(string)
	return token
}
