package streamable

import (
	"net/http"

	"github.com/viant/mcpserver/jsonrpc"
)

// Option mutates a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithBearerToken attaches a bearer credential to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.bearerToken = token }
}

// WithRequestHandler installs the handler answering server-to-client requests
// (sampling, elicitation, roots).
func WithRequestHandler(handler RequestHandler) Option {
	return func(c *Client) { c.onRequest = handler }
}

// WithNotificationHandler installs the observer for server-to-client
// notifications.
func WithNotificationHandler(handler NotificationHandler) Option {
	return func(c *Client) { c.onNotification = handler }
}

// WithLogger sets the logger.
func WithLogger(logger jsonrpc.Logger) Option {
	return func(c *Client) { c.logger = logger }
}
