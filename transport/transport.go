// Package transport defines the contracts shared by server and client transports.
package transport

import (
	"context"

	"github.com/viant/mcpserver/jsonrpc"
)

// Notifier represents a notification sender.
type Notifier interface {
	Notify(ctx context.Context, notification *jsonrpc.Notification) error
}

// Transport sends messages to the remote peer.
type Transport interface {
	Notifier

	// Send issues a request to the peer and waits for the matching response.
	Send(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error)
}

// Sequencer allocates request ids for one direction of a session.
type Sequencer interface {
	NextRequestID() jsonrpc.RequestId

	// LastRequestID returns the most recently generated request id without
	// mutating the underlying sequence counter.
	LastRequestID() jsonrpc.RequestId
}
