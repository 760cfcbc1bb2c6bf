// Package store abstracts session state persistence. Values are opaque byte
// strings preserved verbatim; the default implementation is in-memory and a
// Redis implementation supports multi-node deployments.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no value exists for the given session id.
var ErrNotFound = errors.New("session state not found")

// Store persists opaque session state keyed by session id.
// Implementations must guarantee read-your-writes for a single key.
type Store interface {
	// Get retrieves the state stored under id; ErrNotFound when missing or expired.
	Get(ctx context.Context, id string) ([]byte, error)

	// Put stores state under id with the supplied TTL; ttl <= 0 means no expiry.
	Put(ctx context.Context, id string, state []byte, ttl time.Duration) error

	// Delete removes the state stored under id; deleting a missing id is a no-op.
	Delete(ctx context.Context, id string) error
}
