package auth

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no grant was found for the given token.
var ErrNotFound = errors.New("auth grant not found")

// Store defines the contract for a durable bearer-token grant store.
// Implementations should be safe for concurrent use and resilient across
// restarts; a Redis-based implementation is recommended for production.
type Store interface {
	// Put inserts or updates a grant. Implementations may enforce TTLs based on grant fields.
	Put(ctx context.Context, g *Grant) error

	// Get retrieves a grant by token. Returns ErrNotFound when missing or expired.
	Get(ctx context.Context, token string) (*Grant, error)

	// Touch updates last-used timestamp and extends idle expiry (sliding TTL).
	Touch(ctx context.Context, token string, at time.Time) error

	// Revoke deletes a specific token immediately.
	Revoke(ctx context.Context, token string) error

	// RevokeSubject deletes all grants issued to the same subject.
	RevokeSubject(ctx context.Context, subject string) error
}
