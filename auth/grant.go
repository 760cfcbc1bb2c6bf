// Package auth provides a durable store of bearer-token grants used by the
// authentication middleware. Tokens are opaque ids referencing server-held
// grants, so credentials are never interpreted by the protocol core.
package auth

import (
	"time"

	"github.com/google/uuid"
)

// Grant represents an authenticated principal referenced by an opaque token.
type Grant struct {
	// Token is the opaque identifier presented as a bearer credential.
	Token string

	// Subject identifies the authenticated principal (e.g. user id or account id).
	Subject string
	// Scopes or roles associated with this grant (optional).
	Scopes []string

	// CreatedAt is when the grant was issued.
	CreatedAt time.Time
	// LastUsedAt is updated on use (for sliding TTL logic).
	LastUsedAt time.Time
	// ExpiresAt is the idle expiration time (sliding TTL).
	ExpiresAt time.Time
	// MaxExpiresAt is the absolute expiration cap.
	MaxExpiresAt time.Time

	// Meta carries arbitrary implementer metadata (optional).
	Meta map[string]string
}

// NewGrant creates a new Grant with a generated token and timestamps.
func NewGrant(subject string, scopes ...string) *Grant {
	now := time.Now()
	return &Grant{
		Token:      uuid.New().String(),
		Subject:    subject,
		Scopes:     scopes,
		CreatedAt:  now,
		LastUsedAt: now,
	}
}

// HasScope returns true when the grant carries the named scope.
func (g *Grant) HasScope(scope string) bool {
	for _, candidate := range g.Scopes {
		if candidate == scope {
			return true
		}
	}
	return false
}

func (g *Grant) expired(now time.Time) bool {
	if !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt) {
		return true
	}
	return !g.MaxExpiresAt.IsZero() && now.After(g.MaxExpiresAt)
}

func clone(g *Grant) *Grant {
	if g == nil {
		return nil
	}
	dup := *g
	if g.Scopes != nil {
		dup.Scopes = append([]string(nil), g.Scopes...)
	}
	if g.Meta != nil {
		dup.Meta = map[string]string{}
		for k, v := range g.Meta {
			dup.Meta[k] = v
		}
	}
	return &dup
}
