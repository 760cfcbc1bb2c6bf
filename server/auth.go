package server

import (
	"context"
	"time"

	"github.com/viant/mcpserver/auth"
	"github.com/viant/mcpserver/jsonrpc"
)

// BearerAuth returns middleware verifying the bearer credential of every
// inbound message against the grant store. On success the grant subject and
// scopes are recorded in the session user context and the grant idle expiry
// slides forward; otherwise dispatch stops with a 401.
func BearerAuth(grants auth.Store) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, session *Session, message *jsonrpc.Message) (*jsonrpc.Response, error) {
			token := AuthorizationFrom(ctx)
			if token == "" {
				return nil, jsonrpc.NewUnauthorizedError("missing bearer token")
			}
			grant, err := grants.Get(ctx, token)
			if err != nil {
				if err == auth.ErrNotFound {
					return nil, jsonrpc.NewUnauthorizedError("invalid or expired bearer token")
				}
				return nil, err
			}
			if session != nil {
				session.User().SetPrincipal(grant.Subject)
				session.User().Set("scopes", grant.Scopes)
			}
			_ = grants.Touch(ctx, token, time.Now())
			return next(ctx, session, message)
		}
	}
}
