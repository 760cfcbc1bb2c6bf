package server

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/viant/mcpserver/jsonrpc"
)

// RateLimit returns middleware enforcing a per-session token bucket; messages
// above the limit are rejected with a 429. Messages arriving before a session
// exists (initialize) share a single bucket keyed by empty id.
func RateLimit(limit rate.Limit, burst int) Middleware {
	var mux sync.Mutex
	limiters := map[string]*rate.Limiter{}
	limiterFor := func(id string) *rate.Limiter {
		mux.Lock()
		defer mux.Unlock()
		limiter, ok := limiters[id]
		if !ok {
			limiter = rate.NewLimiter(limit, burst)
			limiters[id] = limiter
		}
		return limiter
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, session *Session, message *jsonrpc.Message) (*jsonrpc.Response, error) {
			id := ""
			if session != nil {
				id = session.ID()
			}
			if !limiterFor(id).Allow() {
				return nil, jsonrpc.NewRateLimitedError("session message rate exceeded")
			}
			return next(ctx, session, message)
		}
	}
}
