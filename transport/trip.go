package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/viant/mcpserver/jsonrpc"
)

// RoundTrip represents a pending request and its eventual outcome.
type RoundTrip struct {
	Request  *jsonrpc.Request
	Response *jsonrpc.Response
	err      error
	done     chan struct{}
	once     sync.Once
}

// NewRoundTrip creates a new round trip
func NewRoundTrip(request *jsonrpc.Request) *RoundTrip {
	return &RoundTrip{
		Request: request,
		done:    make(chan struct{}),
	}
}

// Wait waits for the trip to finish
func (t *RoundTrip) Wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return jsonrpc.NewRequestTimeout(fmt.Sprintf("request %v timed out after %s", t.Request.Id, timeout))
	case <-t.done:
		return t.err
	}
}

// SetError sets the error
func (t *RoundTrip) SetError(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// SetResponse sets the response
func (t *RoundTrip) SetResponse(response *jsonrpc.Response) {
	t.once.Do(func() {
		t.Response = response
		close(t.done)
	})
}

// RoundTrips is a session-scoped arena of pending round trips indexed by
// request id. Callers hold only the id; entries are removed exactly once by
// response, failure or CloseWithError.
type RoundTrips struct {
	mux     sync.Mutex
	pending map[string]*RoundTrip
	err     error
}

// NewRoundTrips creates a new round trip arena.
func NewRoundTrips() *RoundTrips {
	return &RoundTrips{pending: make(map[string]*RoundTrip)}
}

// Add registers a new pending trip keyed by the request id.
func (r *RoundTrips) Add(request *jsonrpc.Request) (*RoundTrip, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	key := idKey(request.Id)
	if _, ok := r.pending[key]; ok {
		return nil, fmt.Errorf("duplicate request id: %v", request.Id)
	}
	trip := NewRoundTrip(request)
	r.pending[key] = trip
	return trip, nil
}

// Match removes and returns the trip registered under id.
func (r *RoundTrips) Match(id jsonrpc.RequestId) (*RoundTrip, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	key := idKey(id)
	trip, ok := r.pending[key]
	if !ok {
		return nil, fmt.Errorf("no pending request with id: %v", id)
	}
	delete(r.pending, key)
	return trip, nil
}

// Remove discards the trip registered under id, if any.
func (r *RoundTrips) Remove(id jsonrpc.RequestId) {
	r.mux.Lock()
	delete(r.pending, idKey(id))
	r.mux.Unlock()
}

// Size returns the number of pending trips.
func (r *RoundTrips) Size() int {
	r.mux.Lock()
	defer r.mux.Unlock()
	return len(r.pending)
}

// CloseWithError fails all pending trips and rejects subsequent use.
func (r *RoundTrips) CloseWithError(err error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.err = err
	for key, trip := range r.pending {
		trip.SetError(err)
		delete(r.pending, key)
	}
}

// idKey normalizes a request id so that json round-trips (which decode
// numbers as float64) still match the originally issued id.
func idKey(id jsonrpc.RequestId) string {
	switch actual := id.(type) {
	case string:
		return "s:" + actual
	case int:
		return fmt.Sprintf("n:%d", actual)
	case int32:
		return fmt.Sprintf("n:%d", actual)
	case int64:
		return fmt.Sprintf("n:%d", actual)
	case uint64:
		return fmt.Sprintf("n:%d", actual)
	case float32:
		return fmt.Sprintf("n:%d", int64(actual))
	case float64:
		return fmt.Sprintf("n:%d", int64(actual))
	default:
		return fmt.Sprintf("v:%v", actual)
	}
}
