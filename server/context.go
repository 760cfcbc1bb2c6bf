package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/viant/mcpserver/jsonrpc"
	"github.com/viant/mcpserver/schema"
)

// ErrContextInvalid indicates a handler Context was used after the handler
// returned.
var ErrContextInvalid = errors.New("handler context used after handler return")

// Context is the per-request facade handed to tool, resource and prompt
// handlers. It exposes the cancellation signal of the inbound request and
// the server-to-client operations (sampling, elicitation, roots, progress,
// logging). A Context is only valid for the duration of the handler call.
type Context struct {
	ctx           context.Context
	server        *Server
	session       *Session
	requestId     jsonrpc.RequestId
	progressToken any
	invalid       atomic.Bool
}

func newHandlerContext(ctx context.Context, server *Server, session *Session, request *jsonrpc.Request) *Context {
	return &Context{
		ctx:           ctx,
		server:        server,
		session:       session,
		requestId:     request.Id,
		progressToken: progressTokenOf(request.Params),
	}
}

// progressTokenOf extracts _meta.progressToken from request params.
func progressTokenOf(params json.RawMessage) any {
	if len(params) == 0 {
		return nil
	}
	holder := struct {
		Meta struct {
			ProgressToken any `json:"progressToken"`
		} `json:"_meta"`
	}{}
	if err := json.Unmarshal(params, &holder); err != nil {
		return nil
	}
	return holder.Meta.ProgressToken
}

// invalidate marks the context unusable once the handler returns.
func (c *Context) invalidate() {
	c.invalid.Store(true)
}

func (c *Context) check() error {
	if c.invalid.Load() {
		return ErrContextInvalid
	}
	return nil
}

// Context returns the cancellable request context; it is cancelled when the
// client sends notifications/cancelled for this request or the session
// terminates.
func (c *Context) Context() context.Context { return c.ctx }

// Done mirrors the request context cancellation signal.
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

// Err returns the cancellation cause once Done is closed.
func (c *Context) Err() error { return c.ctx.Err() }

// Session returns the session the request belongs to.
func (c *Context) Session() *Session { return c.session }

// User returns the session user context.
func (c *Context) User() *UserContext { return c.session.User() }

// RequestID returns the inbound request id.
func (c *Context) RequestID() jsonrpc.RequestId { return c.requestId }

// Sample sends a sampling/createMessage request to the client and waits for
// the result. Fails with CapabilityUnavailable when the client did not
// advertise sampling.
func (c *Context) Sample(params *schema.CreateMessageParams) (*schema.CreateMessageResult, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if c.session.ClientCapabilities().Sampling == nil {
		return nil, jsonrpc.NewCapabilityUnavailable("sampling")
	}
	result := &schema.CreateMessageResult{}
	if err := c.roundTrip(schema.MethodSamplingCreateMessage, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Elicit sends an elicitation/create request to the client and waits for the
// result. Fails with CapabilityUnavailable when the client did not advertise
// elicitation.
func (c *Context) Elicit(params *schema.ElicitParams) (*schema.ElicitResult, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if c.session.ClientCapabilities().Elicitation == nil {
		return nil, jsonrpc.NewCapabilityUnavailable("elicitation")
	}
	result := &schema.ElicitResult{}
	if err := c.roundTrip(schema.MethodElicitationCreate, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListRoots sends a roots/list request to the client and waits for the
// result. Fails with CapabilityUnavailable when the client did not advertise
// roots.
func (c *Context) ListRoots() (*schema.ListRootsResult, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if c.session.ClientCapabilities().Roots == nil {
		return nil, jsonrpc.NewCapabilityUnavailable("roots")
	}
	result := &schema.ListRootsResult{}
	if err := c.roundTrip(schema.MethodRootsList, struct{}{}, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ReportProgress publishes a progress notification correlated with the
// inbound request progress token. Requests without a token are a no-op.
func (c *Context) ReportProgress(progress float64, total *float64, message string) error {
	if err := c.check(); err != nil {
		return err
	}
	if c.progressToken == nil {
		return nil
	}
	return c.Notify(schema.MethodProgress, &schema.ProgressParams{
		ProgressToken: c.progressToken,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
}

// Log publishes a log notification to the client.
func (c *Context) Log(level schema.LoggingLevel, data any, logger string) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.Notify(schema.MethodLogMessage, &schema.LogMessageParams{Level: level, Logger: logger, Data: data})
}

// Notify publishes an arbitrary server-to-client notification on the session
// stream.
func (c *Context) Notify(method string, params any) error {
	if err := c.check(); err != nil {
		return err
	}
	_, err := c.server.Notify(c.ctx, c.session.ID(), method, params)
	return err
}

// roundTrip issues a server-to-client request over the session stream and
// blocks until the response arrives, the request times out or the inbound
// request is cancelled.
func (c *Context) roundTrip(method string, params any, result any) error {
	request, err := jsonrpc.NewRequest(method, params)
	if err != nil {
		return err
	}
	request.Id = c.session.NextRequestID()
	trip, err := c.session.pending.Add(request)
	if err != nil {
		return err
	}
	data, err := json.Marshal(request)
	if err != nil {
		c.session.pending.Remove(request.Id)
		return err
	}
	if _, err = c.server.publish(c.ctx, c.session.ID(), data); err != nil {
		c.session.pending.Remove(request.Id)
		return err
	}
	if err = trip.Wait(c.ctx, c.server.options.outboundTimeout); err != nil {
		c.session.pending.Remove(request.Id)
		c.server.metrics.roundTrip(method, "error")
		return err
	}
	response := trip.Response
	if response.Error != nil {
		c.server.metrics.roundTrip(method, "error")
		return response.Error
	}
	c.server.metrics.roundTrip(method, "ok")
	return json.Unmarshal(response.Result, result)
}
