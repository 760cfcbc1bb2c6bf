// Package streamable implements the client side of the streamable HTTP
// transport: POST for requests and notifications, a long-lived GET SSE stream
// for server-to-client traffic with Last-Event-ID resume, DELETE for session
// termination.
package streamable

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viant/afs/url"
	"github.com/viant/mcpserver/jsonrpc"
	"github.com/viant/mcpserver/schema"
	"github.com/viant/mcpserver/transport"
)

var _ transport.Transport = (*Client)(nil)

const (
	sessionHeader     = "Mcp-Session-Id"
	lastEventIDHeader = "Last-Event-ID"
	sseMime           = "text/event-stream"
)

// RequestHandler answers a server-to-client request; a nil response is
// translated into a MethodNotFound error.
type RequestHandler func(ctx context.Context, request *jsonrpc.Request) *jsonrpc.Response

// NotificationHandler observes server-to-client notifications.
type NotificationHandler func(ctx context.Context, notification *jsonrpc.Notification)

// Client is a streamable HTTP protocol client.
type Client struct {
	endpointURL string
	httpClient  *http.Client
	logger      jsonrpc.Logger
	bearerToken string

	onRequest      RequestHandler
	onNotification NotificationHandler

	mux       sync.RWMutex
	sessionID string

	requestSeq  uint64
	lastEventID uint64

	streamMux    sync.Mutex
	streamActive bool
	streamCancel context.CancelFunc
	closed       atomic.Bool
}

// New creates a client for the given endpoint; a missing scheme defaults to
// http.
func New(endpointURL string, options ...Option) *Client {
	ret := &Client{
		endpointURL: url.Normalize(endpointURL, "http"),
		httpClient:  http.DefaultClient,
		logger:      jsonrpc.DefaultLogger,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// SessionID returns the negotiated session id, or "" before Initialize.
func (c *Client) SessionID() string {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.sessionID
}

// Initialize performs the handshake: POST initialize, record the session id,
// send notifications/initialized and open the event stream.
func (c *Client) Initialize(ctx context.Context, params *schema.InitializeParams) (*schema.InitializeResult, error) {
	request, err := jsonrpc.NewRequest(schema.MethodInitialize, params)
	if err != nil {
		return nil, err
	}
	request.Id = c.nextRequestID()
	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	body, header, err := c.post(ctx, data)
	if err != nil {
		return nil, err
	}
	sessionID := header.Get(sessionHeader)
	if sessionID == "" {
		return nil, fmt.Errorf("handshake response missing %s header", sessionHeader)
	}
	c.mux.Lock()
	c.sessionID = sessionID
	c.mux.Unlock()

	response := &jsonrpc.Response{}
	if err := json.Unmarshal(body, response); err != nil {
		return nil, err
	}
	if response.Error != nil {
		return nil, response.Error
	}
	result := &schema.InitializeResult{}
	if err := json.Unmarshal(response.Result, result); err != nil {
		return nil, err
	}
	initialized, err := jsonrpc.NewNotification(schema.MethodInitialized, nil)
	if err != nil {
		return nil, err
	}
	if err := c.Notify(ctx, initialized); err != nil {
		return nil, err
	}
	c.ensureStream()
	return result, nil
}

// Send posts a request and returns its synchronous response. A zero id is
// assigned from the client sequence.
func (c *Client) Send(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error) {
	if request.Id == nil {
		request.Id = c.nextRequestID()
	}
	if request.Jsonrpc == "" {
		request.Jsonrpc = jsonrpc.Version
	}
	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	body, _, err := c.post(ctx, data)
	if err != nil {
		return nil, err
	}
	response := &jsonrpc.Response{}
	if err := json.Unmarshal(body, response); err != nil {
		return nil, err
	}
	return response, nil
}

// Notify posts a notification; the server acknowledges with 202. A rejected
// notification comes back as a JSON-RPC error body and surfaces as an error.
func (c *Client) Notify(ctx context.Context, notification *jsonrpc.Notification) error {
	if notification.Jsonrpc == "" {
		notification.Jsonrpc = jsonrpc.Version
	}
	data, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	body, _, err := c.post(ctx, data)
	if err != nil {
		return err
	}
	if len(body) > 0 {
		response := &jsonrpc.Response{}
		if err := json.Unmarshal(body, response); err != nil {
			return err
		}
		if response.Error != nil {
			return response.Error
		}
	}
	return nil
}

// Terminate deletes the session on the server and stops the event stream.
func (c *Client) Terminate(ctx context.Context) error {
	defer c.Close()
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpointURL, nil)
	if err != nil {
		return err
	}
	c.decorate(request)
	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	_ = response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return &jsonrpc.StatusError{StatusCode: response.StatusCode, Message: "terminate failed"}
	}
	return nil
}

// Close stops the background event stream.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.streamMux.Lock()
	if c.streamCancel != nil {
		c.streamCancel()
	}
	c.streamMux.Unlock()
}

func (c *Client) nextRequestID() jsonrpc.RequestId {
	return int(atomic.AddUint64(&c.requestSeq, 1))
}

func (c *Client) decorate(request *http.Request) {
	if sessionID := c.SessionID(); sessionID != "" {
		request.Header.Set(sessionHeader, sessionID)
	}
	if c.bearerToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
}

// post delivers one JSON-RPC payload, returning the response body (empty for
// 202) and headers.
func (c *Client) post(ctx context.Context, payload []byte) ([]byte, http.Header, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	c.decorate(request)
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, nil, err
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, nil, err
	}
	switch response.StatusCode {
	case http.StatusOK, http.StatusBadRequest:
		// 400 still carries a JSON-RPC error response body
		return body, response.Header, nil
	case http.StatusAccepted:
		return nil, response.Header, nil
	default:
		return nil, response.Header, &jsonrpc.StatusError{StatusCode: response.StatusCode, Message: string(bytes.TrimSpace(body))}
	}
}

// ensureStream starts the background GET stream reconnect loop once.
func (c *Client) ensureStream() {
	c.streamMux.Lock()
	defer c.streamMux.Unlock()
	if c.streamActive {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.streamActive = true
	c.streamCancel = cancel
	go c.runStream(ctx)
}

// runStream keeps the GET SSE stream open, resuming after the last seen event
// id with capped exponential backoff between attempts.
func (c *Client) runStream(ctx context.Context) {
	delay := 200 * time.Millisecond
	const maxDelay = 10 * time.Second
	for ctx.Err() == nil {
		err := c.consumeStream(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Debugf("event stream interrupted: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if delay < maxDelay {
				delay *= 2
				if delay > maxDelay {
					delay = maxDelay
				}
			}
			continue
		}
		delay = 200 * time.Millisecond
	}
}

func (c *Client) consumeStream(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpointURL, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", sseMime)
	c.decorate(request)
	if last := atomic.LoadUint64(&c.lastEventID); last > 0 {
		request.Header.Set(lastEventIDHeader, strconv.FormatUint(last, 10))
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("stream invalid status: %d", response.StatusCode)
	}
	reader := bufio.NewReader(response.Body)
	for {
		event, err := readSSE(ctx, reader)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if event.ID != "" {
			if value, err := strconv.ParseUint(event.ID, 10, 64); err == nil {
				atomic.StoreUint64(&c.lastEventID, value)
			}
		}
		if event.Event != "message" || event.Data == "" {
			continue
		}
		c.handleEvent(ctx, []byte(event.Data))
	}
}

// handleEvent dispatches one server-to-client message from the stream.
func (c *Client) handleEvent(ctx context.Context, data []byte) {
	message, err := jsonrpc.Parse(data)
	if err != nil {
		c.logger.Errorf("malformed stream message: %v", err)
		return
	}
	switch message.Type {
	case jsonrpc.MessageTypeRequest:
		go c.answer(ctx, message.Request)
	case jsonrpc.MessageTypeNotification:
		if c.onNotification != nil {
			c.onNotification(ctx, message.Notification)
		}
	default:
		c.logger.Debugf("ignoring stream response id %v", message.Response.Id)
	}
}

// answer runs the request handler and posts its response back to the server.
func (c *Client) answer(ctx context.Context, request *jsonrpc.Request) {
	var response *jsonrpc.Response
	if c.onRequest != nil {
		response = c.onRequest(ctx, request)
	}
	if response == nil {
		response = jsonrpc.NewErrorResponse(request.Id, jsonrpc.NewMethodNotFound(request.Method))
	}
	data, err := json.Marshal(response)
	if err != nil {
		c.logger.Errorf("response marshalling failed: %v", err)
		return
	}
	if _, _, err := c.post(ctx, data); err != nil {
		c.logger.Errorf("response delivery failed: %v", err)
	}
}
