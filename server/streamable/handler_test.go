package streamable

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/mcpserver/jsonrpc"
	"github.com/viant/mcpserver/schema"
	"github.com/viant/mcpserver/server"
	"github.com/viant/mcpserver/store"
	"github.com/viant/mcpserver/stream"
)

func newTestServer(t *testing.T, options ...server.Option) (*server.Server, *httptest.Server) {
	t.Helper()
	core := server.New(options...)
	t.Cleanup(core.Close)
	httpServer := httptest.NewServer(New(core, WithHeartbeatInterval(0)))
	t.Cleanup(httpServer.Close)
	return core, httpServer
}

func postMessage(t *testing.T, url, sessionID string, payload []byte) *http.Response {
	t.Helper()
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	require.Nil(t, err)
	request.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		request.Header.Set(defaultSessionHeader, sessionID)
	}
	response, err := http.DefaultClient.Do(request)
	require.Nil(t, err)
	return response
}

func requestPayload(t *testing.T, id int, method string, params any) []byte {
	t.Helper()
	request, err := jsonrpc.NewRequest(method, params)
	require.Nil(t, err)
	request.Id = id
	data, err := json.Marshal(request)
	require.Nil(t, err)
	return data
}

func notificationPayload(t *testing.T, method string, params any) []byte {
	t.Helper()
	notification, err := jsonrpc.NewNotification(method, params)
	require.Nil(t, err)
	data, err := json.Marshal(notification)
	require.Nil(t, err)
	return data
}

// handshake performs initialize plus initialized and returns the session id.
func handshake(t *testing.T, url string) string {
	t.Helper()
	payload := requestPayload(t, 1, schema.MethodInitialize, &schema.InitializeParams{
		ProtocolVersion: schema.Version20250618,
		ClientInfo:      schema.Implementation{Name: "http-test", Version: "1.0"},
	})
	response := postMessage(t, url, "", payload)
	defer response.Body.Close()
	require.Equal(t, http.StatusOK, response.StatusCode)
	sessionID := response.Header.Get(defaultSessionHeader)
	require.NotEmpty(t, sessionID)

	decoded := &jsonrpc.Response{}
	require.Nil(t, json.NewDecoder(response.Body).Decode(decoded))
	require.Nil(t, decoded.Error)

	accepted := postMessage(t, url, sessionID, notificationPayload(t, schema.MethodInitialized, nil))
	defer accepted.Body.Close()
	require.Equal(t, http.StatusAccepted, accepted.StatusCode)
	return sessionID
}

func TestHandler_HandshakeAndToolCall(t *testing.T) {
	core, httpServer := newTestServer(t)
	require.Nil(t, core.Registry().RegisterTool(schema.Tool{Name: "echo"}, func(hctx *server.Context, arguments json.RawMessage) (*schema.CallToolResult, error) {
		return schema.NewToolTextResult(string(arguments)), nil
	}))

	sessionID := handshake(t, httpServer.URL)

	response := postMessage(t, httpServer.URL, sessionID, requestPayload(t, 2, schema.MethodToolsCall, &schema.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"hi"}`),
	}))
	defer response.Body.Close()
	require.Equal(t, http.StatusOK, response.StatusCode)

	decoded := &jsonrpc.Response{}
	require.Nil(t, json.NewDecoder(response.Body).Decode(decoded))
	require.Nil(t, decoded.Error)
	result := &schema.CallToolResult{}
	require.Nil(t, json.Unmarshal(decoded.Result, result))
	assert.Contains(t, result.Content[0].Text, "hi")
}

func TestHandler_MissingSession(t *testing.T) {
	_, httpServer := newTestServer(t)

	response := postMessage(t, httpServer.URL, "unknown-session", requestPayload(t, 1, schema.MethodPing, nil))
	defer response.Body.Close()
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
}

func TestHandler_MalformedPayload(t *testing.T) {
	_, httpServer := newTestServer(t)

	response := postMessage(t, httpServer.URL, "", []byte("{broken"))
	defer response.Body.Close()
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	decoded := &jsonrpc.Response{}
	require.Nil(t, json.NewDecoder(response.Body).Decode(decoded))
	require.NotNil(t, decoded.Error)
	assert.Equal(t, jsonrpc.ParseError, decoded.Error.Code)
}

func TestHandler_Delete(t *testing.T) {
	_, httpServer := newTestServer(t)
	sessionID := handshake(t, httpServer.URL)

	request, err := http.NewRequest(http.MethodDelete, httpServer.URL, nil)
	require.Nil(t, err)
	request.Header.Set(defaultSessionHeader, sessionID)
	response, err := http.DefaultClient.Do(request)
	require.Nil(t, err)
	response.Body.Close()
	assert.Equal(t, http.StatusOK, response.StatusCode)

	after := postMessage(t, httpServer.URL, sessionID, requestPayload(t, 2, schema.MethodPing, nil))
	defer after.Body.Close()
	assert.Equal(t, http.StatusNotFound, after.StatusCode)
}

type sseEvent struct {
	id   string
	data string
}

// openStream issues a GET SSE request and returns a channel of parsed events.
func openStream(t *testing.T, ctx context.Context, url, sessionID, lastEventID string) (<-chan sseEvent, *http.Response) {
	t.Helper()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.Nil(t, err)
	request.Header.Set("Accept", sseMime)
	request.Header.Set(defaultSessionHeader, sessionID)
	if lastEventID != "" {
		request.Header.Set(lastEventIDHeader, lastEventID)
	}
	response, err := http.DefaultClient.Do(request)
	require.Nil(t, err)
	events := make(chan sseEvent, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(response.Body)
		current := sseEvent{}
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "id: "):
				current.id = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "data: "):
				current.data = strings.TrimPrefix(line, "data: ")
			case line == "" && current.data != "":
				events <- current
				current = sseEvent{}
			}
		}
	}()
	return events, response
}

func collectEvents(t *testing.T, events <-chan sseEvent, n int) []sseEvent {
	t.Helper()
	ret := make([]sseEvent, 0, n)
	timeout := time.After(3 * time.Second)
	for len(ret) < n {
		select {
		case event, ok := <-events:
			if !ok {
				t.Fatalf("stream closed after %d of %d events", len(ret), n)
			}
			ret = append(ret, event)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(ret), n)
		}
	}
	return ret
}

func TestHandler_StreamResume(t *testing.T) {
	core, httpServer := newTestServer(t)
	sessionID := handshake(t, httpServer.URL)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, err := core.Notify(ctx, sessionID, "custom/progress", map[string]int{"step": i})
		require.Nil(t, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, response := openStream(t, streamCtx, httpServer.URL, sessionID, "1")
	defer response.Body.Close()

	got := collectEvents(t, events, 2)
	assert.Equal(t, "2", got[0].id, "resume strictly after the acknowledged cursor")
	assert.Contains(t, got[0].data, `"step":2`)
	assert.Equal(t, "3", got[1].id)

	// live publish continues on the same connection
	_, err := core.Notify(ctx, sessionID, "custom/progress", map[string]int{"step": 4})
	require.Nil(t, err)
	live := collectEvents(t, events, 1)
	assert.Equal(t, "4", live[0].id)
}

func TestHandler_StreamReplayGone(t *testing.T) {
	core := server.New(server.WithStreamManager(stream.NewMemoryManager(stream.WithMaxLen(2))))
	defer core.Close()
	httpServer := httptest.NewServer(New(core, WithHeartbeatInterval(0)))
	defer httpServer.Close()
	sessionID := handshake(t, httpServer.URL)

	ctx := context.Background()
	for i := 1; i <= 6; i++ {
		_, err := core.Notify(ctx, sessionID, "custom/progress", map[string]int{"step": i})
		require.Nil(t, err)
	}

	request, err := http.NewRequest(http.MethodGet, httpServer.URL, nil)
	require.Nil(t, err)
	request.Header.Set("Accept", sseMime)
	request.Header.Set(defaultSessionHeader, sessionID)
	request.Header.Set(lastEventIDHeader, "1")
	response, err := http.DefaultClient.Do(request)
	require.Nil(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
	body, _ := io.ReadAll(response.Body)
	assert.Contains(t, string(body), "replay window")
}

// TestHandler_DistributedNotification drives two nodes over one Redis: a
// session created on node A receives a notification published on node B.
func TestHandler_DistributedNotification(t *testing.T) {
	srv := miniredis.RunT(t)
	newNode := func() (*server.Server, *httptest.Server) {
		rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		core := server.New(
			server.WithSessionStore(store.NewRedisStore(rdb)),
			server.WithStreamManager(stream.NewRedisManager(rdb)),
		)
		t.Cleanup(core.Close)
		httpServer := httptest.NewServer(New(core, WithHeartbeatInterval(0)))
		t.Cleanup(httpServer.Close)
		return core, httpServer
	}
	_, nodeA := newNode()
	coreB, _ := newNode()

	sessionID := handshake(t, nodeA.URL)

	streamCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, response := openStream(t, streamCtx, nodeA.URL, sessionID, "")
	defer response.Body.Close()

	// the other node publishes through the shared Redis log
	_, err := coreB.Notify(context.Background(), sessionID, "custom/test", map[string]string{"origin": "node-b"})
	require.Nil(t, err)

	got := collectEvents(t, events, 1)
	assert.Contains(t, got[0].data, "custom/test")
	assert.Contains(t, got[0].data, "node-b")
}

func TestHandler_Heartbeat(t *testing.T) {
	core := server.New()
	defer core.Close()
	httpServer := httptest.NewServer(New(core, WithHeartbeatInterval(30*time.Millisecond)))
	defer httpServer.Close()
	sessionID := handshake(t, httpServer.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL, nil)
	require.Nil(t, err)
	request.Header.Set("Accept", sseMime)
	request.Header.Set(defaultSessionHeader, sessionID)
	response, err := http.DefaultClient.Do(request)
	require.Nil(t, err)
	defer response.Body.Close()

	reader := bufio.NewReader(response.Body)
	line, err := reader.ReadString('\n')
	require.Nil(t, err)
	assert.Equal(t, ": ping", strings.TrimRight(line, "\n"))
}

// TestHandler_StreamOpensWithoutTraffic verifies a GET with nothing buffered
// returns its response head immediately instead of holding the client until
// the first event or heartbeat.
func TestHandler_StreamOpensWithoutTraffic(t *testing.T) {
	_, httpServer := newTestServer(t)
	sessionID := handshake(t, httpServer.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL, nil)
	require.Nil(t, err)
	request.Header.Set("Accept", sseMime)
	request.Header.Set(defaultSessionHeader, sessionID)
	response, err := http.DefaultClient.Do(request)
	require.Nil(t, err, "response head must arrive before any event is published")
	defer response.Body.Close()
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, sseMime, response.Header.Get("Content-Type"))
}

func TestHandler_OptionsPreflight(t *testing.T) {
	_, httpServer := newTestServer(t)

	request, err := http.NewRequest(http.MethodOptions, httpServer.URL, nil)
	require.Nil(t, err)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", "POST")
	response, err := http.DefaultClient.Do(request)
	require.Nil(t, err)
	response.Body.Close()
	assert.Equal(t, http.StatusNoContent, response.StatusCode)
	assert.Equal(t, "*", response.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST", response.Header.Get("Access-Control-Allow-Methods"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, statusFor(jsonrpc.NewResponse(1, []byte("{}"))))
	assert.Equal(t, http.StatusOK, statusFor(jsonrpc.NewErrorResponse(1, jsonrpc.NewMethodNotFound("x"))))
	assert.Equal(t, http.StatusBadRequest, statusFor(jsonrpc.NewErrorResponse(nil, jsonrpc.NewParsingError("bad", nil))))
	assert.Equal(t, http.StatusBadRequest, statusFor(jsonrpc.NewErrorResponse(nil, jsonrpc.NewInvalidRequest("bad", nil))))
}

func TestTopDomain(t *testing.T) {
	testCases := []struct {
		host   string
		expect string
	}{
		{host: "app.example.com", expect: "example.com"},
		{host: "deep.app.example.co.uk", expect: "example.co.uk"},
		{host: "localhost", expect: ""},
		{host: "127.0.0.1", expect: ""},
	}
	for _, testCase := range testCases {
		got, _ := TopDomain(testCase.host)
		assert.Equal(t, testCase.expect, got, fmt.Sprintf("host %s", testCase.host))
	}
}
