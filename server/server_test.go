package server

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/viant/mcpserver/auth"
	"github.com/viant/mcpserver/jsonrpc"
	"github.com/viant/mcpserver/schema"
)

func marshalRequest(t *testing.T, id jsonrpc.RequestId, method string, params any) []byte {
	t.Helper()
	request, err := jsonrpc.NewRequest(method, params)
	require.Nil(t, err)
	request.Id = id
	data, err := json.Marshal(request)
	require.Nil(t, err)
	return data
}

func marshalNotification(t *testing.T, method string, params any) []byte {
	t.Helper()
	notification, err := jsonrpc.NewNotification(method, params)
	require.Nil(t, err)
	data, err := json.Marshal(notification)
	require.Nil(t, err)
	return data
}

// initSession performs the full handshake and returns a Ready session.
func initSession(t *testing.T, srv *Server, capabilities schema.ClientCapabilities) *Session {
	t.Helper()
	ctx := context.Background()
	data := marshalRequest(t, 1, schema.MethodInitialize, &schema.InitializeParams{
		ProtocolVersion: schema.Version20250618,
		ClientInfo:      schema.Implementation{Name: "test-client", Version: "1.0"},
		Capabilities:    capabilities,
	})
	response, session, err := srv.HandleMessage(ctx, "", data)
	require.Nil(t, err)
	require.NotNil(t, response)
	require.Nil(t, response.Error)
	require.NotNil(t, session)

	_, _, err = srv.HandleMessage(ctx, session.ID(), marshalNotification(t, schema.MethodInitialized, nil))
	require.Nil(t, err)
	require.Equal(t, StateReady, session.State())
	return session
}

func TestServer_InitializeLifecycle(t *testing.T) {
	ctx := context.Background()
	srv := New(WithImplementation("lifecycle-test", "0.0.1"))
	defer srv.Close()

	data := marshalRequest(t, 1, schema.MethodInitialize, &schema.InitializeParams{
		ProtocolVersion: schema.Version20250618,
		ClientInfo:      schema.Implementation{Name: "client", Version: "1.0"},
	})
	response, session, err := srv.HandleMessage(ctx, "", data)
	require.Nil(t, err)
	require.Nil(t, response.Error)
	require.NotNil(t, session)
	assert.Equal(t, StateInitializing, session.State())

	result := &schema.InitializeResult{}
	require.Nil(t, json.Unmarshal(response.Result, result))
	assert.Equal(t, schema.Version20250618, result.ProtocolVersion)
	assert.Equal(t, "lifecycle-test", result.ServerInfo.Name)

	// non-initialize requests are rejected until initialized arrives
	response, _, err = srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 2, schema.MethodToolsList, nil))
	require.Nil(t, err)
	require.NotNil(t, response.Error)
	assert.Equal(t, jsonrpc.ServerNotInitialized, response.Error.Code)

	_, _, err = srv.HandleMessage(ctx, session.ID(), marshalNotification(t, schema.MethodInitialized, nil))
	require.Nil(t, err)
	assert.Equal(t, StateReady, session.State())

	response, _, err = srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 3, schema.MethodToolsList, nil))
	require.Nil(t, err)
	assert.Nil(t, response.Error)
}

func TestServer_InitializeVersionMismatch(t *testing.T) {
	ctx := context.Background()
	srv := New(WithProtocolVersions(schema.Version20250618))
	defer srv.Close()

	data := marshalRequest(t, 1, schema.MethodInitialize, &schema.InitializeParams{
		ProtocolVersion: "1999-01-01",
		ClientInfo:      schema.Implementation{Name: "client", Version: "1.0"},
	})
	response, session, err := srv.HandleMessage(ctx, "", data)
	require.Nil(t, err)
	require.NotNil(t, response.Error)
	assert.Equal(t, jsonrpc.InvalidParams, response.Error.Code)
	assert.Nil(t, session, "rejected handshake hands no session id to the transport")
	assert.Empty(t, srv.Broker().Active(), "rejected handshake leaves no resident session")
}

func TestServer_SecondInitializeRejected(t *testing.T) {
	ctx := context.Background()
	srv := New()
	defer srv.Close()
	session := initSession(t, srv, schema.ClientCapabilities{})

	data := marshalRequest(t, 9, schema.MethodInitialize, &schema.InitializeParams{
		ProtocolVersion: schema.Version20250618,
		ClientInfo:      schema.Implementation{Name: "client", Version: "1.0"},
	})
	response, _, err := srv.HandleMessage(ctx, session.ID(), data)
	require.Nil(t, err)
	require.NotNil(t, response.Error)
	assert.Equal(t, jsonrpc.InvalidRequest, response.Error.Code)
}

func TestServer_UnknownSession(t *testing.T) {
	ctx := context.Background()
	srv := New()
	defer srv.Close()

	_, _, err := srv.HandleMessage(ctx, "no-such-session", marshalRequest(t, 1, schema.MethodPing, nil))
	require.NotNil(t, err)
	assert.Equal(t, 404, jsonrpc.StatusOf(err))
}

func TestServer_MethodNotFound(t *testing.T) {
	ctx := context.Background()
	srv := New()
	defer srv.Close()
	session := initSession(t, srv, schema.ClientCapabilities{})

	response, _, err := srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 2, "custom/unknown", nil))
	require.Nil(t, err)
	require.NotNil(t, response.Error)
	assert.Equal(t, jsonrpc.MethodNotFound, response.Error.Code)
}

func TestServer_ShutdownTerminates(t *testing.T) {
	ctx := context.Background()
	srv := New()
	defer srv.Close()
	session := initSession(t, srv, schema.ClientCapabilities{})

	response, _, err := srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 2, schema.MethodShutdown, nil))
	require.Nil(t, err)
	require.Nil(t, response.Error)

	_, _, err = srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 3, schema.MethodPing, nil))
	assert.Equal(t, 404, jsonrpc.StatusOf(err))
}

func TestServer_ShutdownIdempotent(t *testing.T) {
	ctx := context.Background()
	srv := New()
	defer srv.Close()
	session := initSession(t, srv, schema.ClientCapabilities{})

	response, _, err := srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 2, schema.MethodShutdown, nil))
	require.Nil(t, err)
	require.Nil(t, response.Error)

	// repeating shutdown for a session that is already gone still succeeds
	response, _, err = srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 3, schema.MethodShutdown, nil))
	require.Nil(t, err)
	require.NotNil(t, response)
	require.Nil(t, response.Error)
	assert.EqualValues(t, "{}", string(response.Result))

	// other methods keep reporting the session as gone
	_, _, err = srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 4, schema.MethodPing, nil))
	assert.Equal(t, 404, jsonrpc.StatusOf(err))
}

type addInput struct {
	A int `json:"a" description:"first addend"`
	B int `json:"b" description:"second addend"`
}

func TestServer_ToolCallWithValidation(t *testing.T) {
	ctx := context.Background()
	srv := New()
	defer srv.Close()
	require.Nil(t, RegisterTypedTool(srv.Registry(), "add", "adds two integers", func(hctx *Context, input addInput) (*schema.CallToolResult, error) {
		return schema.NewToolTextResult(strconv.Itoa(input.A + input.B)), nil
	}))
	session := initSession(t, srv, schema.ClientCapabilities{})

	response, _, err := srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 2, schema.MethodToolsCall, &schema.CallToolParams{
		Name:      "add",
		Arguments: json.RawMessage(`{"a":2,"b":3}`),
	}))
	require.Nil(t, err)
	require.Nil(t, response.Error)
	result := &schema.CallToolResult{}
	require.Nil(t, json.Unmarshal(response.Result, result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "5", result.Content[0].Text)

	// wrong argument type fails validation before the handler runs
	response, _, err = srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 3, schema.MethodToolsCall, &schema.CallToolParams{
		Name:      "add",
		Arguments: json.RawMessage(`{"a":"two","b":3}`),
	}))
	require.Nil(t, err)
	require.NotNil(t, response.Error)
	assert.Equal(t, jsonrpc.InvalidParams, response.Error.Code)
	assert.Contains(t, response.Error.Message, "$.a")

	// missing required argument
	response, _, err = srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 4, schema.MethodToolsCall, &schema.CallToolParams{
		Name:      "add",
		Arguments: json.RawMessage(`{"a":1}`),
	}))
	require.Nil(t, err)
	require.NotNil(t, response.Error)
	assert.Equal(t, jsonrpc.InvalidParams, response.Error.Code)

	// unknown tool
	response, _, err = srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 5, schema.MethodToolsCall, &schema.CallToolParams{Name: "missing"}))
	require.Nil(t, err)
	require.NotNil(t, response.Error)
	assert.Equal(t, jsonrpc.InvalidParams, response.Error.Code)
}

func TestServer_ToolPanicContained(t *testing.T) {
	ctx := context.Background()
	srv := New()
	defer srv.Close()
	require.Nil(t, srv.Registry().RegisterTool(schema.Tool{Name: "boom"}, func(hctx *Context, _ json.RawMessage) (*schema.CallToolResult, error) {
		panic("kaboom")
	}))
	session := initSession(t, srv, schema.ClientCapabilities{})

	response, _, err := srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 2, schema.MethodToolsCall, &schema.CallToolParams{Name: "boom"}))
	require.Nil(t, err)
	require.NotNil(t, response.Error)
	assert.Equal(t, jsonrpc.InternalError, response.Error.Code)
	data, ok := response.Error.Data.(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, data["correlationId"])
}

// pumpClient answers server-to-client requests read from the session stream.
func pumpClient(t *testing.T, srv *Server, sessionID string, answer func(request *jsonrpc.Request) *jsonrpc.Response) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	subscription, err := srv.Subscribe(ctx, sessionID, 0)
	require.Nil(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range subscription.Events() {
			message, err := jsonrpc.Parse(event.Payload)
			if err != nil || message.Type != jsonrpc.MessageTypeRequest {
				continue
			}
			response := answer(message.Request)
			if response == nil {
				continue
			}
			data, _ := json.Marshal(response)
			_, _, _ = srv.HandleMessage(context.Background(), sessionID, data)
		}
	}()
	return func() {
		cancel()
		subscription.Close()
		<-done
	}
}

func TestServer_SamplingRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := New(WithOutboundTimeout(2 * time.Second))
	defer srv.Close()
	require.Nil(t, srv.Registry().RegisterTool(schema.Tool{Name: "consult"}, func(hctx *Context, _ json.RawMessage) (*schema.CallToolResult, error) {
		result, err := hctx.Sample(&schema.CreateMessageParams{
			Messages:  []schema.SamplingMessage{{Role: schema.RoleUser, Content: schema.NewTextContent("hello?")}},
			MaxTokens: 16,
		})
		if err != nil {
			return nil, err
		}
		return schema.NewToolTextResult(result.Content.Text), nil
	}))
	session := initSession(t, srv, schema.ClientCapabilities{Sampling: &schema.SamplingCapability{}})

	stop := pumpClient(t, srv, session.ID(), func(request *jsonrpc.Request) *jsonrpc.Response {
		if request.Method != schema.MethodSamplingCreateMessage {
			return nil
		}
		data, _ := json.Marshal(&schema.CreateMessageResult{
			Role:    schema.RoleAssistant,
			Content: schema.NewTextContent("hello back"),
			Model:   "test-model",
		})
		return jsonrpc.NewResponse(request.Id, data)
	})
	defer stop()

	response, _, err := srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 2, schema.MethodToolsCall, &schema.CallToolParams{Name: "consult"}))
	require.Nil(t, err)
	require.Nil(t, response.Error)
	result := &schema.CallToolResult{}
	require.Nil(t, json.Unmarshal(response.Result, result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hello back", result.Content[0].Text)
	assert.Equal(t, 0, session.pending.Size(), "round trip removed exactly once")
}

func TestServer_SamplingCapabilityGated(t *testing.T) {
	ctx := context.Background()
	srv := New()
	defer srv.Close()
	require.Nil(t, srv.Registry().RegisterTool(schema.Tool{Name: "consult"}, func(hctx *Context, _ json.RawMessage) (*schema.CallToolResult, error) {
		_, err := hctx.Sample(&schema.CreateMessageParams{MaxTokens: 16})
		return nil, err
	}))
	// client did not advertise sampling
	session := initSession(t, srv, schema.ClientCapabilities{})

	response, _, err := srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 2, schema.MethodToolsCall, &schema.CallToolParams{Name: "consult"}))
	require.Nil(t, err)
	require.NotNil(t, response.Error)
	assert.Equal(t, jsonrpc.CapabilityUnavailable, response.Error.Code)
}

func TestServer_OutboundTimeout(t *testing.T) {
	ctx := context.Background()
	srv := New(WithOutboundTimeout(50 * time.Millisecond))
	defer srv.Close()
	require.Nil(t, srv.Registry().RegisterTool(schema.Tool{Name: "consult"}, func(hctx *Context, _ json.RawMessage) (*schema.CallToolResult, error) {
		_, err := hctx.Sample(&schema.CreateMessageParams{MaxTokens: 16})
		return nil, err
	}))
	session := initSession(t, srv, schema.ClientCapabilities{Sampling: &schema.SamplingCapability{}})

	// nobody answers the stream
	response, _, err := srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 2, schema.MethodToolsCall, &schema.CallToolParams{Name: "consult"}))
	require.Nil(t, err)
	require.NotNil(t, response.Error)
	assert.Equal(t, jsonrpc.RequestTimeout, response.Error.Code)
	assert.Equal(t, 0, session.pending.Size())
}

func TestServer_CancelInflightRequest(t *testing.T) {
	ctx := context.Background()
	srv := New()
	defer srv.Close()
	started := make(chan struct{})
	require.Nil(t, srv.Registry().RegisterTool(schema.Tool{Name: "slow"}, func(hctx *Context, _ json.RawMessage) (*schema.CallToolResult, error) {
		close(started)
		<-hctx.Done()
		return nil, hctx.Err()
	}))
	session := initSession(t, srv, schema.ClientCapabilities{})

	type outcome struct {
		response *jsonrpc.Response
		err      error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		response, _, err := srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 42, schema.MethodToolsCall, &schema.CallToolParams{Name: "slow"}))
		resultCh <- outcome{response: response, err: err}
	}()

	<-started
	_, _, err := srv.HandleMessage(ctx, session.ID(), marshalNotification(t, schema.MethodCancelled, &schema.CancelledParams{RequestId: 42, Reason: "user gave up"}))
	require.Nil(t, err)

	got := <-resultCh
	require.Nil(t, got.err)
	require.NotNil(t, got.response.Error)
	assert.Equal(t, jsonrpc.RequestCancelled, got.response.Error.Code)
}

func TestServer_ContextInvalidAfterReturn(t *testing.T) {
	ctx := context.Background()
	srv := New()
	defer srv.Close()
	var escaped *Context
	require.Nil(t, srv.Registry().RegisterTool(schema.Tool{Name: "leak"}, func(hctx *Context, _ json.RawMessage) (*schema.CallToolResult, error) {
		escaped = hctx
		return schema.NewToolTextResult("done"), nil
	}))
	session := initSession(t, srv, schema.ClientCapabilities{})

	response, _, err := srv.HandleMessage(ctx, session.ID(), marshalRequest(t, 2, schema.MethodToolsCall, &schema.CallToolParams{Name: "leak"}))
	require.Nil(t, err)
	require.Nil(t, response.Error)

	require.NotNil(t, escaped)
	assert.Equal(t, ErrContextInvalid, escaped.Log(schema.LoggingLevelInfo, "late", ""))
	_, sampleErr := escaped.Sample(&schema.CreateMessageParams{})
	assert.Equal(t, ErrContextInvalid, sampleErr)
}

func TestServer_BearerAuthMiddleware(t *testing.T) {
	grants := auth.NewMemoryStore(time.Hour, 24*time.Hour)
	grant := auth.NewGrant("user-7", "tools:call")
	require.Nil(t, grants.Put(context.Background(), grant))

	srv := New(WithMiddleware(BearerAuth(grants)))
	defer srv.Close()

	data := marshalRequest(t, 1, schema.MethodInitialize, &schema.InitializeParams{
		ProtocolVersion: schema.Version20250618,
		ClientInfo:      schema.Implementation{Name: "client", Version: "1.0"},
	})

	_, _, err := srv.HandleMessage(context.Background(), "", data)
	assert.Equal(t, 401, jsonrpc.StatusOf(err), "missing token rejected")

	authorized := WithAuthorization(context.Background(), grant.Token)
	response, session, err := srv.HandleMessage(authorized, "", data)
	require.Nil(t, err)
	require.Nil(t, response.Error)
	assert.Equal(t, "user-7", session.User().Principal())
}

func TestServer_RateLimitMiddleware(t *testing.T) {
	srv := New(WithMiddleware(RateLimit(rate.Limit(1), 3)))
	defer srv.Close()
	session := initSession(t, srv, schema.ClientCapabilities{})

	ctx := context.Background()
	var lastErr error
	for i := 0; i < 10; i++ {
		_, _, lastErr = srv.HandleMessage(ctx, session.ID(), marshalRequest(t, i+10, schema.MethodPing, nil))
		if lastErr != nil {
			break
		}
	}
	require.NotNil(t, lastErr)
	assert.Equal(t, 429, jsonrpc.StatusOf(lastErr))
}

func TestServer_ListChangedBroadcast(t *testing.T) {
	srv := New()
	defer srv.Close()
	session := initSession(t, srv, schema.ClientCapabilities{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	subscription, err := srv.Subscribe(ctx, session.ID(), 0)
	require.Nil(t, err)
	defer subscription.Close()

	require.Nil(t, srv.Registry().RegisterTool(schema.Tool{Name: "late-tool"}, func(hctx *Context, _ json.RawMessage) (*schema.CallToolResult, error) {
		return schema.NewToolTextResult("ok"), nil
	}))

	select {
	case event := <-subscription.Events():
		message, err := jsonrpc.Parse(event.Payload)
		require.Nil(t, err)
		assert.Equal(t, schema.MethodToolsListChanged, message.Method())
	case <-time.After(time.Second):
		t.Fatal("expected list-changed notification")
	}
}

func TestServer_IdleSweeper(t *testing.T) {
	srv := New(WithIdleTimeout(60 * time.Millisecond))
	defer srv.Close()
	session := initSession(t, srv, schema.ClientCapabilities{})

	assert.Eventually(t, func() bool {
		_, _, err := srv.HandleMessage(context.Background(), session.ID(), marshalRequest(t, 2, schema.MethodPing, nil))
		return jsonrpc.StatusOf(err) == 404
	}, 2*time.Second, 20*time.Millisecond, "idle session eventually terminated")
}

func TestServer_MalformedPayload(t *testing.T) {
	srv := New()
	defer srv.Close()

	response, _, err := srv.HandleMessage(context.Background(), "", []byte("{not json"))
	require.Nil(t, err)
	require.NotNil(t, response.Error)
	assert.Equal(t, jsonrpc.ParseError, response.Error.Code)

	// valid JSON, invalid message shape
	response, _, err = srv.HandleMessage(context.Background(), "", []byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
	require.Nil(t, err)
	require.NotNil(t, response.Error)
	assert.Equal(t, jsonrpc.InvalidRequest, response.Error.Code)
}
