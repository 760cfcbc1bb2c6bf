// Package streamable implements the server side of the streamable HTTP
// transport. A single endpoint serves the whole protocol: POST carries
// JSON-RPC payloads (the first initialize creates the session), GET with
// Accept: text/event-stream opens the resumable server-to-client stream and
// DELETE terminates the session.
package streamable

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/viant/mcpserver/jsonrpc"
	"github.com/viant/mcpserver/server"
	"github.com/viant/mcpserver/stream"
)

const (
	defaultSessionHeader = "Mcp-Session-Id"
	lastEventIDHeader    = "Last-Event-ID"
	sseMime              = "text/event-stream"
)

// Handler exposes a server.Server over streamable HTTP.
type Handler struct {
	Options
	core *server.Server
}

// New constructs a Handler over the protocol core.
func New(core *server.Server, options ...Option) *Handler {
	h := &Handler{
		core: core,
		Options: Options{
			SessionLocation:   NewHeaderLocation(defaultSessionHeader),
			HeartbeatInterval: 10 * time.Second,
			Logger:            jsonrpc.DefaultLogger,
		},
	}
	for _, option := range options {
		option(&h.Options)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.URI != "" && !strings.HasSuffix(r.URL.Path, h.URI) {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPost:
		h.handlePOST(w, r)
	case http.MethodGet:
		h.handleGET(w, r)
	case http.MethodDelete:
		h.handleDELETE(w, r)
	case http.MethodOptions:
		h.handleOPTIONS(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePOST feeds one JSON-RPC payload to the core. Requests get their
// response on this connection; notifications and responses yield 202.
func (h *Handler) handlePOST(w http.ResponseWriter, r *http.Request) {
	sessionID := h.SessionLocation.Locate(r)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	ctx := r.Context()
	if token := bearerToken(r); token != "" {
		ctx = server.WithAuthorization(ctx, token)
	}

	response, session, err := h.core.HandleMessage(ctx, sessionID, data)
	if err != nil {
		status := jsonrpc.StatusOf(err)
		if status == 0 {
			h.Logger.Errorf("message handling failed: %v", err)
			status = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), status)
		return
	}
	h.setCORSHeaders(w, r)
	if session != nil && sessionID == "" {
		// handshake: hand the freshly minted id back to the client
		w.Header().Set(h.SessionLocation.Name, session.ID())
	}
	if response == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(response))
	payload, err := json.Marshal(response)
	if err != nil {
		h.Logger.Errorf("response marshalling failed: %v", err)
		return
	}
	_, _ = w.Write(payload)
}

// handleGET opens the server-to-client SSE stream, replaying buffered events
// after Last-Event-ID and then tailing live publishes with heartbeats.
func (h *Handler) handleGET(w http.ResponseWriter, r *http.Request) {
	if !acceptsSSE(r.Header) {
		http.Error(w, "SSE not supported on this endpoint", http.StatusMethodNotAllowed)
		return
	}
	sessionID := h.SessionLocation.Locate(r)
	if sessionID == "" {
		http.Error(w, "missing "+h.SessionLocation.Name, http.StatusBadRequest)
		return
	}
	var cursor uint64
	if last := strings.TrimSpace(r.Header.Get(lastEventIDHeader)); last != "" {
		value, err := strconv.ParseUint(last, 10, 64)
		if err != nil {
			http.Error(w, "malformed "+lastEventIDHeader, http.StatusBadRequest)
			return
		}
		cursor = value
	}

	subscription, err := h.core.Subscribe(r.Context(), sessionID, cursor)
	if err != nil {
		switch {
		case err == stream.ErrReplayGone:
			// replay window passed; the client has to start a fresh session
			http.Error(w, err.Error(), http.StatusNotFound)
		case jsonrpc.StatusOf(err) != 0:
			http.Error(w, err.Error(), jsonrpc.StatusOf(err))
		default:
			h.Logger.Errorf("session %s: subscribe failed: %v", sessionID, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	defer subscription.Close()

	w.Header().Set("Content-Type", sseMime)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	h.setCORSHeaders(w, r)
	w.WriteHeader(http.StatusOK)
	writer := NewFlushWriter(w)
	// flush the response head right away so clients waiting on headers see
	// the stream open before the first event or heartbeat arrives
	if _, err := writer.Write(frameHeartbeat()); err != nil {
		return
	}

	var heartbeat <-chan time.Time
	if h.HeartbeatInterval > 0 {
		ticker := time.NewTicker(h.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat:
			if _, err := writer.Write(frameHeartbeat()); err != nil {
				return
			}
		case event, ok := <-subscription.Events():
			if !ok {
				if subErr := subscription.Err(); subErr == stream.ErrOverflow {
					// undelivered events were dropped; the session cannot recover
					h.notifyOverflow(writer, sessionID)
					h.core.Terminate(r.Context(), sessionID)
				} else if subErr != nil {
					h.Logger.Infof("session %s: stream ended: %v", sessionID, subErr)
				}
				return
			}
			if _, err := writer.Write(frameEvent(event)); err != nil {
				return
			}
		}
	}
}

// notifyOverflow emits a final stream overflow error frame before the session
// is terminated.
func (h *Handler) notifyOverflow(writer io.Writer, sessionID string) {
	response := jsonrpc.NewErrorResponse(nil, jsonrpc.NewStreamOverflow(sessionID))
	payload, err := json.Marshal(response)
	if err != nil {
		return
	}
	_, _ = writer.Write(framePayload(payload))
}

func (h *Handler) handleDELETE(w http.ResponseWriter, r *http.Request) {
	sessionID := h.SessionLocation.Locate(r)
	if sessionID == "" {
		http.Error(w, "missing "+h.SessionLocation.Name, http.StatusBadRequest)
		return
	}
	h.core.Terminate(r.Context(), sessionID)
	h.setCORSHeaders(w, r)
	w.WriteHeader(http.StatusOK)
}

// handleOPTIONS responds to CORS preflight requests.
func (h *Handler) handleOPTIONS(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w, r)
	if method := r.Header.Get("Access-Control-Request-Method"); method != "" {
		w.Header().Set("Access-Control-Allow-Methods", method)
	}
	if headers := r.Header.Get("Access-Control-Request-Headers"); headers != "" {
		w.Header().Set("Access-Control-Allow-Headers", headers)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !h.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		return
	}
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	for _, allowed := range h.AllowedOrigins {
		if allowed == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			return
		}
	}
	if h.AllowSameTopDomain && origin != "" {
		requestTop, _ := TopDomain(ClientHost(r))
		originTop, _ := TopDomain(originHost(origin))
		if requestTop != "" && requestTop == originTop {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
	}
}

func originHost(origin string) string {
	origin = strings.TrimPrefix(origin, "https://")
	origin = strings.TrimPrefix(origin, "http://")
	return stripPort(origin)
}

// statusFor maps malformed-payload error responses to HTTP 400.
func statusFor(response *jsonrpc.Response) int {
	if response.Error != nil {
		switch response.Error.Code {
		case jsonrpc.ParseError, jsonrpc.InvalidRequest:
			return http.StatusBadRequest
		}
	}
	return http.StatusOK
}

func bearerToken(r *http.Request) string {
	value := r.Header.Get("Authorization")
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "Bearer ") || strings.HasPrefix(value, "bearer ") {
		return strings.TrimSpace(value[len("Bearer "):])
	}
	return value
}

func acceptsSSE(header http.Header) bool {
	for _, value := range header.Values("Accept") {
		if strings.Contains(value, sseMime) {
			return true
		}
	}
	return false
}
