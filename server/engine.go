package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/viant/mcpserver/jsonrpc"
	"github.com/viant/mcpserver/schema"
)

// HandleMessage processes one raw inbound payload for the session identified
// by sessionID (empty for the initial handshake). The returned response is
// nil for notifications and responses; the returned session carries the id
// the transport echoes back to the client. Errors are transport-level: a
// *jsonrpc.StatusError maps to its HTTP status.
func (s *Server) HandleMessage(ctx context.Context, sessionID string, data []byte) (*jsonrpc.Response, *Session, error) {
	if !json.Valid(data) {
		return jsonrpc.NewErrorResponse(nil, jsonrpc.NewParsingError("invalid JSON payload", nil)), nil, nil
	}
	message, err := jsonrpc.Parse(data)
	if err != nil {
		return jsonrpc.NewErrorResponse(nil, jsonrpc.NewInvalidRequest(err.Error(), nil)), nil, nil
	}
	switch message.Type {
	case jsonrpc.MessageTypeRequest:
		return s.handleRequest(ctx, sessionID, message)
	case jsonrpc.MessageTypeNotification:
		session, err := s.handleNotification(ctx, sessionID, message)
		return nil, session, err
	default:
		session, err := s.handleResponse(ctx, sessionID, message)
		return nil, session, err
	}
}

func (s *Server) handleRequest(ctx context.Context, sessionID string, message *jsonrpc.Message) (*jsonrpc.Response, *Session, error) {
	request := message.Request
	var session *Session
	var err error
	if request.Method == schema.MethodInitialize && sessionID == "" {
		if session, err = s.broker.Create(ctx); err != nil {
			return nil, nil, err
		}
	} else {
		if sessionID == "" {
			return nil, nil, &jsonrpc.StatusError{StatusCode: 400, Message: "missing session id"}
		}
		if session, err = s.broker.Lookup(ctx, sessionID); err != nil {
			if request.Method == schema.MethodShutdown && jsonrpc.StatusOf(err) == http.StatusNotFound {
				// shutdown is idempotent; repeating it for a session that is
				// already gone still succeeds
				response, resultErr := result(request.Id, struct{}{})
				if resultErr != nil {
					return nil, nil, resultErr
				}
				return response, nil, nil
			}
			return nil, nil, err
		}
	}

	started := time.Now()
	session.dispatchMux.Lock()
	response, err := s.handler(ctx, session, message)
	session.dispatchMux.Unlock()
	if err != nil {
		if protocolErr, ok := err.(*jsonrpc.Error); ok {
			response, err = jsonrpc.NewErrorResponse(request.Id, protocolErr), nil
		}
	}
	outcome := "ok"
	if err != nil || (response != nil && response.Error != nil) {
		outcome = "error"
	}
	s.metrics.request(request.Method, outcome, time.Since(started))
	if err != nil {
		if request.Method == schema.MethodInitialize && sessionID == "" {
			// handshake rejected before the client ever learned the id
			s.broker.Terminate(ctx, session.ID())
		}
		return nil, session, err
	}
	if request.Method == schema.MethodInitialize && sessionID == "" && response != nil && response.Error != nil {
		// rejected handshake: discard the session so its id never reaches
		// the client
		s.broker.Terminate(ctx, session.ID())
		return response, nil, nil
	}
	s.broker.Touch(ctx, session)
	return response, session, nil
}

func (s *Server) handleNotification(ctx context.Context, sessionID string, message *jsonrpc.Message) (*Session, error) {
	if sessionID == "" {
		return nil, &jsonrpc.StatusError{StatusCode: 400, Message: "missing session id"}
	}
	session, err := s.broker.Lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	notification := message.Notification
	switch notification.Method {
	case schema.MethodInitialized:
		if !session.completeInitialize() {
			s.logger.Debugf("session %s: initialized notification in state %s ignored", session.ID(), session.State())
			break
		}
		s.logger.Infof("session %s ready (protocol %s, client %s %s)",
			session.ID(), session.ProtocolVersion(), session.ClientInfo().Name, session.ClientInfo().Version)
	case schema.MethodCancelled:
		params := &schema.CancelledParams{}
		if err := json.Unmarshal(notification.Params, params); err != nil {
			s.logger.Debugf("session %s: malformed cancellation: %v", session.ID(), err)
			break
		}
		if !session.cancelInflight(params.RequestId) {
			s.logger.Debugf("session %s: cancellation for unknown request %v", session.ID(), params.RequestId)
		}
	default:
		s.logger.Debugf("session %s: ignoring notification %s", session.ID(), notification.Method)
	}
	s.broker.Touch(ctx, session)
	return session, nil
}

// handleResponse matches a client response against the pending round trips of
// the session. Responses bypass the dispatch lock so a handler blocked on a
// round trip can be unblocked.
func (s *Server) handleResponse(ctx context.Context, sessionID string, message *jsonrpc.Message) (*Session, error) {
	if sessionID == "" {
		return nil, &jsonrpc.StatusError{StatusCode: 400, Message: "missing session id"}
	}
	session, err := s.broker.Lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	response := message.Response
	trip, err := session.pending.Match(response.Id)
	if err != nil {
		s.logger.Debugf("session %s: unmatched response id %v", session.ID(), response.Id)
		return session, nil
	}
	trip.SetResponse(response)
	s.broker.Touch(ctx, session)
	return session, nil
}

// dispatch is the innermost Handler behind the middleware chain.
func (s *Server) dispatch(ctx context.Context, session *Session, message *jsonrpc.Message) (*jsonrpc.Response, error) {
	request := message.Request
	if request.Method == schema.MethodInitialize {
		return s.initialize(ctx, session, request)
	}
	if state := session.State(); state != StateReady {
		return jsonrpc.NewErrorResponse(request.Id, jsonrpc.NewServerNotInitialized(request.Method)), nil
	}
	switch request.Method {
	case schema.MethodPing:
		return result(request.Id, struct{}{})
	case schema.MethodShutdown:
		s.broker.Terminate(ctx, session.ID())
		return result(request.Id, struct{}{})
	case schema.MethodToolsList:
		return result(request.Id, &schema.ListToolsResult{Tools: s.registry.Tools()})
	case schema.MethodResourcesList:
		return result(request.Id, &schema.ListResourcesResult{Resources: s.registry.Resources()})
	case schema.MethodPromptsList:
		return result(request.Id, &schema.ListPromptsResult{Prompts: s.registry.Prompts()})
	case schema.MethodToolsCall:
		params := &schema.CallToolParams{}
		if err := json.Unmarshal(request.Params, params); err != nil {
			return jsonrpc.NewErrorResponse(request.Id, jsonrpc.NewInvalidParamsError(err.Error(), nil)), nil
		}
		return s.runHandler(ctx, session, request, func(hctx *Context) (any, error) {
			return s.registry.CallTool(hctx, params.Name, params.Arguments)
		})
	case schema.MethodResourcesRead:
		params := &schema.ReadResourceParams{}
		if err := json.Unmarshal(request.Params, params); err != nil {
			return jsonrpc.NewErrorResponse(request.Id, jsonrpc.NewInvalidParamsError(err.Error(), nil)), nil
		}
		return s.runHandler(ctx, session, request, func(hctx *Context) (any, error) {
			return s.registry.ReadResource(hctx, params.URI)
		})
	case schema.MethodPromptsGet:
		params := &schema.GetPromptParams{}
		if err := json.Unmarshal(request.Params, params); err != nil {
			return jsonrpc.NewErrorResponse(request.Id, jsonrpc.NewInvalidParamsError(err.Error(), nil)), nil
		}
		return s.runHandler(ctx, session, request, func(hctx *Context) (any, error) {
			return s.registry.GetPrompt(hctx, params.Name, params.Arguments)
		})
	}
	return jsonrpc.NewErrorResponse(request.Id, jsonrpc.NewMethodNotFound(request.Method)), nil
}

func (s *Server) initialize(ctx context.Context, session *Session, request *jsonrpc.Request) (*jsonrpc.Response, error) {
	params := &schema.InitializeParams{}
	if err := json.Unmarshal(request.Params, params); err != nil {
		return jsonrpc.NewErrorResponse(request.Id, jsonrpc.NewInvalidParamsError(err.Error(), nil)), nil
	}
	version, err := schema.Negotiate(params.ProtocolVersion, s.options.protocolVersions)
	if err != nil {
		return jsonrpc.NewErrorResponse(request.Id, jsonrpc.NewInvalidParamsError(err.Error(),
			map[string]any{"supported": s.options.protocolVersions})), nil
	}
	capabilities := s.registry.Capabilities()
	if !session.beginInitialize(version, params.ClientInfo, params.Capabilities, capabilities) {
		return jsonrpc.NewErrorResponse(request.Id,
			jsonrpc.NewInvalidRequest(fmt.Sprintf("session %s already initialized", session.ID()), nil)), nil
	}
	if err := s.broker.Persist(ctx, session); err != nil {
		return nil, err
	}
	return result(request.Id, &schema.InitializeResult{
		ProtocolVersion: version,
		ServerInfo:      s.options.info,
		Capabilities:    capabilities,
		Instructions:    s.options.instructions,
	})
}

// runHandler executes a registry handler with cancellation bookkeeping, a
// scoped handler Context and panic containment.
func (s *Server) runHandler(ctx context.Context, session *Session, request *jsonrpc.Request, run func(hctx *Context) (any, error)) (response *jsonrpc.Response, err error) {
	handlerCtx, cancel := context.WithCancel(ctx)
	session.registerInflight(request.Id, cancel)
	defer func() {
		session.releaseInflight(request.Id)
		cancel()
	}()

	hctx := newHandlerContext(handlerCtx, s, session, request)
	defer hctx.invalidate()

	defer func() {
		if recovered := recover(); recovered != nil {
			correlation := uuid.New().String()
			s.logger.Errorf("panic handling %s (correlation %s): %v\n%s", request.Method, correlation, recovered, debug.Stack())
			response, err = jsonrpc.NewErrorResponse(request.Id, jsonrpc.NewInternalError("internal error",
				map[string]any{"correlationId": correlation})), nil
		}
	}()

	value, runErr := run(hctx)
	if handlerCtx.Err() != nil && ctx.Err() == nil {
		return jsonrpc.NewErrorResponse(request.Id,
			jsonrpc.NewRequestCancelled(fmt.Sprintf("request %v cancelled", request.Id))), nil
	}
	if runErr != nil {
		if protocolErr, ok := runErr.(*jsonrpc.Error); ok {
			return jsonrpc.NewErrorResponse(request.Id, protocolErr), nil
		}
		return nil, runErr
	}
	return result(request.Id, value)
}

func result(id jsonrpc.RequestId, value any) (*jsonrpc.Response, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return jsonrpc.NewResponse(id, data), nil
}
