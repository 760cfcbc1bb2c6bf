package jsonrpc

import "fmt"

// Error is used to provide additional information about the error that occurred.
type Error struct {
	// The error type that occurred.
	Code int `json:"code" yaml:"code"`

	// A short description of the error. The message SHOULD be limited to a concise
	// single sentence.
	Message string `json:"message" yaml:"message"`

	// Additional information about the error. The value of this member is defined by
	// the sender (e.g. detailed error information, nested errors etc.).
	Data interface{} `json:"data,omitempty" yaml:"data,omitempty"`
}

// Error returns the error message
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("code: %d, message: %s, data: %v", e.Code, e.Message, e.Data)
}

// NewError creates a new Error with the supplied code, message and data.
func NewError(code int, message string, data interface{}) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// NewParsingError creates a new parsing error
func NewParsingError(message string, data []byte) *Error {
	return NewError(ParseError, message, string(data))
}

// NewInvalidRequest creates a new invalid request error
func NewInvalidRequest(message string, data []byte) *Error {
	return NewError(InvalidRequest, message, string(data))
}

// NewMethodNotFound creates a new method not found error
func NewMethodNotFound(method string) *Error {
	return NewError(MethodNotFound, fmt.Sprintf("method not found: %s", method), nil)
}

// NewInvalidParamsError creates a new invalid params error
func NewInvalidParamsError(message string, data interface{}) *Error {
	return NewError(InvalidParams, message, data)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, data interface{}) *Error {
	return NewError(InternalError, message, data)
}

// NewServerNotInitialized creates an error for calls made before initialization completed.
func NewServerNotInitialized(method string) *Error {
	return NewError(ServerNotInitialized, fmt.Sprintf("server not initialized: %s", method), nil)
}

// NewSessionNotFound creates an error for a stale or unknown session id.
func NewSessionNotFound(sessionID string) *Error {
	return NewError(SessionNotFound, fmt.Sprintf("session not found: %s", sessionID), nil)
}

// NewCapabilityUnavailable creates an error for a call gated on a capability the peer lacks.
func NewCapabilityUnavailable(capability string) *Error {
	return NewError(CapabilityUnavailable, fmt.Sprintf("client does not support %s", capability), nil)
}

// NewStreamOverflow creates an error for a session whose outbound buffer dropped undelivered events.
func NewStreamOverflow(sessionID string) *Error {
	return NewError(StreamOverflow, fmt.Sprintf("outbound stream overflow for session %s", sessionID), nil)
}

// NewRequestTimeout creates an error for an unanswered server-to-client request.
func NewRequestTimeout(message string) *Error {
	return NewError(RequestTimeout, message, nil)
}

// NewRequestCancelled creates an error for a cancelled request.
func NewRequestCancelled(message string) *Error {
	return NewError(RequestCancelled, message, nil)
}
