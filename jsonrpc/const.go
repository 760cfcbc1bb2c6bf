package jsonrpc

// Version is the JSON-RPC protocol version.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Protocol extension error codes used by the MCP surface.
const (
	// RequestTimeout indicates a server-to-client request was not answered in time.
	RequestTimeout = -32001
	// ServerNotInitialized indicates a non-initialize call arrived before the session reached Ready.
	ServerNotInitialized = -32002
	// SessionNotFound indicates the session id refers to a terminated or unknown session.
	SessionNotFound = -32003
	// CapabilityUnavailable indicates the peer did not advertise the capability required by the call.
	CapabilityUnavailable = -32004
	// StreamOverflow indicates the outbound event buffer exceeded its high-water mark.
	StreamOverflow = -32005
	// RequestCancelled indicates the request was cancelled before it completed.
	RequestCancelled = -32800
)

type sessionKey string

// SessionKey is the key used to store the session ID in the context.
const SessionKey = sessionKey("jsonrpc-session")
