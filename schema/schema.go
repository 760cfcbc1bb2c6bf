// Package schema defines the MCP protocol wire types exchanged on top of JSON-RPC.
package schema

import "encoding/json"

// Implementation describes the name and version of an MCP client or server.
type Implementation struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// ClientCapabilities advertises features supported by the client.
type ClientCapabilities struct {
	// Experimental holds non-standard capabilities.
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
	// Roots indicates support for listing filesystem roots.
	Roots *RootsCapability `json:"roots,omitempty"`
	// Sampling indicates support for server-initiated LLM sampling.
	Sampling *SamplingCapability `json:"sampling,omitempty"`
	// Elicitation indicates support for server-initiated user input collection.
	Elicitation *ElicitationCapability `json:"elicitation,omitempty"`
}

// RootsCapability qualifies the client roots capability.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// SamplingCapability qualifies the client sampling capability.
type SamplingCapability struct{}

// ElicitationCapability qualifies the client elicitation capability.
type ElicitationCapability struct{}

// ServerCapabilities advertises features supported by the server.
type ServerCapabilities struct {
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
	Logging      *LoggingCapability         `json:"logging,omitempty"`
	Tools        *ToolsCapability           `json:"tools,omitempty"`
	Resources    *ResourcesCapability       `json:"resources,omitempty"`
	Prompts      *PromptsCapability         `json:"prompts,omitempty"`
}

// LoggingCapability qualifies the server logging capability.
type LoggingCapability struct{}

// ToolsCapability qualifies the server tools capability.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability qualifies the server resources capability.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// PromptsCapability qualifies the server prompts capability.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeParams carries the payload of the initialize request.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ClientInfo      Implementation     `json:"clientInfo"`
	Capabilities    ClientCapabilities `json:"capabilities"`
}

// InitializeResult carries the payload of the initialize response.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ProgressParams carries the payload of a progress notification.
type ProgressParams struct {
	ProgressToken any      `json:"progressToken"`
	Progress      float64  `json:"progress"`
	Total         *float64 `json:"total,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// CancelledParams carries the payload of a cancellation notification.
type CancelledParams struct {
	RequestId any    `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// LogMessageParams carries the payload of a log notification.
type LogMessageParams struct {
	Level  LoggingLevel `json:"level"`
	Logger string       `json:"logger,omitempty"`
	Data   any          `json:"data"`
}

// LoggingLevel enumerates syslog-style severities.
type LoggingLevel string

const (
	LoggingLevelDebug   LoggingLevel = "debug"
	LoggingLevelInfo    LoggingLevel = "info"
	LoggingLevelNotice  LoggingLevel = "notice"
	LoggingLevelWarning LoggingLevel = "warning"
	LoggingLevelError   LoggingLevel = "error"
)
