package schema

// Lifecycle methods.
const (
	MethodInitialize  = "initialize"
	MethodShutdown    = "shutdown"
	MethodPing        = "ping"
	MethodInitialized = "notifications/initialized"
)

// Tool methods.
const (
	MethodToolsList        = "tools/list"
	MethodToolsCall        = "tools/call"
	MethodToolsListChanged = "notifications/tools/list_changed"
)

// Resource methods.
const (
	MethodResourcesList        = "resources/list"
	MethodResourcesRead        = "resources/read"
	MethodResourcesListChanged = "notifications/resources/list_changed"
	MethodResourcesUpdated     = "notifications/resources/updated"
)

// Prompt methods.
const (
	MethodPromptsList        = "prompts/list"
	MethodPromptsGet         = "prompts/get"
	MethodPromptsListChanged = "notifications/prompts/list_changed"
)

// Server-to-client methods.
const (
	MethodSamplingCreateMessage = "sampling/createMessage"
	MethodElicitationCreate     = "elicitation/create"
	MethodRootsList             = "roots/list"
)

// Out-of-band notifications.
const (
	MethodProgress   = "notifications/progress"
	MethodLogMessage = "notifications/message"
	MethodCancelled  = "notifications/cancelled"
)
