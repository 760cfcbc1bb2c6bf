package server

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/viant/mcpserver/jsonrpc"
	"github.com/viant/mcpserver/schema"
)

// ToolHandler executes a tool call with already validated raw arguments.
type ToolHandler func(ctx *Context, arguments json.RawMessage) (*schema.CallToolResult, error)

// ResourceHandler reads the contents of a registered resource.
type ResourceHandler func(ctx *Context, uri string) (*schema.ReadResourceResult, error)

// PromptHandler renders a registered prompt with the supplied arguments.
type PromptHandler func(ctx *Context, arguments map[string]string) (*schema.GetPromptResult, error)

type toolEntry struct {
	tool    schema.Tool
	schema  *JSONSchema
	handler ToolHandler
}

type resourceEntry struct {
	resource schema.Resource
	handler  ResourceHandler
}

type promptEntry struct {
	prompt  schema.Prompt
	handler PromptHandler
}

// Registry holds the tools, resources and prompts a server exposes. Entries
// are immutable once registered; adding an entry after sessions exist
// triggers a listChanged broadcast through the onListChanged hook. Listing
// order is registration order.
type Registry struct {
	mux           sync.RWMutex
	tools         map[string]*toolEntry
	toolOrder     []string
	resources     map[string]*resourceEntry
	resourceOrder []string
	prompts       map[string]*promptEntry
	promptOrder   []string
	onListChanged func(method string)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     map[string]*toolEntry{},
		resources: map[string]*resourceEntry{},
		prompts:   map[string]*promptEntry{},
	}
}

// RegisterTool adds a tool with a raw-arguments handler. The tool input
// schema, when present, is enforced before the handler runs.
func (r *Registry) RegisterTool(tool schema.Tool, handler ToolHandler) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %s: handler is required", tool.Name)
	}
	var toolSchema *JSONSchema
	if len(tool.InputSchema) > 0 {
		toolSchema = &JSONSchema{}
		if err := json.Unmarshal(tool.InputSchema, toolSchema); err != nil {
			return fmt.Errorf("tool %s: invalid input schema: %w", tool.Name, err)
		}
	}
	r.mux.Lock()
	if _, ok := r.tools[tool.Name]; ok {
		r.mux.Unlock()
		return fmt.Errorf("tool %s already registered", tool.Name)
	}
	r.tools[tool.Name] = &toolEntry{tool: tool, schema: toolSchema, handler: handler}
	r.toolOrder = append(r.toolOrder, tool.Name)
	notify := r.onListChanged
	r.mux.Unlock()
	if notify != nil {
		notify(schema.MethodToolsListChanged)
	}
	return nil
}

// RegisterTypedTool adds a tool whose arguments decode into T. The input
// schema is derived from T with SchemaFor and validated before decoding.
func RegisterTypedTool[T any](r *Registry, name, description string, handler func(ctx *Context, input T) (*schema.CallToolResult, error)) error {
	var template T
	inputSchema, err := SchemaFor(template)
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}
	rawSchema, err := json.Marshal(inputSchema)
	if err != nil {
		return err
	}
	tool := schema.Tool{Name: name, Description: description, InputSchema: rawSchema}
	return r.RegisterTool(tool, func(ctx *Context, arguments json.RawMessage) (*schema.CallToolResult, error) {
		var generic map[string]any
		if len(arguments) > 0 {
			if err := json.Unmarshal(arguments, &generic); err != nil {
				return nil, jsonrpc.NewInvalidParamsError("arguments are not a JSON object", err.Error())
			}
		}
		var input T
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "json",
			Result:           &input,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(generic); err != nil {
			return nil, jsonrpc.NewInvalidParamsError(err.Error(), nil)
		}
		return handler(ctx, input)
	})
}

// RegisterResource adds a resource with its read handler.
func (r *Registry) RegisterResource(resource schema.Resource, handler ResourceHandler) error {
	if resource.URI == "" {
		return fmt.Errorf("resource uri is required")
	}
	if handler == nil {
		return fmt.Errorf("resource %s: handler is required", resource.URI)
	}
	r.mux.Lock()
	if _, ok := r.resources[resource.URI]; ok {
		r.mux.Unlock()
		return fmt.Errorf("resource %s already registered", resource.URI)
	}
	r.resources[resource.URI] = &resourceEntry{resource: resource, handler: handler}
	r.resourceOrder = append(r.resourceOrder, resource.URI)
	notify := r.onListChanged
	r.mux.Unlock()
	if notify != nil {
		notify(schema.MethodResourcesListChanged)
	}
	return nil
}

// RegisterPrompt adds a prompt with its render handler.
func (r *Registry) RegisterPrompt(prompt schema.Prompt, handler PromptHandler) error {
	if prompt.Name == "" {
		return fmt.Errorf("prompt name is required")
	}
	if handler == nil {
		return fmt.Errorf("prompt %s: handler is required", prompt.Name)
	}
	r.mux.Lock()
	if _, ok := r.prompts[prompt.Name]; ok {
		r.mux.Unlock()
		return fmt.Errorf("prompt %s already registered", prompt.Name)
	}
	r.prompts[prompt.Name] = &promptEntry{prompt: prompt, handler: handler}
	r.promptOrder = append(r.promptOrder, prompt.Name)
	notify := r.onListChanged
	r.mux.Unlock()
	if notify != nil {
		notify(schema.MethodPromptsListChanged)
	}
	return nil
}

// Tools lists registered tools in registration order.
func (r *Registry) Tools() []schema.Tool {
	r.mux.RLock()
	defer r.mux.RUnlock()
	ret := make([]schema.Tool, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		ret = append(ret, r.tools[name].tool)
	}
	return ret
}

// Resources lists registered resources in registration order.
func (r *Registry) Resources() []schema.Resource {
	r.mux.RLock()
	defer r.mux.RUnlock()
	ret := make([]schema.Resource, 0, len(r.resourceOrder))
	for _, uri := range r.resourceOrder {
		ret = append(ret, r.resources[uri].resource)
	}
	return ret
}

// Prompts lists registered prompts in registration order.
func (r *Registry) Prompts() []schema.Prompt {
	r.mux.RLock()
	defer r.mux.RUnlock()
	ret := make([]schema.Prompt, 0, len(r.promptOrder))
	for _, name := range r.promptOrder {
		ret = append(ret, r.prompts[name].prompt)
	}
	return ret
}

// CallTool validates arguments against the tool input schema and runs the
// tool handler.
func (r *Registry) CallTool(ctx *Context, name string, arguments json.RawMessage) (*schema.CallToolResult, error) {
	r.mux.RLock()
	entry, ok := r.tools[name]
	r.mux.RUnlock()
	if !ok {
		return nil, jsonrpc.NewInvalidParamsError(fmt.Sprintf("unknown tool: %s", name), nil)
	}
	if entry.schema != nil {
		if err := entry.schema.ValidateJSON(arguments); err != nil {
			return nil, err
		}
	}
	return entry.handler(ctx, arguments)
}

// ReadResource runs the read handler of the resource registered under uri.
func (r *Registry) ReadResource(ctx *Context, uri string) (*schema.ReadResourceResult, error) {
	r.mux.RLock()
	entry, ok := r.resources[uri]
	r.mux.RUnlock()
	if !ok {
		return nil, jsonrpc.NewInvalidParamsError(fmt.Sprintf("unknown resource: %s", uri), nil)
	}
	return entry.handler(ctx, uri)
}

// GetPrompt renders the prompt registered under name.
func (r *Registry) GetPrompt(ctx *Context, name string, arguments map[string]string) (*schema.GetPromptResult, error) {
	r.mux.RLock()
	entry, ok := r.prompts[name]
	r.mux.RUnlock()
	if !ok {
		return nil, jsonrpc.NewInvalidParamsError(fmt.Sprintf("unknown prompt: %s", name), nil)
	}
	for _, argument := range entry.prompt.Arguments {
		if argument.Required {
			if _, ok := arguments[argument.Name]; !ok {
				return nil, jsonrpc.NewInvalidParamsError(fmt.Sprintf("prompt %s: missing required argument %s", name, argument.Name), nil)
			}
		}
	}
	return entry.handler(ctx, arguments)
}

// Capabilities derives the server capability set from registered entries.
func (r *Registry) Capabilities() schema.ServerCapabilities {
	r.mux.RLock()
	defer r.mux.RUnlock()
	ret := schema.ServerCapabilities{Logging: &schema.LoggingCapability{}}
	if len(r.tools) > 0 {
		ret.Tools = &schema.ToolsCapability{ListChanged: true}
	}
	if len(r.resources) > 0 {
		ret.Resources = &schema.ResourcesCapability{ListChanged: true}
	}
	if len(r.prompts) > 0 {
		ret.Prompts = &schema.PromptsCapability{ListChanged: true}
	}
	return ret
}
