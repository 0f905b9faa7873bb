package mcp

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolHandler owns one category of tools. A handler declares its tool
// names up front, serves calls for them, and supports canned responses
// and errors that tests configure per case. Reset restores the
// handler's initial defaults so state never leaks across tests.
type ToolHandler interface {
	// Category names the tool family, for diagnostics.
	Category() string

	// Tools lists the definitions this handler owns.
	Tools() []ToolDefinition

	// Handle serves one call. An error return is surfaced to the
	// client as an internal JSON-RPC error.
	Handle(name string, args map[string]any) (*ToolResult, error)

	// SetResponse configures a canned result for a tool name.
	SetResponse(name string, result *ToolResult)

	// SetError configures a canned failure for a tool name.
	SetError(name string, err error)

	// Reset restores initial defaults.
	Reset()
}

// registeredTool binds a definition to its owning handler and the
// lazily compiled input schema.
type registeredTool struct {
	def     ToolDefinition
	handler ToolHandler

	compileOnce sync.Once
	schema      *jsonschema.Schema
	schemaErr   error
}

func (t *registeredTool) compiledSchema() (*jsonschema.Schema, error) {
	t.compileOnce.Do(func() {
		if len(t.def.InputSchema) == 0 {
			return
		}
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		url := t.def.Name + ".schema.json"
		if err := compiler.AddResource(url, strings.NewReader(string(t.def.InputSchema))); err != nil {
			t.schemaErr = err
			return
		}
		t.schema, t.schemaErr = compiler.Compile(url)
	})
	return t.schema, t.schemaErr
}

// Registry is the flat category→handler lookup table. Each tool name
// maps to the single handler that owns it; registering a handler whose
// names collide with earlier ones takes ownership of those names.
type Registry struct {
	mu       sync.Mutex
	handlers []ToolHandler
	byName   map[string]*registeredTool
	order    []*registeredTool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*registeredTool),
	}
}

// Register indexes all of a handler's declared tool names.
func (r *Registry) Register(h ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
	for _, def := range h.Tools() {
		tool := &registeredTool{def: def, handler: h}
		if _, exists := r.byName[def.Name]; !exists {
			r.order = append(r.order, tool)
		} else {
			for i, prev := range r.order {
				if prev.def.Name == def.Name {
					r.order[i] = tool
					break
				}
			}
		}
		r.byName[def.Name] = tool
	}
}

// List returns all tool definitions in registration order.
func (r *Registry) List() []ToolDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, tool := range r.order {
		defs = append(defs, tool.def)
	}
	return defs
}

// Dispatch routes a tool call to its owning handler. Unknown names and
// schema-invalid arguments are payload-level errors; the handler is
// only invoked once arguments validate.
func (r *Registry) Dispatch(name string, args map[string]any) (*ToolResult, *JSONRPCError) {
	r.mu.Lock()
	tool := r.byName[name]
	r.mu.Unlock()
	if tool == nil {
		return nil, UnknownToolError(name)
	}

	schema, err := tool.compiledSchema()
	if err != nil {
		return nil, InternalError(err)
	}
	if schema != nil {
		doc := map[string]any{}
		if args != nil {
			doc = args
		}
		if err := schema.Validate(any(doc)); err != nil {
			return nil, InvalidParamsError(err.Error())
		}
	}

	result, handleErr := tool.handler.Handle(name, args)
	if handleErr != nil {
		return nil, InternalError(handleErr)
	}
	return result, nil
}

// SetResponse configures a canned result on the owner of a tool name.
// It reports whether an owner was found.
func (r *Registry) SetResponse(name string, result *ToolResult) bool {
	r.mu.Lock()
	tool := r.byName[name]
	r.mu.Unlock()
	if tool == nil {
		return false
	}
	tool.handler.SetResponse(name, result)
	return true
}

// SetError configures a canned failure on the owner of a tool name.
func (r *Registry) SetError(name string, err error) bool {
	r.mu.Lock()
	tool := r.byName[name]
	r.mu.Unlock()
	if tool == nil {
		return false
	}
	tool.handler.SetError(name, err)
	return true
}

// ResetAll restores every registered handler to its initial defaults.
// Required between test cases to avoid cross-test leakage.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	handlers := make([]ToolHandler, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.Unlock()
	for _, h := range handlers {
		h.Reset()
	}
}
