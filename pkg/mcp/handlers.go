package mcp

import (
	"encoding/json"
	"sync"
	"time"
)

// HandleFunc is the default behavior for one tool of a ScriptedHandler.
type HandleFunc func(args map[string]any) (*ToolResult, error)

// ScriptedHandler is a ToolHandler whose per-tool behavior is a
// default function that canned responses and errors override. The
// override precedence on each call is: canned error, canned response,
// default function, then a generic acknowledgement.
type ScriptedHandler struct {
	category string

	mu        sync.Mutex
	tools     []ToolDefinition
	defaults  map[string]HandleFunc
	responses map[string]*ToolResult
	errors    map[string]error
}

// NewScriptedHandler creates an empty handler for a category.
func NewScriptedHandler(category string) *ScriptedHandler {
	return &ScriptedHandler{
		category:  category,
		defaults:  make(map[string]HandleFunc),
		responses: make(map[string]*ToolResult),
		errors:    make(map[string]error),
	}
}

// AddTool declares a tool. A nil fn falls back to the generic
// acknowledgement result.
func (h *ScriptedHandler) AddTool(def ToolDefinition, fn HandleFunc) *ScriptedHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools = append(h.tools, def)
	if fn != nil {
		h.defaults[def.Name] = fn
	}
	return h
}

// Category implements ToolHandler.
func (h *ScriptedHandler) Category() string {
	return h.category
}

// Tools implements ToolHandler.
func (h *ScriptedHandler) Tools() []ToolDefinition {
	h.mu.Lock()
	defer h.mu.Unlock()
	defs := make([]ToolDefinition, len(h.tools))
	copy(defs, h.tools)
	return defs
}

// Handle implements ToolHandler.
func (h *ScriptedHandler) Handle(name string, args map[string]any) (*ToolResult, error) {
	h.mu.Lock()
	cannedErr := h.errors[name]
	cannedRes := h.responses[name]
	fn := h.defaults[name]
	h.mu.Unlock()

	if cannedErr != nil {
		return nil, cannedErr
	}
	if cannedRes != nil {
		return cannedRes, nil
	}
	if fn != nil {
		return fn(args)
	}
	return ToolResultJSON(map[string]any{"tool": name, "ok": true})
}

// SetResponse implements ToolHandler.
func (h *ScriptedHandler) SetResponse(name string, result *ToolResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses[name] = result
}

// SetError implements ToolHandler.
func (h *ScriptedHandler) SetError(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors[name] = err
}

// Reset implements ToolHandler, discarding all canned overrides.
func (h *ScriptedHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = make(map[string]*ToolResult)
	h.errors = make(map[string]error)
}

// NewEchoHandler returns the built-in echo category. Its content is
// fixture data; tests usually override it with canned responses.
func NewEchoHandler() *ScriptedHandler {
	h := NewScriptedHandler("echo")
	h.AddTool(ToolDefinition{
		Name:        "echo",
		Description: "Return the supplied message unchanged.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`),
	}, func(args map[string]any) (*ToolResult, error) {
		msg, _ := args["message"].(string)
		return ToolResultText(msg), nil
	})
	return h
}

// NewStatusHandler returns the built-in server-status category.
func NewStatusHandler() *ScriptedHandler {
	started := time.Now()
	h := NewScriptedHandler("status")
	h.AddTool(ToolDefinition{
		Name:        "server_status",
		Description: "Report mock server identity and uptime.",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}, func(args map[string]any) (*ToolResult, error) {
		return ToolResultJSON(map[string]any{
			"name":    ServerName,
			"version": ServerVersion,
			"uptime":  time.Since(started).String(),
		})
	})
	return h
}
