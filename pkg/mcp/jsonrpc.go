package mcp

import (
	"encoding/json"
	"fmt"
	"io"
)

// ParseRequest decodes and validates a JSON-RPC request from a body.
func ParseRequest(r io.Reader) (*JSONRPCRequest, *JSONRPCError) {
	var req JSONRPCRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, ParseError(err.Error())
	}
	if err := ValidateRequest(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ValidateRequest checks envelope invariants.
func ValidateRequest(req *JSONRPCRequest) *JSONRPCError {
	if req.JSONRPC != "2.0" {
		return InvalidRequestError(`jsonrpc must be "2.0"`)
	}
	if req.Method == "" {
		return InvalidRequestError("method is required")
	}
	return nil
}

// UnmarshalParams decodes optional params into T, returning the zero
// value when params are absent.
func UnmarshalParams[T any](params json.RawMessage) (*T, *JSONRPCError) {
	var result T
	if len(params) == 0 {
		return &result, nil
	}
	if err := json.Unmarshal(params, &result); err != nil {
		return nil, InvalidParamsError(err.Error())
	}
	return &result, nil
}

// UnmarshalParamsRequired decodes params that must be present.
func UnmarshalParamsRequired[T any](params json.RawMessage) (*T, *JSONRPCError) {
	if len(params) == 0 {
		return nil, InvalidParamsError("params required")
	}
	var result T
	if err := json.Unmarshal(params, &result); err != nil {
		return nil, InvalidParamsError(err.Error())
	}
	return &result, nil
}

// ToolResultText creates a single-text-block tool result.
func ToolResultText(text string) *ToolResult {
	return &ToolResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

// ToolResultJSON creates a tool result whose text block is the JSON
// encoding of data.
func ToolResultJSON(data any) (*ToolResult, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return ToolResultText(string(encoded)), nil
}

// ToolResultError creates an error-flagged tool result.
func ToolResultError(message string) *ToolResult {
	return &ToolResult{
		Content: []ContentBlock{{Type: "text", Text: message}},
		IsError: true,
	}
}

// ToolResultErrorf creates a formatted error-flagged tool result.
func ToolResultErrorf(format string, args ...any) *ToolResult {
	return ToolResultError(fmt.Sprintf(format, args...))
}
