package mcp

import "fmt"

// Standard JSON-RPC 2.0 error codes.
const (
	// ErrCodeParseError indicates the body was not valid JSON.
	ErrCodeParseError = -32700

	// ErrCodeInvalidRequest indicates a structurally invalid envelope.
	ErrCodeInvalidRequest = -32600

	// ErrCodeMethodNotFound indicates an unknown method name.
	ErrCodeMethodNotFound = -32601

	// ErrCodeInvalidParams indicates malformed method or tool arguments.
	ErrCodeInvalidParams = -32602

	// ErrCodeInternalError indicates a handler failure.
	ErrCodeInternalError = -32603
)

// Server-specific error codes.
const (
	// ErrCodeSessionNotFound indicates a missing, unknown, or expired
	// session. Reported with HTTP 404, distinct from parse errors.
	ErrCodeSessionNotFound = -32001
)

// Error implements the error interface.
func (e *JSONRPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s (%d): %v", e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// ParseError creates a -32700 error for a malformed request body.
func ParseError(detail string) *JSONRPCError {
	return &JSONRPCError{Code: ErrCodeParseError, Message: "Parse error: " + detail}
}

// InvalidRequestError creates a -32600 error.
func InvalidRequestError(detail string) *JSONRPCError {
	return &JSONRPCError{Code: ErrCodeInvalidRequest, Message: "Invalid request: " + detail}
}

// MethodNotFoundError creates a -32601 error for an unknown method.
func MethodNotFoundError(method string) *JSONRPCError {
	return &JSONRPCError{
		Code:    ErrCodeMethodNotFound,
		Message: "Method not found",
		Data:    map[string]string{"method": method},
	}
}

// InvalidParamsError creates a -32602 error.
func InvalidParamsError(detail string) *JSONRPCError {
	return &JSONRPCError{Code: ErrCodeInvalidParams, Message: "Invalid params: " + detail}
}

// UnknownToolError creates a -32602 error for a tool name no handler owns.
func UnknownToolError(name string) *JSONRPCError {
	return &JSONRPCError{
		Code:    ErrCodeInvalidParams,
		Message: "Unknown tool",
		Data:    map[string]string{"tool": name},
	}
}

// InternalError creates a -32603 error wrapping a handler failure.
func InternalError(err error) *JSONRPCError {
	rpcErr := &JSONRPCError{Code: ErrCodeInternalError, Message: "Internal error"}
	if err != nil {
		rpcErr.Data = map[string]string{"detail": err.Error()}
	}
	return rpcErr
}

// SessionNotFoundError creates a -32001 error for a missing, unknown,
// or lazily-expired session.
func SessionNotFoundError(sessionID string) *JSONRPCError {
	rpcErr := &JSONRPCError{Code: ErrCodeSessionNotFound, Message: "Session not found"}
	if sessionID != "" {
		rpcErr.Data = map[string]string{"sessionId": sessionID}
	}
	return rpcErr
}

// ErrorResponse builds a JSON-RPC error response.
func ErrorResponse(id any, err *JSONRPCError) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: err}
}

// SuccessResponse builds a JSON-RPC success response.
func SuccessResponse(id any, result any) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}
