// Package mcp implements a protocol-faithful mock of the MCP
// Streamable HTTP transport: JSON-RPC 2.0 over HTTP POST plus one
// Server-Sent-Events push channel per session.
//
// The server exists to test MCP clients against realistic transport
// failure modes without a real backend. Sessions can be expired on a
// schedule, push channels can be dropped or delayed on demand, and
// every tool category is a pluggable handler whose responses and
// errors are configurable per test case.
//
// # HTTP surface
//
//   - GET  /health — liveness probe
//   - POST /mcp    — JSON-RPC request or notification
//   - GET  /mcp    — push channel (text/event-stream)
//   - DELETE /mcp  — explicit session termination
//
// The session ID travels in the Mcp-Session-Id header on every call
// after initialize, and the server echoes it on every RPC response so
// clients can discover the ID assigned during initialize.
//
// # Error model
//
// Malformed bodies fail the HTTP exchange with 400 and -32700; missing
// or expired sessions with 404 and -32001. Everything else — unknown
// methods, bad tool arguments, handler failures — is a payload-level
// JSON-RPC error carried on a 200 response.
package mcp
