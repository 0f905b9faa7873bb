// Package sse implements the per-session push channel of the mock MCP
// server: one Server-Sent-Events stream per session, with keepalive
// comments, FIFO notification delivery, and programmable fault
// injection (forced drops, delivery delays, drop-after-N rules).
//
// Every connection state change and every delivery attempt is recorded
// in an append-only event log so tests can assert on exactly what a
// client observed. Aggregate statistics are derived from that log, not
// maintained as separate counters.
package sse
