package sse

import (
	"sync"
	"time"
)

// ConnectionEventType classifies a channel lifecycle event.
type ConnectionEventType string

// Channel lifecycle event types.
const (
	EventConnected    ConnectionEventType = "connected"
	EventDisconnected ConnectionEventType = "disconnected"
	EventDropped      ConnectionEventType = "dropped"
	EventReconnected  ConnectionEventType = "reconnected"
	EventKeepalive    ConnectionEventType = "keepalive"
)

// ConnectionEvent records a single channel lifecycle transition.
// Events are never mutated after creation.
type ConnectionEvent struct {
	Type      ConnectionEventType `json:"type"`
	SessionID string              `json:"sessionId"`
	Timestamp time.Time           `json:"timestamp"`
}

// NotificationEvent records one delivery attempt for a notification.
type NotificationEvent struct {
	Method    string    `json:"method"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Delivered bool      `json:"delivered"`
}

// EventLog is the append-only record of connection and notification
// events, retained per session for test assertions.
type EventLog struct {
	mu            sync.RWMutex
	connections   map[string][]ConnectionEvent
	notifications map[string][]NotificationEvent
}

// NewEventLog creates an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{
		connections:   make(map[string][]ConnectionEvent),
		notifications: make(map[string][]NotificationEvent),
	}
}

// RecordConnection appends a connection event for a session.
func (l *EventLog) RecordConnection(typ ConnectionEventType, sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connections[sessionID] = append(l.connections[sessionID], ConnectionEvent{
		Type:      typ,
		SessionID: sessionID,
		Timestamp: time.Now(),
	})
}

// RecordNotification appends a delivery attempt for a session.
func (l *EventLog) RecordNotification(method, sessionID string, delivered bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notifications[sessionID] = append(l.notifications[sessionID], NotificationEvent{
		Method:    method,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Delivered: delivered,
	})
}

// ConnectionEvents returns a copy of the connection events for a session.
func (l *EventLog) ConnectionEvents(sessionID string) []ConnectionEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := make([]ConnectionEvent, len(l.connections[sessionID]))
	copy(events, l.connections[sessionID])
	return events
}

// NotificationEvents returns a copy of the delivery attempts for a session.
func (l *EventLog) NotificationEvents(sessionID string) []NotificationEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := make([]NotificationEvent, len(l.notifications[sessionID]))
	copy(events, l.notifications[sessionID])
	return events
}

// CountConnections returns the number of connection events of the given
// type across all sessions.
func (l *EventLog) CountConnections(typ ConnectionEventType) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, events := range l.connections {
		for _, ev := range events {
			if ev.Type == typ {
				n++
			}
		}
	}
	return n
}

// CountNotifications returns the number of delivery attempts with the
// given outcome across all sessions.
func (l *EventLog) CountNotifications(delivered bool) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, events := range l.notifications {
		for _, ev := range events {
			if ev.Delivered == delivered {
				n++
			}
		}
	}
	return n
}

// Clear discards all recorded events. Used between test cases.
func (l *EventLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connections = make(map[string][]ConnectionEvent)
	l.notifications = make(map[string][]NotificationEvent)
}
