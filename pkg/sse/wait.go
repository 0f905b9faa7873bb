package sse

import (
	"context"
	"fmt"
	"time"
)

// pollInterval bounds how often the wait helpers re-check their
// condition so they cannot busy-loop.
const pollInterval = 50 * time.Millisecond

// WaitForConnection blocks until a connected channel exists for the
// session, the timeout elapses, or the context is cancelled. The
// condition is checked immediately and then once per poll interval.
func (m *Manager) WaitForConnection(ctx context.Context, sessionID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if m.Connected(sessionID) {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("timed out after %s waiting for channel on session %s", timeout, sessionID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForNotification blocks until a delivered notification with the
// given method is recorded for the session, then returns it. It fails
// after the timeout so tests regress fast instead of hanging.
func (m *Manager) WaitForNotification(ctx context.Context, sessionID, method string, timeout time.Duration) (*NotificationEvent, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		for _, ev := range m.events.NotificationEvents(sessionID) {
			if ev.Delivered && ev.Method == method {
				found := ev
				return &found, nil
			}
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("timed out after %s waiting for notification %q on session %s", timeout, method, sessionID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
