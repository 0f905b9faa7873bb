package sse

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func openChannel(t *testing.T, m *Manager, sessionID string) (*Channel, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	ch, err := m.Open(sessionID, rec)
	require.NoError(t, err)
	return ch, rec
}

func TestManager_OpenRecordsConnected(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	_, rec := openChannel(t, m, "s1")

	require.NoError(t, m.WaitForConnection(context.Background(), "s1", waitTimeout))
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := m.Events().ConnectionEvents("s1")
	require.Len(t, events, 1)
	assert.Equal(t, EventConnected, events[0].Type)
	assert.True(t, strings.HasPrefix(rec.Body.String(), ": connected\n\n"))
}

func TestManager_OpenRequiresFlusher(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Open("s1", &plainWriter{header: map[string][]string{}})
	require.Error(t, err)
	assert.Equal(t, 0, m.Count())
}

func TestManager_ReopenRecordsReconnected(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	first, _ := openChannel(t, m, "s1")
	_, _ = openChannel(t, m, "s1")

	select {
	case <-first.Done():
	case <-time.After(waitTimeout):
		t.Fatal("prior channel was not torn down")
	}

	assert.Equal(t, 1, m.Count())
	events := m.Events().ConnectionEvents("s1")
	require.Len(t, events, 2)
	assert.Equal(t, EventConnected, events[0].Type)
	assert.Equal(t, EventReconnected, events[1].Type)
}

func TestManager_SendDelivers(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	_, rec := openChannel(t, m, "s1")

	m.Send("s1", "notifications/progress", map[string]any{"step": 1})

	ev, err := m.WaitForNotification(context.Background(), "s1", "notifications/progress", waitTimeout)
	require.NoError(t, err)
	assert.True(t, ev.Delivered)

	events := m.Events().NotificationEvents("s1")
	require.Len(t, events, 1)
	assert.True(t, events[0].Delivered)

	m.Disconnect("s1")
	body := rec.Body.String()
	assert.Contains(t, body, "event: message\n")
	assert.Contains(t, body, `"method":"notifications/progress"`)
}

func TestManager_SendToUnopenedSessionRecordsFailure(t *testing.T) {
	m := NewManager(nil)

	m.Send("ghost", "notifications/progress", nil)

	events := m.Events().NotificationEvents("ghost")
	require.Len(t, events, 1)
	assert.False(t, events[0].Delivered)
}

func TestManager_SimulateDropThenSendFails(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	ch, _ := openChannel(t, m, "s1")

	m.SimulateDrop("s1")

	select {
	case <-ch.Done():
	case <-time.After(waitTimeout):
		t.Fatal("drop did not destroy the stream")
	}

	m.Send("s1", "notifications/progress", nil)

	events := m.Events().NotificationEvents("s1")
	require.Len(t, events, 1)
	assert.False(t, events[0].Delivered)

	connEvents := m.Events().ConnectionEvents("s1")
	require.Len(t, connEvents, 2)
	assert.Equal(t, EventDropped, connEvents[1].Type)
	assert.Equal(t, 0, m.Count())
}

func TestManager_DropWithQueuedMessagesRecordsFailures(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	openChannel(t, m, "s1")
	m.SimulateDelay("s1", 500*time.Millisecond)

	m.Send("s1", "notifications/progress", nil)
	m.Send("s1", "notifications/message", nil)
	m.Send("s1", "notifications/resources/updated", nil)
	m.SimulateDrop("s1")

	// The drop must account for the delayed in-flight message and the
	// two still queued behind it.
	deadline := time.Now().Add(waitTimeout)
	for len(m.Events().NotificationEvents("s1")) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 delivery attempts, got %d", len(m.Events().NotificationEvents("s1")))
		}
		time.Sleep(10 * time.Millisecond)
	}

	events := m.Events().NotificationEvents("s1")
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.False(t, ev.Delivered, "method %s", ev.Method)
	}
}

func TestManager_SimulateDropTwiceIsHarmless(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	openChannel(t, m, "s1")
	m.SimulateDrop("s1")
	m.SimulateDrop("s1")

	assert.Equal(t, 1, m.Events().CountConnections(EventDropped))
}

func TestManager_Broadcast(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		openChannel(t, m, id)
	}
	m.SimulateDrop("s4")

	m.Broadcast("notifications/resources/list_changed", nil)

	ctx := context.Background()
	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := m.WaitForNotification(ctx, id, "notifications/resources/list_changed", waitTimeout)
		require.NoError(t, err, "session %s", id)
	}

	stats := m.Stats()
	assert.Equal(t, 3, stats.ActiveChannels)
	assert.Equal(t, 3, stats.Delivered)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 4, stats.Connections[EventConnected])
	assert.Equal(t, 1, stats.Connections[EventDropped])
}

func TestManager_DropAfterRule(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	m.DropAfter("s1", 2)
	ch, _ := openChannel(t, m, "s1")

	m.Send("s1", "notifications/progress", nil)
	_, err := m.WaitForNotification(context.Background(), "s1", "notifications/progress", waitTimeout)
	require.NoError(t, err)

	// The second message trips the rule: disconnect before sending.
	m.Send("s1", "notifications/progress", nil)

	select {
	case <-ch.Done():
	case <-time.After(waitTimeout):
		t.Fatal("drop-after rule did not destroy the stream")
	}

	assert.Equal(t, 1, m.Events().CountConnections(EventDropped))
	assert.Equal(t, 1, m.Events().CountNotifications(false))
	assert.Equal(t, 1, m.Events().CountNotifications(true))
}

func TestManager_DropAfterRuleSurvivesReconnect(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	m.DropAfter("s1", 1)
	openChannel(t, m, "s1")
	m.Send("s1", "notifications/progress", nil)
	assert.Equal(t, 1, m.Events().CountConnections(EventDropped))

	openChannel(t, m, "s1")
	m.Send("s1", "notifications/progress", nil)
	assert.Equal(t, 2, m.Events().CountConnections(EventDropped))
}

func TestManager_SimulateDelay(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	openChannel(t, m, "s1")
	m.SimulateDelay("s1", 200*time.Millisecond)

	start := time.Now()
	m.Send("s1", "notifications/progress", nil)
	_, err := m.WaitForNotification(context.Background(), "s1", "notifications/progress", waitTimeout)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestManager_ClearDelay(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	openChannel(t, m, "s1")
	m.SimulateDelay("s1", time.Hour)
	m.ClearDelay("s1")

	m.Send("s1", "notifications/progress", nil)
	_, err := m.WaitForNotification(context.Background(), "s1", "notifications/progress", waitTimeout)
	require.NoError(t, err)
}

func TestManager_ClearRules(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	openChannel(t, m, "s1")
	m.DropAfter("s1", 1)
	m.SimulateDelay("s1", time.Hour)
	m.ClearRules("s1")

	m.Send("s1", "notifications/progress", nil)
	_, err := m.WaitForNotification(context.Background(), "s1", "notifications/progress", waitTimeout)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Events().CountConnections(EventDropped))
}

func TestManager_DisconnectRemovesChannel(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	ch, _ := openChannel(t, m, "s1")
	m.Disconnect("s1")

	select {
	case <-ch.Done():
	case <-time.After(waitTimeout):
		t.Fatal("disconnect did not destroy the stream")
	}

	events := m.Events().ConnectionEvents("s1")
	require.Len(t, events, 2)
	assert.Equal(t, EventDisconnected, events[1].Type)

	// A graceful close removes the entry entirely, so the next open is
	// a fresh connect, not a reconnect.
	openChannel(t, m, "s1")
	events = m.Events().ConnectionEvents("s1")
	require.Len(t, events, 3)
	assert.Equal(t, EventConnected, events[2].Type)
}

func TestManager_DisconnectChannelIgnoresReplacedChannel(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	old, _ := openChannel(t, m, "s1")
	openChannel(t, m, "s1")

	// A handler parked on the old stream wakes up after the client has
	// already reconnected; its close must not touch the successor.
	m.DisconnectChannel(old)

	assert.True(t, m.Connected("s1"))
	assert.Equal(t, 0, m.Events().CountConnections(EventDisconnected))

	m.Send("s1", "notifications/progress", nil)
	_, err := m.WaitForNotification(context.Background(), "s1", "notifications/progress", waitTimeout)
	require.NoError(t, err)
}

func TestManager_DisconnectAfterDropKeepsEntry(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	openChannel(t, m, "s1")
	m.SimulateDrop("s1")
	m.Disconnect("s1")

	// Still tracked as dropped: sends keep recording failures.
	m.Send("s1", "notifications/progress", nil)
	assert.Equal(t, 1, m.Events().CountNotifications(false))
	assert.Equal(t, 0, m.Events().CountConnections(EventDisconnected))
}

func TestManager_KeepaliveRecorded(t *testing.T) {
	m := NewManager(&Config{KeepaliveInterval: 20 * time.Millisecond})
	defer m.Shutdown()

	_, rec := openChannel(t, m, "s1")

	deadline := time.Now().Add(waitTimeout)
	for m.Events().CountConnections(EventKeepalive) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no keepalive recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	m.Disconnect("s1")
	assert.Contains(t, rec.Body.String(), ": keepalive\n\n")
}

func TestManager_WaitForConnectionTimesOut(t *testing.T) {
	m := NewManager(nil)
	err := m.WaitForConnection(context.Background(), "ghost", 120*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestManager_WaitForNotificationTimesOut(t *testing.T) {
	m := NewManager(nil)
	_, err := m.WaitForNotification(context.Background(), "ghost", "notifications/progress", 120*time.Millisecond)
	require.Error(t, err)
}

func TestManager_WaitHonorsContext(t *testing.T) {
	m := NewManager(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.WaitForConnection(ctx, "ghost", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManager_Shutdown(t *testing.T) {
	m := NewManager(nil)

	ch1, _ := openChannel(t, m, "s1")
	ch2, _ := openChannel(t, m, "s2")
	m.SimulateDrop("s2")

	m.Shutdown()
	m.Shutdown() // second shutdown must be harmless

	for _, ch := range []*Channel{ch1, ch2} {
		select {
		case <-ch.Done():
		case <-time.After(waitTimeout):
			t.Fatal("shutdown left a channel alive")
		}
	}

	assert.Equal(t, 0, m.Count())
	// s1 was live at shutdown: one disconnected event. s2 was already
	// dropped: no extra disconnected event.
	assert.Equal(t, 1, m.Events().CountConnections(EventDisconnected))
	assert.Equal(t, 1, m.Events().CountConnections(EventDropped))
}

func TestManager_ShutdownConcurrentWithStats(t *testing.T) {
	m := NewManager(nil)
	for _, id := range []string{"s1", "s2", "s3"} {
		openChannel(t, m, id)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			m.Stats()
			m.Connected("s1")
		}
	}()

	m.Shutdown()
	<-done

	assert.Equal(t, 0, m.Count())
}
