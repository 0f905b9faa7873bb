package sse

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mockmcp/mockmcp/pkg/logging"
)

// DefaultKeepaliveInterval is how often an idle channel receives a
// keepalive comment frame.
const DefaultKeepaliveInterval = 15 * time.Second

const defaultQueueSize = 64

// Config holds push-channel manager configuration.
type Config struct {
	// KeepaliveInterval is the period between keepalive comment frames.
	KeepaliveInterval time.Duration

	// QueueSize is the per-channel outbound queue capacity.
	QueueSize int

	// DropAfterMessages, when positive, is the default drop-after-N
	// rule applied to every new channel. Zero disables the rule.
	DropAfterMessages int

	// NotifyDelay is the default delivery delay applied to every new
	// channel.
	NotifyDelay time.Duration
}

// DefaultConfig returns a Config with production-shaped defaults.
func DefaultConfig() *Config {
	return &Config{
		KeepaliveInterval: DefaultKeepaliveInterval,
		QueueSize:         defaultQueueSize,
	}
}

// notification is the JSON-RPC notification envelope written to the
// push channel.
type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type outbound struct {
	method string
	data   []byte
}

// Channel is one session's push stream. At most one live channel
// exists per session; opening a new one tears down the prior one.
//
// The connected, delay, dropAfter, and msgCount fields are guarded by
// the owning Manager's mutex.
type Channel struct {
	SessionID string

	writer    *StreamWriter
	connected bool
	delay     time.Duration
	dropAfter int
	msgCount  int

	queue     chan outbound
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Done unblocks when the channel is destroyed by any path: graceful
// close, forced drop, or manager shutdown.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// shutdown cancels the keepalive ticker and delivery goroutine and
// unblocks the HTTP handler. Calling it more than once is harmless.
func (c *Channel) shutdown() {
	c.closeOnce.Do(func() {
		c.writer.Close()
		close(c.stop)
		close(c.done)
	})
}

// Manager owns all push channels, keyed by session ID. It delivers
// notifications FIFO per channel, runs keepalive timers, and applies
// fault-injection rules. Delivery failures are never surfaced as
// errors; they are recorded in the event log.
//
// Fault-injection rules are kept in explicit per-session indexes so
// they survive channel reconnects and can be set before a channel is
// first opened.
type Manager struct {
	cfg    *Config
	log    *slog.Logger
	events *EventLog

	mu         sync.Mutex
	channels   map[string]*Channel
	dropRules  map[string]int
	delayRules map[string]time.Duration
}

// NewManager creates a push-channel manager.
func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Manager{
		cfg:        cfg,
		log:        logging.Nop(),
		events:     NewEventLog(),
		channels:   make(map[string]*Channel),
		dropRules:  make(map[string]int),
		delayRules: make(map[string]time.Duration),
	}
}

// SetLogger sets the operational logger.
func (m *Manager) SetLogger(log *slog.Logger) {
	if log != nil {
		m.log = log
	} else {
		m.log = logging.Nop()
	}
}

// Events returns the append-only event log.
func (m *Manager) Events() *EventLog {
	return m.events
}

// Open establishes the push channel for a session. Any prior channel
// for the same session is torn down first, in which case the new
// connection is recorded as "reconnected" rather than "connected".
// Open writes the SSE headers and an immediate confirmation comment,
// then starts the keepalive ticker and the delivery goroutine.
func (m *Manager) Open(sessionID string, w http.ResponseWriter) (*Channel, error) {
	writer, err := NewStreamWriter(w)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	evType := EventConnected
	if prev, ok := m.channels[sessionID]; ok {
		prev.connected = false
		prev.shutdown()
		delete(m.channels, sessionID)
		evType = EventReconnected
	}
	ch := &Channel{
		SessionID: sessionID,
		writer:    writer,
		connected: true,
		delay:     m.cfg.NotifyDelay,
		dropAfter: m.cfg.DropAfterMessages,
		queue:     make(chan outbound, m.cfg.QueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if n, ok := m.dropRules[sessionID]; ok {
		ch.dropAfter = n
	}
	if d, ok := m.delayRules[sessionID]; ok {
		ch.delay = d
	}
	m.channels[sessionID] = ch
	m.mu.Unlock()

	writer.WriteHeaders()
	if err := writer.WriteComment("connected"); err != nil {
		m.mu.Lock()
		delete(m.channels, sessionID)
		m.mu.Unlock()
		ch.shutdown()
		return nil, err
	}
	m.events.RecordConnection(evType, sessionID)
	m.log.Debug("push channel open", "session", sessionID, "event", string(evType))

	go m.keepaliveLoop(ch)
	go m.deliveryLoop(ch)
	return ch, nil
}

// keepaliveLoop writes keepalive comments until the channel is
// destroyed. Closing the channel's stop signal is the sole
// cancellation path for this timer.
func (m *Manager) keepaliveLoop(ch *Channel) {
	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ch.stop:
			return
		case <-ticker.C:
			if err := ch.writer.WriteComment("keepalive"); err != nil {
				m.disconnectOnWriteError(ch)
				return
			}
			m.events.RecordConnection(EventKeepalive, ch.SessionID)
		}
	}
}

// deliveryLoop drains the channel's outbound queue, applying the
// injected delay before each write. Delivery is FIFO per channel. On
// every exit path the remaining queue is drained into failed events,
// so a drop with messages in flight never loses delivery attempts.
func (m *Manager) deliveryLoop(ch *Channel) {
	for {
		select {
		case <-ch.stop:
			m.failPending(ch)
			return
		case out := <-ch.queue:
			if d := m.channelDelay(ch); d > 0 {
				timer := time.NewTimer(d)
				select {
				case <-ch.stop:
					timer.Stop()
					m.events.RecordNotification(out.method, ch.SessionID, false)
					m.failPending(ch)
					return
				case <-timer.C:
				}
			}
			if err := ch.writer.WriteMessage(out.data); err != nil {
				m.events.RecordNotification(out.method, ch.SessionID, false)
				m.disconnectOnWriteError(ch)
				m.failPending(ch)
				return
			}
			m.events.RecordNotification(out.method, ch.SessionID, true)
		}
	}
}

// failPending records a failed delivery for every notification still
// queued on a destroyed channel. Sends enqueue under the manager mutex
// only while the channel is connected, so once the channel is marked
// disconnected the drain observes the final queue contents.
func (m *Manager) failPending(ch *Channel) {
	for {
		select {
		case out := <-ch.queue:
			m.events.RecordNotification(out.method, ch.SessionID, false)
		default:
			return
		}
	}
}

func (m *Manager) channelDelay(ch *Channel) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ch.delay
}

// disconnectOnWriteError removes a channel whose stream failed
// mid-write. A write failure is indistinguishable from the peer going
// away, so it is recorded as a disconnect.
func (m *Manager) disconnectOnWriteError(ch *Channel) {
	m.mu.Lock()
	if cur := m.channels[ch.SessionID]; cur == ch {
		ch.connected = false
		delete(m.channels, ch.SessionID)
		m.mu.Unlock()
		ch.shutdown()
		m.events.RecordConnection(EventDisconnected, ch.SessionID)
		m.log.Debug("push channel write failed", "session", ch.SessionID)
		return
	}
	m.mu.Unlock()
	ch.shutdown()
}

// Send delivers a notification to a session's channel. If the channel
// is absent or disconnected, exactly one failed delivery is recorded
// and nothing else happens. Send never returns an error; tests assert
// on the event log instead.
func (m *Manager) Send(sessionID, method string, params any) {
	data, err := json.Marshal(&notification{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		m.events.RecordNotification(method, sessionID, false)
		return
	}

	m.mu.Lock()
	ch := m.channels[sessionID]
	if ch == nil || !ch.connected {
		m.mu.Unlock()
		m.events.RecordNotification(method, sessionID, false)
		return
	}
	ch.msgCount++
	if ch.dropAfter > 0 && ch.msgCount >= ch.dropAfter {
		count := ch.msgCount
		ch.connected = false
		ch.shutdown()
		m.mu.Unlock()
		m.events.RecordConnection(EventDropped, sessionID)
		m.events.RecordNotification(method, sessionID, false)
		m.log.Debug("drop-after rule fired", "session", sessionID, "count", count)
		return
	}
	// Enqueue under the mutex so no send can slip into the queue after
	// a drop has marked the channel disconnected and drained it.
	select {
	case ch.queue <- outbound{method: method, data: data}:
		m.mu.Unlock()
	default:
		m.mu.Unlock()
		// Queue overflow counts as a failed delivery.
		m.events.RecordNotification(method, sessionID, false)
	}
}

// Broadcast sends a notification to every tracked session, including
// dropped ones, which record failed deliveries.
func (m *Manager) Broadcast(method string, params any) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Send(id, method, params)
	}
}

// SimulateDrop forcibly disconnects a session's channel, modeling an
// abrupt network failure. The channel entry stays tracked so later
// sends record failures, distinguishing a drop from a graceful close.
func (m *Manager) SimulateDrop(sessionID string) {
	m.mu.Lock()
	ch := m.channels[sessionID]
	if ch == nil || !ch.connected {
		m.mu.Unlock()
		return
	}
	ch.connected = false
	ch.shutdown()
	m.mu.Unlock()
	m.events.RecordConnection(EventDropped, sessionID)
	m.log.Debug("push channel dropped", "session", sessionID)
}

// Disconnect handles a graceful close from the client side: the
// keepalive timer is cancelled, a disconnected event is recorded, and
// the channel entry is removed. Dropped entries are left in place for
// failure accounting.
func (m *Manager) Disconnect(sessionID string) {
	m.mu.Lock()
	ch := m.channels[sessionID]
	m.mu.Unlock()
	if ch != nil {
		m.DisconnectChannel(ch)
	}
}

// DisconnectChannel is the channel-scoped variant of Disconnect, used
// by the parked push handler. It no-ops when the session's entry has
// already been replaced by a reconnect, so a handler waking up on its
// own context cancellation cannot tear down the successor channel.
func (m *Manager) DisconnectChannel(ch *Channel) {
	m.mu.Lock()
	if cur := m.channels[ch.SessionID]; cur != ch {
		m.mu.Unlock()
		ch.shutdown()
		return
	}
	if !ch.connected {
		m.mu.Unlock()
		return
	}
	ch.connected = false
	delete(m.channels, ch.SessionID)
	ch.shutdown()
	m.mu.Unlock()
	m.events.RecordConnection(EventDisconnected, ch.SessionID)
	m.log.Debug("push channel closed", "session", ch.SessionID)
}

// SimulateDelay queues future sends to this session with the given
// latency before writing.
func (m *Manager) SimulateDelay(sessionID string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delayRules[sessionID] = d
	if ch := m.channels[sessionID]; ch != nil {
		ch.delay = d
	}
}

// ClearDelay removes an injected delay.
func (m *Manager) ClearDelay(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.delayRules, sessionID)
	if ch := m.channels[sessionID]; ch != nil {
		ch.delay = m.cfg.NotifyDelay
	}
}

// DropAfter registers a drop-after-N-messages rule for a session. The
// rule applies to the live channel, if any, and to future reconnects.
func (m *Manager) DropAfter(sessionID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropRules[sessionID] = n
	if ch := m.channels[sessionID]; ch != nil {
		ch.dropAfter = n
	}
}

// ClearRules removes all fault-injection rules for a session.
func (m *Manager) ClearRules(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dropRules, sessionID)
	delete(m.delayRules, sessionID)
	if ch := m.channels[sessionID]; ch != nil {
		ch.dropAfter = m.cfg.DropAfterMessages
		ch.delay = m.cfg.NotifyDelay
	}
}

// Connected reports whether a live, connected channel exists for the
// session.
func (m *Manager) Connected(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := m.channels[sessionID]
	return ch != nil && ch.connected
}

// Count returns the number of connected channels.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ch := range m.channels {
		if ch.connected {
			n++
		}
	}
	return n
}

// Stats summarizes channel state and delivery outcomes. Everything but
// the active-channel count is derived from the event log, which is the
// single source of truth.
type Stats struct {
	ActiveChannels int                         `json:"activeChannels"`
	Connections    map[ConnectionEventType]int `json:"connections"`
	Delivered      int                         `json:"delivered"`
	Failed         int                         `json:"failed"`
}

// Stats returns aggregate statistics.
func (m *Manager) Stats() Stats {
	stats := Stats{
		ActiveChannels: m.Count(),
		Connections:    make(map[ConnectionEventType]int),
		Delivered:      m.events.CountNotifications(true),
		Failed:         m.events.CountNotifications(false),
	}
	for _, typ := range []ConnectionEventType{
		EventConnected, EventDisconnected, EventDropped, EventReconnected, EventKeepalive,
	} {
		if n := m.events.CountConnections(typ); n > 0 {
			stats.Connections[typ] = n
		}
	}
	return stats
}

// Shutdown destroys every channel. Each channel's timer is cancelled
// exactly once regardless of how it was previously closed.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	chans := m.channels
	m.channels = make(map[string]*Channel)
	wasLive := make([]string, 0, len(chans))
	for id, ch := range chans {
		if ch.connected {
			wasLive = append(wasLive, id)
		}
		ch.connected = false
	}
	m.mu.Unlock()

	for _, ch := range chans {
		ch.shutdown()
	}
	for _, id := range wasLive {
		m.events.RecordConnection(EventDisconnected, id)
	}
}
