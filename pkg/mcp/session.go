package mcp

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTimeout is the idle window after which a session
// becomes unreachable.
const DefaultSessionTimeout = 30 * time.Minute

// Session is the server-side state scoping a sequence of RPC calls
// and at most one concurrent push channel. All fields are owned by the
// SessionStore and mutated under its mutex.
type Session struct {
	// ID is the opaque session token assigned at creation.
	ID string

	// Initialized is set once the client sends notifications/initialized.
	Initialized bool

	// ProtocolVersion is the version negotiated during initialize.
	ProtocolVersion string

	// ClientInfo is the identity declared during initialize.
	ClientInfo ClientInfo

	// Subscriptions is the set of subscribed resource URIs.
	Subscriptions map[string]bool

	// LastActivity is refreshed by every touched request.
	LastActivity time.Time

	// RequestCount counts touched requests, monotonically.
	RequestCount int
}

// SessionStore owns session identity, activity tracking, and
// expiration. Expiration is lazy: a read that discovers an expired
// session deletes it and reports it absent. Request-count expiration
// rules let tests exercise client session-recovery deterministically
// without waiting on real timeouts.
type SessionStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	expireAfter map[string]int
	timeout     time.Duration
}

// NewSessionStore creates a store with the given idle timeout.
// A non-positive timeout falls back to the default.
func NewSessionStore(timeout time.Duration) *SessionStore {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &SessionStore{
		sessions:    make(map[string]*Session),
		expireAfter: make(map[string]int),
		timeout:     timeout,
	}
}

// Create registers a new uninitialized session with a unique ID.
func (s *SessionStore) Create() *Session {
	sess := &Session{
		ID:            uuid.NewString(),
		Subscriptions: make(map[string]bool),
		LastActivity:  time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Get returns the session or nil. A session past its idle timeout is
// deleted on discovery and reported absent; the check is idempotent.
func (s *SessionStore) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *SessionStore) getLocked(id string) *Session {
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if time.Since(sess.LastActivity) >= s.timeout {
		delete(s.sessions, id)
		delete(s.expireAfter, id)
		return nil
	}
	return sess
}

// Has reports whether the session is currently reachable, applying the
// same lazy expiration as Get.
func (s *SessionStore) Has(id string) bool {
	return s.Get(id) != nil
}

// Touch refreshes activity and increments the request counter. If a
// scheduled expire-after rule has been reached, the session is evicted
// immediately and the rule cleared; the caller's already-resolved
// session remains usable for the request in flight, so expiry only
// affects the next lookup.
func (s *SessionStore) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getLocked(id)
	if sess == nil {
		return
	}
	sess.RequestCount++
	sess.LastActivity = time.Now()
	if threshold, ok := s.expireAfter[id]; ok && sess.RequestCount >= threshold {
		delete(s.sessions, id)
		delete(s.expireAfter, id)
	}
}

// Expire evicts a session immediately.
func (s *SessionStore) Expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.expireAfter, id)
}

// ExpireAll evicts every session.
func (s *SessionStore) ExpireAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*Session)
	s.expireAfter = make(map[string]int)
}

// ScheduleExpireAfter registers a rule evicting the session once its
// request count reaches n.
func (s *SessionStore) ScheduleExpireAfter(id string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireAfter[id] = n
}

// SetTimeout reconfigures the idle-timeout window at runtime. Tests
// need short windows.
func (s *SessionStore) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.timeout = d
	}
}

// Count returns the number of stored sessions, without triggering
// lazy expiration.
func (s *SessionStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// List returns the IDs of all stored sessions.
func (s *SessionStore) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// MarkInitialized records handshake completion for the session.
func (s *SessionStore) MarkInitialized(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.getLocked(id); sess != nil {
		sess.Initialized = true
	}
}

// SetClientData stores the negotiated protocol version and the client
// identity declared during initialize.
func (s *SessionStore) SetClientData(id, protocolVersion string, info ClientInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.getLocked(id); sess != nil {
		sess.ProtocolVersion = protocolVersion
		sess.ClientInfo = info
	}
}

// Subscribe adds a resource URI to the session's subscription set.
func (s *SessionStore) Subscribe(id, uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.getLocked(id); sess != nil {
		sess.Subscriptions[uri] = true
	}
}

// Unsubscribe removes a resource URI from the session's subscriptions.
func (s *SessionStore) Unsubscribe(id, uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.getLocked(id); sess != nil {
		delete(sess.Subscriptions, uri)
	}
}
