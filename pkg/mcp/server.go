package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mockmcp/mockmcp/pkg/logging"
	"github.com/mockmcp/mockmcp/pkg/sse"
)

// Server identity reported during initialize.
const (
	ServerName    = "mockmcp"
	ServerVersion = "0.1.0"
)

// HeaderSessionID carries the session token on every call after
// initialize; the server echoes it on every RPC response.
const HeaderSessionID = "Mcp-Session-Id"

// Server composes the session store, push-channel manager, and handler
// registry behind the HTTP surface.
type Server struct {
	config    *Config
	sessions  *SessionStore
	channels  *sse.Manager
	registry  *Registry
	resources *Catalog

	mu         sync.Mutex
	httpServer *http.Server
	running    bool
	log        *slog.Logger
}

// NewServer creates a server with the built-in tool categories
// registered. Tests typically register their own handlers on top and
// configure canned responses per case.
func NewServer(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		config:   cfg,
		sessions: NewSessionStore(cfg.SessionTimeout),
		channels: sse.NewManager(&sse.Config{
			KeepaliveInterval: cfg.KeepaliveInterval,
			DropAfterMessages: cfg.DropAfterMessages,
			NotifyDelay:       cfg.NotifyDelay,
		}),
		registry:  NewRegistry(),
		resources: NewCatalog(),
		log:       logging.Nop(),
	}
	s.registry.Register(NewEchoHandler())
	s.registry.Register(NewStatusHandler())
	return s
}

// Sessions returns the session store.
func (s *Server) Sessions() *SessionStore { return s.sessions }

// Channels returns the push-channel manager.
func (s *Server) Channels() *sse.Manager { return s.channels }

// Tools returns the handler registry.
func (s *Server) Tools() *Registry { return s.registry }

// Resources returns the resource catalog.
func (s *Server) Resources() *Catalog { return s.resources }

// SetLogger sets the operational logger.
func (s *Server) SetLogger(log *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log != nil {
		s.log = log
	} else {
		s.log = logging.Nop()
	}
	s.channels.SetLogger(s.log)
}

// Notify pushes a notification to one session's channel.
func (s *Server) Notify(sessionID, method string, params any) {
	s.channels.Send(sessionID, method, params)
}

// NotifyAll pushes a notification to every tracked channel.
func (s *Server) NotifyAll(method string, params any) {
	s.channels.Broadcast(method, params)
}

// Reset restores handler defaults and clears the event logs. Call it
// between test cases.
func (s *Server) Reset() {
	s.registry.ResetAll()
	s.channels.Events().Clear()
}

// Handler returns the HTTP handler, for tests that drive the server
// through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc(s.config.Path, s.handleMCP)
	return mux
}

// Start begins listening. The HTTP server deliberately has no write
// timeout: push channels stay open for the life of a session.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	s.httpServer = &http.Server{
		Addr:        s.config.Address(),
		Handler:     s.Handler(),
		ReadTimeout: s.config.ReadTimeout,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("server error", "error", err)
		}
	}()
	s.running = true
	s.log.Info("listening", "addr", s.config.Address(), "path", s.config.Path)
	return nil
}

// Stop shuts the server down, destroying all push channels.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.channels.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.running = false
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleRPC(w, r)
	case http.MethodGet:
		s.handlePush(w, r)
	case http.MethodDelete:
		s.handleSessionDelete(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRPC runs the per-request state machine: parse, resolve or mint
// the session, touch it, route the method. Parse and session failures
// are the only ones that fail the HTTP exchange itself; everything
// after that is a payload-level JSON-RPC error on 200.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	req, parseErr := ParseRequest(r.Body)
	if parseErr != nil {
		s.writeResponse(w, http.StatusBadRequest, "", ErrorResponse(nil, parseErr))
		return
	}

	sessionID := r.Header.Get(HeaderSessionID)
	var sess *Session
	if req.Method == "initialize" {
		if sessionID != "" {
			sess = s.sessions.Get(sessionID)
		}
		if sess == nil {
			sess = s.sessions.Create()
			if s.config.ExpireAfterRequests > 0 {
				s.sessions.ScheduleExpireAfter(sess.ID, s.config.ExpireAfterRequests)
			}
			s.log.Debug("session created", "session", sess.ID)
		}
	} else {
		sess = s.sessions.Get(sessionID)
		if sessionID == "" || sess == nil {
			s.writeResponse(w, http.StatusNotFound, "", ErrorResponse(req.ID, SessionNotFoundError(sessionID)))
			return
		}
	}

	// Touch may trigger a scheduled expiration; the session pointer we
	// already hold keeps the current request serviceable, so only the
	// next lookup observes the eviction.
	s.sessions.Touch(sess.ID)

	result, rpcErr := s.dispatch(sess, req)

	if req.IsNotification() {
		w.Header().Set(HeaderSessionID, sess.ID)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if rpcErr != nil {
		s.writeResponse(w, http.StatusOK, sess.ID, ErrorResponse(req.ID, rpcErr))
		return
	}
	s.writeResponse(w, http.StatusOK, sess.ID, SuccessResponse(req.ID, result))
}

// dispatch routes a request by method name. Handler panics surface as
// internal errors instead of crashing the process.
func (s *Server) dispatch(sess *Session, req *JSONRPCRequest) (result any, rpcErr *JSONRPCError) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("handler panic", "method", req.Method, "panic", rec)
			result = nil
			rpcErr = InternalError(fmt.Errorf("%v", rec))
		}
	}()

	switch req.Method {
	case "initialize":
		return s.handleInitialize(sess, req.Params)
	case "notifications/initialized":
		s.sessions.MarkInitialized(sess.ID)
		return nil, nil
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		return &ToolsListResult{Tools: s.registry.List()}, nil
	case "tools/call":
		return s.handleToolsCall(req.Params)
	case "resources/list":
		return &ResourcesListResult{Resources: s.resources.List()}, nil
	case "resources/subscribe":
		return s.handleSubscribe(sess, req.Params, true)
	case "resources/unsubscribe":
		return s.handleSubscribe(sess, req.Params, false)
	default:
		return nil, MethodNotFoundError(req.Method)
	}
}

func (s *Server) handleInitialize(sess *Session, params json.RawMessage) (any, *JSONRPCError) {
	initParams, err := UnmarshalParams[InitializeParams](params)
	if err != nil {
		return nil, err
	}

	version := ProtocolVersion
	if IsProtocolVersionSupported(initParams.ProtocolVersion) {
		version = initParams.ProtocolVersion
	}
	s.sessions.SetClientData(sess.ID, version, initParams.ClientInfo)

	return &InitializeResult{
		ProtocolVersion: version,
		Capabilities: ServerCapabilities{
			Tools:     &ToolsCapability{},
			Resources: &ResourcesCapability{Subscribe: true},
		},
		ServerInfo: ServerInfo{Name: ServerName, Version: ServerVersion},
	}, nil
}

func (s *Server) handleToolsCall(params json.RawMessage) (any, *JSONRPCError) {
	callParams, err := UnmarshalParamsRequired[ToolCallParams](params)
	if err != nil {
		return nil, err
	}
	if callParams.Name == "" {
		return nil, InvalidParamsError("tool name is required")
	}
	result, dispatchErr := s.registry.Dispatch(callParams.Name, callParams.Arguments)
	if dispatchErr != nil {
		return nil, dispatchErr
	}
	return result, nil
}

func (s *Server) handleSubscribe(sess *Session, params json.RawMessage, subscribe bool) (any, *JSONRPCError) {
	subParams, err := UnmarshalParamsRequired[ResourceSubscribeParams](params)
	if err != nil {
		return nil, err
	}
	if subParams.URI == "" {
		return nil, InvalidParamsError("uri is required")
	}
	if subscribe {
		s.sessions.Subscribe(sess.ID, subParams.URI)
	} else {
		s.sessions.Unsubscribe(sess.ID, subParams.URI)
	}
	return map[string]any{}, nil
}

// handlePush opens the session's push channel and parks the HTTP
// handler until the channel is destroyed or the client goes away.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		http.Error(w, "Session required", http.StatusBadRequest)
		return
	}
	if s.sessions.Get(sessionID) == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	ch, err := s.channels.Open(sessionID, w)
	if err != nil {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	select {
	case <-r.Context().Done():
		// Close this channel specifically: by the time the context
		// fires, the client may already have reconnected and a newer
		// channel may own the session.
		s.channels.DisconnectChannel(ch)
	case <-ch.Done():
	}
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		http.Error(w, "Session required", http.StatusBadRequest)
		return
	}
	s.channels.Disconnect(sessionID)
	s.sessions.Expire(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeResponse(w http.ResponseWriter, status int, sessionID string, resp *JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	if sessionID != "" {
		w.Header().Set(HeaderSessionID, sessionID)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
