package app

import (
	"sort"
	"sync"

	"github.com/dkeye/bridge/internal/core"
	"github.com/rs/zerolog/log"
)

// Binder registers one forwarder for event on b and returns its unsubscriber.
type Binder func(b core.Backend, event string) (unsubscribe func())

// Session holds the process-wide bridge state: the backend instance, the
// active connection and the subscription set. The subscription set outlives
// backend instances; forwarders belong to the current instance only.
type Session struct {
	mu sync.RWMutex

	backend core.Backend
	hooks   []func()

	conn core.Connection

	subs       map[string]struct{}
	forwarders map[string]func()

	connState core.ConnectionUpdate
}

// Status is a read-only view for health endpoints.
type Status struct {
	Initialized     bool                 `json:"initialized"`
	Connected       bool                 `json:"connected"`
	ConnectionID    string               `json:"connection_id,omitempty"`
	Subscriptions   []string             `json:"subscriptions"`
	BackendState    core.ConnectionState `json:"backend_state,omitempty"`
	ShouldReconnect bool                 `json:"should_reconnect"`
}

func NewSession() *Session {
	return &Session{
		subs:       make(map[string]struct{}),
		forwarders: make(map[string]func()),
	}
}

func (s *Session) Backend() (core.Backend, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend, s.backend != nil
}

func (s *Session) Connection() (core.Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn, s.conn != nil
}

// Attach makes conn the active connection and returns the one it replaced.
// The caller owns closing the previous connection.
func (s *Session) Attach(conn core.Connection) core.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.conn
	s.conn = conn
	if prev != nil {
		log.Info().Str("module", "app.session").Str("conn", conn.ID()).Str("prev", prev.ID()).Msg("connection superseded")
	} else {
		log.Info().Str("module", "app.session").Str("conn", conn.ID()).Msg("connection attached")
	}
	return prev
}

// Detach clears the active connection if it is still conn.
func (s *Session) Detach(conn core.Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return false
	}
	s.conn = nil
	log.Info().Str("module", "app.session").Str("conn", conn.ID()).Msg("connection detached")
	return true
}

// Subscribe records event in the subscription set. When a backend is
// installed and event has no forwarder yet, exactly one is registered through
// bind. It reports whether a forwarder was registered by this call.
func (s *Session) Subscribe(event string, bind Binder) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[event] = struct{}{}
	if s.backend == nil {
		log.Debug().Str("module", "app.session").Str("event", event).Msg("subscription recorded, no backend yet")
		return false
	}
	if _, ok := s.forwarders[event]; ok {
		return false
	}
	s.forwarders[event] = bind(s.backend, event)
	log.Info().Str("module", "app.session").Str("event", event).Msg("forwarder registered")
	return true
}

// Unsubscribe removes event from the set and detaches its forwarder.
func (s *Session) Unsubscribe(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[event]
	delete(s.subs, event)
	if unsub, bound := s.forwarders[event]; bound {
		unsub()
		delete(s.forwarders, event)
	}
	if ok {
		log.Info().Str("module", "app.session").Str("event", event).Msg("unsubscribed")
	}
	return ok
}

func (s *Session) Subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subs))
	for name := range s.subs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Session) Forwarding(event string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.forwarders[event]
	return ok
}

// InstallBackend replaces the current backend with b. Forwarders and hooks of
// the previous instance are detached, hooks become owned by the session, and
// one forwarder per recorded subscription is registered on b.
// The previous instance is returned for the caller to dispose of.
func (s *Session) InstallBackend(b core.Backend, hooks []func(), bind Binder) core.Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.teardownLocked()
	s.backend = b
	s.hooks = hooks
	s.connState = core.ConnectionUpdate{}
	for event := range s.subs {
		s.forwarders[event] = bind(b, event)
	}
	log.Info().Str("module", "app.session").Int("forwarders", len(s.forwarders)).Bool("replaced", prev != nil).Msg("backend installed")
	return prev
}

// ClearBackend removes the current backend, if any, and returns it.
func (s *Session) ClearBackend() core.Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.teardownLocked()
	if prev != nil {
		log.Info().Str("module", "app.session").Msg("backend cleared")
	}
	return prev
}

func (s *Session) teardownLocked() core.Backend {
	for event, unsub := range s.forwarders {
		unsub()
		delete(s.forwarders, event)
	}
	for _, unsub := range s.hooks {
		unsub()
	}
	s.hooks = nil
	prev := s.backend
	s.backend = nil
	return prev
}

func (s *Session) SetConnectionState(u core.ConnectionUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Connection != "" {
		s.connState.Connection = u.Connection
	}
	if u.LastDisconnect != nil {
		s.connState.LastDisconnect = u.LastDisconnect
	}
}

func (s *Session) ConnectionState() core.ConnectionUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connState
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		Initialized:     s.backend != nil,
		Connected:       s.conn != nil,
		Subscriptions:   make([]string, 0, len(s.subs)),
		BackendState:    s.connState.Connection,
		ShouldReconnect: s.connState.ShouldReconnect(),
	}
	if s.conn != nil {
		st.ConnectionID = s.conn.ID()
	}
	for name := range s.subs {
		st.Subscriptions = append(st.Subscriptions, name)
	}
	sort.Strings(st.Subscriptions)
	return st
}
