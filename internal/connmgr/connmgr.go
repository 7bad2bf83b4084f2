// Package connmgr is the in-memory registry of active control-plane
// client sessions described in spec.md §4.C: it tracks subscriptions,
// rate limits, and client metadata, and fans events out to many
// clients at once. It never blocks on a slow client — a failed send
// only disconnects the failing connection.
package connmgr

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kvnkishore11/agentickanban/internal/logging"
	"github.com/kvnkishore11/agentickanban/pkg/events"
)

const (
	// RateLimitWindow is the sliding window over which trigger
	// messages are counted, per spec.md §4.C / §5.
	RateLimitWindow = 60 * time.Second
	// RateLimitMax is the number of triggers allowed per window; the
	// (RateLimitMax+1)th is rejected.
	RateLimitMax = 30
	// IdleTimeout is how long a session may go without activity
	// before reap_idle disconnects it.
	IdleTimeout = 300 * time.Second
)

// safeConn wraps a *websocket.Conn with a mutex; gorilla/websocket
// does not support concurrent writers from multiple goroutines.
type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (sc *safeConn) writeJSON(v interface{}) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.WriteJSON(v)
}

func (sc *safeConn) close() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.Close()
}

// session is one active control connection.
type session struct {
	connectionID    string
	clientSessionID string
	conn            *safeConn
	clientInfo      interface{}

	connectedAt    time.Time
	lastActivityAt time.Time
	messageCount   int64

	mu               sync.Mutex
	triggerTimestamps []time.Time
	subscribedADWIDs  map[string]bool // nil/empty means "receive all"
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActivityAt = time.Now().UTC()
	s.messageCount++
	s.mu.Unlock()
}

func (s *session) isIdle(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivityAt) > IdleTimeout
}

// checkRateLimit records a trigger attempt at now and reports whether
// it is within the rolling RateLimitWindow quota. It always prunes
// timestamps older than the window first, per spec.md §4.C / §8
// property 9.
func (s *session) checkRateLimit(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-RateLimitWindow)
	kept := s.triggerTimestamps[:0]
	for _, ts := range s.triggerTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.triggerTimestamps = kept

	if len(s.triggerTimestamps) >= RateLimitMax {
		return false
	}
	s.triggerTimestamps = append(s.triggerTimestamps, now)
	return true
}

func (s *session) subscriptions() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subscribedADWIDs) == 0 {
		return nil
	}
	out := make(map[string]bool, len(s.subscribedADWIDs))
	for k := range s.subscribedADWIDs {
		out[k] = true
	}
	return out
}

// Manager is the thread-safe connection registry. All mutations are
// guarded by a single mutex held only for O(1) pointer operations;
// it is never held across a network write.
type Manager struct {
	mu              sync.RWMutex
	sessions        map[string]*session // connectionID -> session
	sessionsByAppID map[string]map[string]*session // clientSessionID -> connectionID -> session
}

// NewManager constructs an empty registry.
func NewManager() *Manager {
	return &Manager{
		sessions:        make(map[string]*session),
		sessionsByAppID: make(map[string]map[string]*session),
	}
}

// Connect registers a new connection, assigns it a connection_id, and
// sends a connection_ack event. Returns the assigned id.
func (m *Manager) Connect(conn *websocket.Conn, clientInfo interface{}) string {
	connectionID := uuid.New().String()
	now := time.Now().UTC()

	s := &session{
		connectionID:   connectionID,
		conn:           &safeConn{conn: conn},
		clientInfo:     clientInfo,
		connectedAt:    now,
		lastActivityAt: now,
	}

	m.mu.Lock()
	m.sessions[connectionID] = s
	m.mu.Unlock()

	_ = s.conn.writeJSON(events.New(events.TypeConnectionAck, events.ConnectionAckPayload{ConnectionID: connectionID}))
	logging.Info("connmgr: connection %s established", connectionID)
	return connectionID
}

// Disconnect removes connectionID from the registry and, if it had
// registered a client_session_id, drops it from the per-session index
// too.
func (m *Manager) Disconnect(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[connectionID]
	if !ok {
		return
	}
	delete(m.sessions, connectionID)

	if s.clientSessionID != "" {
		if byConn, ok := m.sessionsByAppID[s.clientSessionID]; ok {
			delete(byConn, connectionID)
			if len(byConn) == 0 {
				delete(m.sessionsByAppID, s.clientSessionID)
			}
		}
	}
	_ = s.conn.close()
	logging.Info("connmgr: connection %s disconnected", connectionID)
}

// RegisterSession binds connectionID to an application-level
// client_session_id so multiple tabs belonging to one user can be
// deduplicated on fan-out.
func (m *Manager) RegisterSession(connectionID, clientSessionID string, clientInfo interface{}) bool {
	m.mu.Lock()
	s, ok := m.sessions[connectionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	s.clientSessionID = clientSessionID
	if clientInfo != nil {
		s.clientInfo = clientInfo
	}
	if m.sessionsByAppID[clientSessionID] == nil {
		m.sessionsByAppID[clientSessionID] = make(map[string]*session)
	}
	m.sessionsByAppID[clientSessionID][connectionID] = s
	m.mu.Unlock()

	s.touch()
	return true
}

// SubscribeToADW adds adwID to connectionID's subscription set. A
// connection with no subscriptions still receives every event; once
// at least one subscription exists, only matching broadcasts reach
// it.
func (m *Manager) SubscribeToADW(connectionID, adwID string) {
	s := m.lookup(connectionID)
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.subscribedADWIDs == nil {
		s.subscribedADWIDs = make(map[string]bool)
	}
	s.subscribedADWIDs[adwID] = true
	s.mu.Unlock()
}

// UnsubscribeFromADW removes adwID from connectionID's subscription
// set.
func (m *Manager) UnsubscribeFromADW(connectionID, adwID string) {
	s := m.lookup(connectionID)
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.subscribedADWIDs, adwID)
	s.mu.Unlock()
}

// CheckRateLimit reports whether connectionID may send another
// trigger_workflow message right now, per the rolling 60s/30-trigger
// quota.
func (m *Manager) CheckRateLimit(connectionID string) bool {
	s := m.lookup(connectionID)
	if s == nil {
		return false
	}
	return s.checkRateLimit(time.Now().UTC())
}

// Touch refreshes last_activity_at for connectionID; call on any
// received message.
func (m *Manager) Touch(connectionID string) {
	if s := m.lookup(connectionID); s != nil {
		s.touch()
	}
}

func (m *Manager) lookup(connectionID string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[connectionID]
}

// SendTo delivers event to exactly one connection. Returns false (and
// disconnects the connection) if the send fails.
func (m *Manager) SendTo(connectionID string, event events.Event) bool {
	s := m.lookup(connectionID)
	if s == nil {
		return false
	}
	if err := s.conn.writeJSON(event); err != nil {
		logging.Warn("connmgr: send to %s failed, disconnecting: %v", connectionID, err)
		m.Disconnect(connectionID)
		return false
	}
	s.touch()
	return true
}

// SendError delivers a structured error event to connectionID.
func (m *Manager) SendError(connectionID, errorType, message string, details interface{}) {
	m.SendTo(connectionID, events.New(events.TypeError, events.ErrorPayload{
		ErrorType: errorType,
		Message:   message,
		Details:   details,
	}))
}

// Broadcast fans event out to every connection. When deduplicateBySession
// is true, at most one send happens per distinct client_session_id;
// connections with no registered session always receive their own
// send. Failed sends are collected and the affected connections are
// disconnected after the fan-out completes, never mutating the
// registry while iterating it.
func (m *Manager) Broadcast(event events.Event, deduplicateBySession bool) {
	m.mu.RLock()
	targets := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	sent := make(map[string]bool)
	var failed []string

	for _, s := range targets {
		if deduplicateBySession && s.clientSessionID != "" {
			if sent[s.clientSessionID] {
				continue
			}
			sent[s.clientSessionID] = true
		}
		if err := s.conn.writeJSON(event); err != nil {
			failed = append(failed, s.connectionID)
			continue
		}
		s.touch()
	}

	for _, id := range failed {
		m.Disconnect(id)
	}
}

// BroadcastForADW sends event only to connections subscribed to adwID,
// plus any connection with no subscription set at all (administrative
// / dev-mode connections).
func (m *Manager) BroadcastForADW(adwID string, event events.Event) {
	m.mu.RLock()
	targets := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	var failed []string
	for _, s := range targets {
		subs := s.subscriptions()
		if subs != nil && !subs[adwID] {
			continue
		}
		if err := s.conn.writeJSON(event); err != nil {
			failed = append(failed, s.connectionID)
			continue
		}
		s.touch()
	}

	for _, id := range failed {
		m.Disconnect(id)
	}
}

// Heartbeat broadcasts a heartbeat event carrying the current
// connection count.
func (m *Manager) Heartbeat() {
	m.mu.RLock()
	count := len(m.sessions)
	m.mu.RUnlock()

	m.Broadcast(events.New(events.TypeHeartbeat, events.HeartbeatPayload{ActiveConnections: count}), false)
}

// ReapIdle closes every session whose last_activity_at is older than
// IdleTimeout.
func (m *Manager) ReapIdle() int {
	now := time.Now().UTC()

	m.mu.RLock()
	var idle []string
	for id, s := range m.sessions {
		if s.isIdle(now) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		logging.Info("connmgr: reaping idle connection %s", id)
		m.Disconnect(id)
	}
	return len(idle)
}

// Count returns the number of active connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll sends a shutdown event to every connection and tears the
// registry down; used on server stop.
func (m *Manager) CloseAll(reason string) {
	m.mu.RLock()
	targets := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		targets = append(targets, id)
	}
	m.mu.RUnlock()

	for _, id := range targets {
		m.SendError(id, "system_error", reason, nil)
		m.Disconnect(id)
	}
}
