package session

import (
	"errors"
	"net"
	"sort"
	"time"

	"quadarena/internal/protocol"
	"quadarena/internal/reliability"
)

// ErrSessionLimit is returned when accepting another session would exceed
// the configured player limit.
var ErrSessionLimit = errors.New("session: player limit reached")

// Manager is the arena of live sessions, addressed by stable ID with an
// auxiliary index from remote address. It is not self-locking: the transport
// owner serializes all access, matching the single-owner table policy.
type Manager struct {
	limit         int
	retryInterval time.Duration
	retryBudget   int

	nextID   ID
	sessions map[ID]*Session
	byAddr   map[string]ID
}

// NewManager creates an empty session table. limit bounds concurrent
// sessions; retryInterval and retryBudget tune each session's reliability
// endpoint.
func NewManager(limit int, retryInterval time.Duration, retryBudget int) *Manager {
	if limit <= 0 || limit > protocol.MaxSnapshotPlayers {
		limit = protocol.MaxSnapshotPlayers
	}
	return &Manager{
		limit:         limit,
		retryInterval: retryInterval,
		retryBudget:   retryBudget,
		sessions:      make(map[ID]*Session),
		byAddr:        make(map[string]ID),
	}
}

// Limit returns the maximum number of concurrent sessions.
func (m *Manager) Limit() int { return m.limit }

// Count reports how many sessions are tracked, in any live state.
func (m *Manager) Count() int { return len(m.sessions) }

// Create registers a Connecting session for addr. It fails with
// ErrSessionLimit when the table is full; no session is created then.
func (m *Manager) Create(addr net.Addr, playerID uint64, color protocol.Color, now time.Time) (*Session, error) {
	if len(m.sessions) >= m.limit {
		return nil, ErrSessionLimit
	}
	m.nextID++
	s := &Session{
		ID:       m.nextID,
		Addr:     addr,
		PlayerID: playerID,
		Color:    color,
		Endpoint: reliability.NewEndpoint(m.retryInterval, m.retryBudget),
		state:    StateConnecting,
	}
	s.Touch(now)
	m.sessions[s.ID] = s
	m.byAddr[addr.String()] = s.ID
	return s, nil
}

// ByAddr resolves the session a datagram from addr belongs to, or nil.
func (m *Manager) ByAddr(addr net.Addr) *Session {
	id, ok := m.byAddr[addr.String()]
	if !ok {
		return nil
	}
	return m.sessions[id]
}

// Get returns the session with the given ID, or nil.
func (m *Manager) Get(id ID) *Session { return m.sessions[id] }

// Remove deletes a session from the table. The caller is expected to have
// closed it first.
func (m *Manager) Remove(id ID) {
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessions, id)
	delete(m.byAddr, s.Addr.String())
}

// Sessions returns all tracked sessions in ascending ID order, giving the
// deterministic processing order the simulation relies on.
func (m *Manager) Sessions() []*Session {
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Connected returns the Connected sessions in ascending ID order.
func (m *Manager) Connected() []*Session {
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.state == StateConnected {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sweep tears down every session idle for longer than timeout: it runs the
// Disconnecting -> Disconnected transition, cancels pending retransmissions,
// removes the session from the table, and returns the expired sessions so
// the caller can surface disconnect events. A session whose last packet
// arrived inside the window is left untouched.
func (m *Manager) Sweep(now time.Time, timeout time.Duration) []*Session {
	var expired []*Session
	for _, s := range m.Sessions() {
		if s.state != StateConnecting && s.state != StateConnected {
			continue
		}
		if now.Sub(s.lastActivity) < timeout {
			continue
		}
		s.BeginDisconnect()
		if s.Close() {
			expired = append(expired, s)
		}
		m.Remove(s.ID)
	}
	return expired
}
