// Package session owns per-peer connection records and their lifecycle:
// Connecting -> Connected -> Disconnecting -> Disconnected (terminal). A
// session is created when a Connect from an unknown address is accepted and
// swept from the table once it reaches Disconnected.
package session

import (
	"fmt"
	"net"
	"time"

	"quadarena/internal/protocol"
	"quadarena/internal/reliability"
)

// State is a session's lifecycle phase.
type State uint8

const (
	StateConnecting State = iota + 1
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ID is the stable identifier assigned to a session at handshake. Lookups by
// address go through the manager's auxiliary index.
type ID uint32

// Session is the server-side record of one logical connection. The client
// keeps a singular mirror of the same reliability state for its own link.
// Sessions are not self-locking; the owner serializes access.
type Session struct {
	ID       ID
	Addr     net.Addr
	PlayerID uint64
	Color    protocol.Color
	Endpoint *reliability.Endpoint

	state        State
	lastActivity time.Time
	lastSend     time.Time
	lastRTT      time.Duration
}

// State returns the current lifecycle phase.
func (s *Session) State() State { return s.state }

// Touch records inbound activity of any kind.
func (s *Session) Touch(now time.Time) { s.lastActivity = now }

// LastActivity returns when the last packet was received from the peer.
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// MarkSend records that a packet was sent to the peer, suppressing the next
// idle heartbeat.
func (s *Session) MarkSend(now time.Time) { s.lastSend = now }

// LastSend returns when a packet was last sent to the peer.
func (s *Session) LastSend() time.Time { return s.lastSend }

// RecordRTT stores the most recent heartbeat round-trip estimate.
func (s *Session) RecordRTT(rtt time.Duration) {
	if rtt < 0 {
		rtt = 0
	}
	s.lastRTT = rtt
}

// RTT returns the last recorded round-trip estimate.
func (s *Session) RTT() time.Duration { return s.lastRTT }

// Establish moves a Connecting session to Connected. It reports whether the
// transition happened; the first packet referencing the session completes
// the handshake.
func (s *Session) Establish() bool {
	if s.state != StateConnecting {
		return false
	}
	s.state = StateConnected
	return true
}

// BeginDisconnect marks a session that is being torn down by the sweep.
func (s *Session) BeginDisconnect() {
	if s.state == StateConnecting || s.state == StateConnected {
		s.state = StateDisconnecting
	}
}

// Close moves the session to its terminal state exactly once, canceling all
// pending retransmissions. It reports whether this call performed the
// transition; after it returns false the session must not be mutated again.
func (s *Session) Close() bool {
	if s.state == StateDisconnected {
		return false
	}
	s.state = StateDisconnected
	s.Endpoint.Clear()
	return true
}
