package session

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"quadarena/internal/protocol"
)

func testAddr(n int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000 + n}
}

func TestLifecycleTransitions(t *testing.T) {
	m := NewManager(4, 0, 0)
	now := time.Now()

	s, err := m.Create(testAddr(1), 7, protocol.Color{R: 1}, now)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if got := s.State(); got != StateConnecting {
		t.Fatalf("new session state = %v, want connecting", got)
	}
	if len(m.Connected()) != 0 {
		t.Fatalf("connecting session listed as connected")
	}

	if !s.Establish() {
		t.Fatalf("Establish on a connecting session failed")
	}
	if s.Establish() {
		t.Fatalf("Establish succeeded twice")
	}
	if got := s.State(); got != StateConnected {
		t.Fatalf("state after Establish = %v, want connected", got)
	}
	if got := len(m.Connected()); got != 1 {
		t.Fatalf("Connected() lists %d sessions, want 1", got)
	}

	s.BeginDisconnect()
	if got := s.State(); got != StateDisconnecting {
		t.Fatalf("state after BeginDisconnect = %v, want disconnecting", got)
	}
	if s.Establish() {
		t.Fatalf("disconnecting session re-established")
	}

	if !s.Close() {
		t.Fatalf("Close on a live session failed")
	}
	if s.Close() {
		t.Fatalf("Close performed the terminal transition twice")
	}
	if got := s.State(); got != StateDisconnected {
		t.Fatalf("state after Close = %v, want disconnected", got)
	}
}

func TestCreateEnforcesLimit(t *testing.T) {
	m := NewManager(2, 0, 0)
	now := time.Now()

	for i := 0; i < 2; i++ {
		if _, err := m.Create(testAddr(i), uint64(i+1), protocol.Color{}, now); err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
	}
	if _, err := m.Create(testAddr(9), 9, protocol.Color{}, now); !errors.Is(err, ErrSessionLimit) {
		t.Fatalf("Create above the limit = %v, want ErrSessionLimit", err)
	}

	// Removing one frees a slot.
	m.Remove(1)
	if _, err := m.Create(testAddr(9), 9, protocol.Color{}, now); err != nil {
		t.Fatalf("Create after Remove failed: %v", err)
	}
}

func TestLimitCappedBySnapshotCapacity(t *testing.T) {
	m := NewManager(1000, 0, 0)
	if got := m.Limit(); got != protocol.MaxSnapshotPlayers {
		t.Fatalf("Limit = %d, want %d", got, protocol.MaxSnapshotPlayers)
	}
}

func TestByAddrResolvesSessions(t *testing.T) {
	m := NewManager(4, 0, 0)
	now := time.Now()
	s, err := m.Create(testAddr(1), 1, protocol.Color{}, now)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if got := m.ByAddr(testAddr(1)); got != s {
		t.Fatalf("ByAddr returned %v, want the created session", got)
	}
	if got := m.ByAddr(testAddr(2)); got != nil {
		t.Fatalf("ByAddr for an unknown address returned %v", got)
	}
	m.Remove(s.ID)
	if got := m.ByAddr(testAddr(1)); got != nil {
		t.Fatalf("ByAddr after Remove returned %v", got)
	}
}

func TestSweepExpiresAtTimeout(t *testing.T) {
	const timeout = 5 * time.Second
	m := NewManager(4, 0, 0)
	base := time.Now()

	fresh, err := m.Create(testAddr(1), 1, protocol.Color{}, base)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	fresh.Establish()
	stale, err := m.Create(testAddr(2), 2, protocol.Color{}, base)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	stale.Establish()

	fresh.Touch(base.Add(time.Second))

	// Just under the timeout: nobody expires.
	if expired := m.Sweep(base.Add(timeout-time.Millisecond), timeout); len(expired) != 0 {
		t.Fatalf("sweep expired %d sessions before the timeout", len(expired))
	}

	// Exactly at the timeout the idle session expires on this sweep.
	expired := m.Sweep(base.Add(timeout), timeout)
	if len(expired) != 1 || expired[0] != stale {
		t.Fatalf("sweep expired %v, want exactly the idle session", expired)
	}
	if got := stale.State(); got != StateDisconnected {
		t.Fatalf("expired session state = %v, want disconnected", got)
	}
	if m.Get(stale.ID) != nil {
		t.Fatalf("expired session still in the table")
	}
	if m.Get(fresh.ID) == nil {
		t.Fatalf("active session removed by sweep")
	}
}

func TestSessionsOrderedByID(t *testing.T) {
	m := NewManager(8, 0, 0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		if _, err := m.Create(testAddr(i), uint64(i+1), protocol.Color{}, now); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	prev := ID(0)
	for _, s := range m.Sessions() {
		if s.ID <= prev {
			t.Fatalf("sessions out of order: %d after %d", s.ID, prev)
		}
		prev = s.ID
	}
}

func TestSessionStateStrings(t *testing.T) {
	for state, want := range map[State]string{
		StateConnecting:    "connecting",
		StateConnected:     "connected",
		StateDisconnecting: "disconnecting",
		StateDisconnected:  "disconnected",
	} {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
	if got := State(99).String(); got != fmt.Sprintf("state(%d)", 99) {
		t.Fatalf("unknown state string = %q", got)
	}
}
