package server

import (
	"quadarena/internal/protocol"
	"quadarena/internal/session"
)

// EventType classifies connection events surfaced to collaborators such as
// the GUI layer.
type EventType uint8

const (
	EventPlayerJoined EventType = iota + 1
	EventPlayerLeft
)

// Event describes one player joining or leaving the world. Leave events
// carry the reason: an orderly disconnect, a heartbeat timeout, or a retry
// budget exhausted ("connection lost").
type Event struct {
	Type      EventType
	SessionID session.ID
	PlayerID  uint64
	Color     protocol.Color
	Reason    string
}
