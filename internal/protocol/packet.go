// Package protocol defines the datagram wire format shared by server and
// client: a fixed header carrying sequencing and selective-acknowledgment
// state followed by a kind-specific payload. Encoding and decoding are pure;
// a packet either decodes fully or not at all.
package protocol

import (
	"errors"
	"fmt"
)

const (
	// Version tracks the wire-protocol revision expected by peers.
	Version = 1

	// HeaderSize is the fixed length of the packet header in bytes:
	// [version:1][kind:1][sequence:4][ack:4][ack_bits:4].
	HeaderSize = 14

	// MaxPacketSize bounds a whole datagram so it stays under one path
	// MTU and is never fragmented by the network layer.
	MaxPacketSize = 512
)

// ErrMalformedPacket is returned when a datagram cannot be decoded. The
// transport drops such datagrams without surfacing a session-level fault.
var ErrMalformedPacket = errors.New("protocol: malformed packet")

// ErrUnknownVersion is returned when the header version byte is not ours.
// It wraps ErrMalformedPacket; the transport singles it out so a handshake
// from an incompatible client can still be answered with a reject.
var ErrUnknownVersion = fmt.Errorf("%w: unknown version", ErrMalformedPacket)

// Kind tags the payload carried by a packet.
type Kind uint8

const (
	KindConnect Kind = iota + 1
	KindConnectAccept
	KindConnectReject
	KindDisconnect
	KindHeartbeat
	KindHeartbeatAck
	KindInputCommand
	KindStateSnapshot
	KindEvent

	kindMax = KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindConnectAccept:
		return "connectAccept"
	case KindConnectReject:
		return "connectReject"
	case KindDisconnect:
		return "disconnect"
	case KindHeartbeat:
		return "heartbeat"
	case KindHeartbeatAck:
		return "heartbeatAck"
	case KindInputCommand:
		return "inputCommand"
	case KindStateSnapshot:
		return "stateSnapshot"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Reliable reports whether packets of this kind are retransmitted until
// acknowledged. High-frequency kinds stay best-effort because only the
// newest value matters.
func (k Kind) Reliable() bool {
	switch k {
	case KindConnect, KindConnectAccept, KindDisconnect, KindEvent:
		return true
	default:
		return false
	}
}

// Packet is one datagram's logical content. Sequence is the per-sender
// counter; Ack and AckBits mirror the sender's own receive state so that
// acknowledgments piggy-back on every packet.
type Packet struct {
	Sequence uint32
	Ack      uint32
	AckBits  uint32
	Payload  Payload
}

// Kind returns the tag of the carried payload.
func (p Packet) Kind() Kind {
	if p.Payload == nil {
		return 0
	}
	return p.Payload.kind()
}

// Facing identifies the direction a player is looking at.
type Facing uint8

const (
	FacingDown Facing = iota
	FacingUp
	FacingLeft
	FacingRight
)

func (f Facing) String() string {
	switch f {
	case FacingDown:
		return "down"
	case FacingUp:
		return "up"
	case FacingLeft:
		return "left"
	case FacingRight:
		return "right"
	default:
		return fmt.Sprintf("facing(%d)", uint8(f))
	}
}

// Color is the RGB quad color assigned to a player at handshake.
type Color struct {
	R, G, B uint8
}

// RejectReason explains why a handshake was refused.
type RejectReason uint8

const (
	RejectVersionMismatch RejectReason = iota + 1
	RejectServerFull
)

func (r RejectReason) String() string {
	switch r {
	case RejectVersionMismatch:
		return "protocol version mismatch"
	case RejectServerFull:
		return "server at capacity"
	default:
		return fmt.Sprintf("reject(%d)", uint8(r))
	}
}

// EventType identifies a discrete, low-frequency fact delivered reliably.
type EventType uint8

const (
	EventPlayerJoined EventType = iota + 1
	EventPlayerLeft
)

func (e EventType) String() string {
	switch e {
	case EventPlayerJoined:
		return "playerJoined"
	case EventPlayerLeft:
		return "playerLeft"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// Payload is the closed set of packet bodies. Exhaustive switching on the
// concrete types keeps new kinds from being silently mishandled.
type Payload interface {
	kind() Kind
}

// Connect asks the server to open a session. Carried reliably.
type Connect struct{}

// ConnectAccept completes the handshake with the identity assigned to the
// new session. Carried reliably.
type ConnectAccept struct {
	SessionID uint32
	PlayerID  uint64
	Color     Color
}

// ConnectReject refuses a handshake without creating a session.
type ConnectReject struct {
	Reason RejectReason
}

// Disconnect announces an orderly teardown of the sender's session.
type Disconnect struct{}

// Heartbeat proves liveness when no other traffic is pending. ClientTime is
// the sender's clock in unix milliseconds, echoed back for RTT measurement.
type Heartbeat struct {
	ClientTime int64
}

// HeartbeatAck answers a Heartbeat.
type HeartbeatAck struct {
	ClientTime int64
	ServerTime int64
}

// InputCommand carries one client input sample. Best-effort; the newest
// sample supersedes older ones.
type InputCommand struct {
	PlayerID      uint64
	InputSequence uint32
	DX, DY        float32
	Facing        Facing
	TargetTick    uint64
}

// PlayerUpdate is the wire form of one player's authoritative state.
type PlayerUpdate struct {
	PlayerID  uint64
	X, Y      float32
	VX, VY    float32
	Facing    Facing
	LastInput uint32
	Color     Color
}

// StateSnapshot is the authoritative world state at a tick, broadcast
// unreliably to every connected session.
type StateSnapshot struct {
	Tick       uint64
	ServerTime int64
	Players    []PlayerUpdate
}

// Event carries a discrete fact such as a player joining or leaving.
// Carried reliably.
type Event struct {
	Type     EventType
	PlayerID uint64
	Color    Color
}

func (Connect) kind() Kind       { return KindConnect }
func (ConnectAccept) kind() Kind { return KindConnectAccept }
func (ConnectReject) kind() Kind { return KindConnectReject }
func (Disconnect) kind() Kind    { return KindDisconnect }
func (Heartbeat) kind() Kind     { return KindHeartbeat }
func (HeartbeatAck) kind() Kind  { return KindHeartbeatAck }
func (InputCommand) kind() Kind  { return KindInputCommand }
func (StateSnapshot) kind() Kind { return KindStateSnapshot }
func (Event) kind() Kind         { return KindEvent }

const (
	playerUpdateSize  = 8 + 4 + 4 + 4 + 4 + 1 + 4 + 3
	snapshotFixedSize = 8 + 8 + 1

	// MaxSnapshotPlayers is how many player updates fit in one snapshot
	// packet. The session limit must stay at or below this so a snapshot
	// never needs fragmentation.
	MaxSnapshotPlayers = (MaxPacketSize - HeaderSize - snapshotFixedSize) / playerUpdateSize
)
