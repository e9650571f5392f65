// Package client implements the connecting side of the protocol: the
// handshake, the fixed-rate input stream, heartbeats, snapshot buffering
// with interpolation, and local movement prediction.
package client

import (
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"sync"
	"time"

	"quadarena/internal/game"
	"quadarena/internal/protocol"
	"quadarena/internal/reliability"
	"quadarena/internal/telemetry"
	"quadarena/internal/transport"
)

// ErrConnectTimeout is returned by Dial when the server never answered the
// handshake.
var ErrConnectTimeout = errors.New("client: connect timed out")

// RejectError is returned by Dial when the server refused the handshake.
type RejectError struct {
	Reason protocol.RejectReason
}

func (e *RejectError) Error() string {
	switch e.Reason {
	case protocol.RejectVersionMismatch:
		return "client: connection rejected: protocol version mismatch"
	case protocol.RejectServerFull:
		return "client: connection rejected: server full"
	default:
		return fmt.Sprintf("client: connection rejected: reason %d", e.Reason)
	}
}

// EventType classifies events surfaced by the client.
type EventType uint8

const (
	// EventPlayerJoined and EventPlayerLeft relay the server's reliable
	// join/leave announcements about other players.
	EventPlayerJoined EventType = iota + 1
	EventPlayerLeft

	// EventDisconnected fires once when the connection ends for any
	// reason other than a local Close.
	EventDisconnected
)

// Event is one discrete fact surfaced to the GUI layer.
type Event struct {
	Type     EventType
	PlayerID uint64
	Color    protocol.Color
	Reason   string
}

// Input is the locally sampled movement intent, sent to the server at the
// input rate and applied to the predicted player in between snapshots.
type Input struct {
	DX     float64
	DY     float64
	Facing protocol.Facing
}

// Client is one connection to a server. Its methods are safe for concurrent
// use; the GUI reads View while the network loops run.
type Client struct {
	cfg      Config
	logger   *log.Logger
	counters *telemetry.Counters
	tracer   *transport.Tracer
	core     *transport.Core
	server   net.Addr

	stop      chan struct{}
	stopOnce  sync.Once
	connected chan struct{}
	rejected  chan protocol.RejectReason

	mu        sync.Mutex
	endpoint  *reliability.Endpoint
	sessionID uint32
	playerID  uint64
	color     protocol.Color
	accepted  bool
	closed    bool
	lastRecv  time.Time
	dialBegan time.Time
	rtt       time.Duration
	input     Input
	inputSeq  uint32
	predicted game.PlayerState
	haveSelf  bool
	snapshots game.SnapshotBuffer

	events chan Event
}

// Dial performs the handshake over an already-bound packet connection and
// returns a running client. The handshake is retried on the reliable
// retransmission schedule until the server accepts, rejects, or
// ConnectTimeout passes. On failure the connection is closed.
func Dial(conn net.PacketConn, server net.Addr, cfg Config, logger *log.Logger, counters *telemetry.Counters, tracer *transport.Tracer) (*Client, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		cfg:       cfg,
		logger:    logger,
		counters:  counters,
		tracer:    tracer,
		server:    server,
		stop:      make(chan struct{}),
		connected: make(chan struct{}),
		rejected:  make(chan protocol.RejectReason, 1),
		endpoint:  reliability.NewEndpoint(cfg.RetryInterval, cfg.RetryBudget),
		events:    make(chan Event, 64),
	}
	c.core = transport.NewCore(conn, c, logger, counters, tracer)

	go c.core.Run(c.stop)
	go transport.Every(cfg.RetryInterval, c.stop, c.retransmit)

	now := time.Now()
	c.mu.Lock()
	c.dialBegan = now
	c.lastRecv = now
	c.sendLocked(protocol.Connect{}, now)
	c.mu.Unlock()

	select {
	case <-c.connected:
	case reason := <-c.rejected:
		c.shutdown()
		return nil, &RejectError{Reason: reason}
	case <-time.After(cfg.ConnectTimeout):
		c.shutdown()
		return nil, ErrConnectTimeout
	}

	go transport.Every(time.Second/time.Duration(cfg.InputRate), c.stop, c.sendInput)
	go transport.Every(cfg.HeartbeatInterval, c.stop, c.heartbeat)
	go transport.Every(cfg.SweepInterval, c.stop, c.sweep)
	return c, nil
}

// PlayerID returns the server-assigned player identity.
func (c *Client) PlayerID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

// SessionID returns the server-assigned session identity.
func (c *Client) SessionID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Color returns the server-assigned player color.
func (c *Client) Color() protocol.Color {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.color
}

// RTT returns the most recent heartbeat round-trip time.
func (c *Client) RTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt
}

// Events surfaces join/leave announcements and the disconnect notice. The
// channel is buffered; events are dropped rather than blocking the network
// loops when nobody drains it.
func (c *Client) Events() <-chan Event { return c.events }

// SetInput replaces the sampled movement intent. It takes effect on the
// next input tick.
func (c *Client) SetInput(in Input) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = in
}

// Tick returns the tick of the most recent snapshot, or zero before the
// first one arrives.
func (c *Client) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshots.Tick()
}

// View returns the render state for now: remote players interpolated
// between the two most recent snapshots, and the local player at its
// predicted position.
func (c *Client) View(now time.Time) []game.PlayerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	players := c.snapshots.View(now)
	if !c.haveSelf {
		return players
	}
	for i := range players {
		if players[i].ID == c.playerID {
			players[i] = c.predicted
			return players
		}
	}
	return append(players, c.predicted)
}

// Close announces an orderly disconnect and stops the network loops. It is
// safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		if data, _, err := c.endpoint.Seal(protocol.Disconnect{}, time.Now()); err == nil {
			c.core.SendNow(c.server, data)
		}
	}
	c.mu.Unlock()
	c.shutdown()
}

func (c *Client) shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// HandlePacket implements transport.Handler.
func (c *Client) HandlePacket(from net.Addr, pkt protocol.Packet) {
	if from == nil || from.String() != c.server.String() {
		// The socket is unconnected, so anyone can write to it. Only the
		// dialed server gets to speak.
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if !c.endpoint.Admit(pkt.Sequence) {
		ack, _ := c.endpoint.RemoteAck()
		if !reliability.SequenceNewer(pkt.Sequence, ack) && ack-pkt.Sequence > reliability.WindowSize {
			c.counters.RecordStale()
		} else {
			c.counters.RecordDuplicate()
		}
		return
	}
	c.endpoint.Acknowledge(pkt.Ack, pkt.AckBits)
	c.lastRecv = now

	switch payload := pkt.Payload.(type) {
	case protocol.ConnectAccept:
		if c.accepted {
			return
		}
		c.accepted = true
		c.sessionID = payload.SessionID
		c.playerID = payload.PlayerID
		c.color = payload.Color
		c.predicted = game.PlayerState{ID: payload.PlayerID, Color: payload.Color}
		c.haveSelf = true
		c.logger.Printf("connected as player %d (session %d)", payload.PlayerID, payload.SessionID)
		close(c.connected)
	case protocol.ConnectReject:
		if c.accepted {
			return
		}
		select {
		case c.rejected <- payload.Reason:
		default:
		}
	case protocol.StateSnapshot:
		c.ingestSnapshotLocked(payload, now)
	case protocol.Event:
		switch payload.Type {
		case protocol.EventPlayerJoined:
			c.publishLocked(Event{Type: EventPlayerJoined, PlayerID: payload.PlayerID, Color: payload.Color})
		case protocol.EventPlayerLeft:
			c.publishLocked(Event{Type: EventPlayerLeft, PlayerID: payload.PlayerID})
		}
	case protocol.Heartbeat:
		c.sendLocked(protocol.HeartbeatAck{
			ClientTime: payload.ClientTime,
			ServerTime: now.UnixMilli(),
		}, now)
	case protocol.HeartbeatAck:
		if payload.ClientTime > 0 {
			sent := time.UnixMilli(payload.ClientTime)
			if !sent.After(now) {
				c.rtt = now.Sub(sent)
			}
		}
	case protocol.Disconnect:
		c.disconnectLocked("server closed the connection")
	case protocol.Connect, protocol.InputCommand:
		// Client-originated kinds echoed back; ignore.
	}
}

// ingestSnapshotLocked admits one snapshot into the interpolation buffer and
// reconciles the predicted player. The server is authoritative: the local
// position snaps to the server's, and prediction resumes from there.
func (c *Client) ingestSnapshotLocked(payload protocol.StateSnapshot, now time.Time) {
	snap := game.Snapshot{
		Tick:       payload.Tick,
		ServerTime: time.UnixMilli(payload.ServerTime),
		Players:    make([]game.PlayerState, len(payload.Players)),
	}
	for i, p := range payload.Players {
		snap.Players[i] = game.PlayerState{
			ID:        p.PlayerID,
			X:         float64(p.X),
			Y:         float64(p.Y),
			VX:        float64(p.VX),
			VY:        float64(p.VY),
			Facing:    p.Facing,
			LastInput: p.LastInput,
			Color:     p.Color,
		}
	}
	if !c.snapshots.Ingest(snap, now) {
		return
	}
	if self, ok := snap.Player(c.playerID); ok {
		facing := c.predicted.Facing
		c.predicted = self
		if c.predicted.Facing != facing && (c.input.DX != 0 || c.input.DY != 0) {
			c.predicted.Facing = facing
		}
	}
}

// sendInput ships the sampled input and advances the predicted player one
// step. It runs every tick even when idle so the server's reliable messages
// are acknowledged and the session stays live.
func (c *Client) sendInput(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.accepted || c.closed {
		return
	}
	c.inputSeq++
	c.sendLocked(protocol.InputCommand{
		PlayerID:      c.playerID,
		InputSequence: c.inputSeq,
		DX:            float32(c.input.DX),
		DY:            float32(c.input.DY),
		Facing:        c.input.Facing,
		TargetTick:    c.snapshots.Tick() + 1,
	}, now)
	c.predictLocked(1.0 / float64(c.cfg.InputRate))
}

// predictLocked integrates the local player using the same movement rules
// the server applies, so the predicted position tracks the authoritative
// one between snapshots.
func (c *Client) predictLocked(dt float64) {
	dx, dy := c.input.DX, c.input.DY
	if length := math.Hypot(dx, dy); length > 1 {
		dx /= length
		dy /= length
	}
	c.predicted.VX = dx * game.MoveSpeed
	c.predicted.VY = dy * game.MoveSpeed
	if dx != 0 || dy != 0 {
		c.predicted.Facing = c.input.Facing
	}
	c.predicted.X = clamp(c.predicted.X+c.predicted.VX*dt, game.WorldMinX+game.PlayerHalf, game.WorldMaxX-game.PlayerHalf)
	c.predicted.Y = clamp(c.predicted.Y+c.predicted.VY*dt, game.WorldMinY+game.PlayerHalf, game.WorldMaxY-game.PlayerHalf)
}

func (c *Client) heartbeat(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.sendLocked(protocol.Heartbeat{ClientTime: now.UnixMilli()}, now)
}

// retransmit resends due reliable messages. During the handshake an
// exhausted Connect is reissued fresh until ConnectTimeout; afterwards an
// exhausted message means the connection is lost.
func (c *Client) retransmit(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	resend, exhausted := c.endpoint.Due(now)
	for _, msg := range resend {
		c.core.Send(c.server, msg.Data)
		c.counters.RecordRetransmit()
	}
	if len(exhausted) == 0 {
		return
	}
	if !c.accepted {
		if now.Sub(c.dialBegan) < c.cfg.ConnectTimeout {
			c.sendLocked(protocol.Connect{}, now)
		}
		return
	}
	c.disconnectLocked("connection lost")
}

func (c *Client) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.accepted {
		return
	}
	if now.Sub(c.lastRecv) >= c.cfg.Timeout {
		c.disconnectLocked("server timed out")
	}
}

func (c *Client) disconnectLocked(reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.logger.Printf("disconnected: %s", reason)
	c.publishLocked(Event{Type: EventDisconnected, PlayerID: c.playerID, Reason: reason})
	go c.shutdown()
}

func (c *Client) sendLocked(payload protocol.Payload, now time.Time) {
	data, seq, err := c.endpoint.Seal(payload, now)
	if err != nil {
		c.logger.Printf("failed to seal %v packet: %v",
			protocol.Packet{Payload: payload}.Kind(), err)
		return
	}
	ack, ackBits := c.endpoint.RemoteAck()
	c.tracer.Trace(transport.DirectionSend, c.server, protocol.Packet{
		Sequence: seq,
		Ack:      ack,
		AckBits:  ackBits,
		Payload:  payload,
	}, len(data))
	c.core.Send(c.server, data)
}

func (c *Client) publishLocked(event Event) {
	select {
	case c.events <- event:
	default:
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
