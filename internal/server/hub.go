// Package server hosts the authoritative side of the protocol: it accepts
// handshakes, ingests input commands, advances the fixed-rate simulation,
// and broadcasts world snapshots to every connected session over the shared
// datagram socket.
package server

import (
	"log"
	"math/rand"
	"net"
	"sort"
	"sync"
	"time"

	"quadarena/internal/game"
	"quadarena/internal/protocol"
	"quadarena/internal/reliability"
	"quadarena/internal/session"
	"quadarena/internal/telemetry"
	"quadarena/internal/transport"
)

// Hub owns the session table, the world, and the staged input commands. All
// session and world mutation is serialized through its mutex: the inbound
// pump, the tick driver, the sweep, and the retransmission driver each take
// it for the duration of one atomic step.
type Hub struct {
	cfg      Config
	logger   *log.Logger
	counters *telemetry.Counters
	tracer   *transport.Tracer
	core     *transport.Core

	mu           sync.Mutex
	sessions     *session.Manager
	world        *game.World
	meta         map[session.ID]*sessionMeta
	nextPlayerID uint64
	rng          *rand.Rand
	lastTick     time.Time

	buffer *game.CommandBuffer
	events chan Event
}

// sessionMeta is hub-side bookkeeping that does not belong on the session
// record itself.
type sessionMeta struct {
	// acceptData is the encoded ConnectAccept, kept so a repeated
	// handshake can be answered with the identical bytes.
	acceptData []byte
	// announced is set once the join event went out, so only announced
	// players produce leave events.
	announced bool
}

// NewHub builds a server on an already-bound packet connection.
func NewHub(conn net.PacketConn, cfg Config, logger *log.Logger, counters *telemetry.Counters, tracer *transport.Tracer) *Hub {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	h := &Hub{
		cfg:      cfg,
		logger:   logger,
		counters: counters,
		tracer:   tracer,
		sessions: session.NewManager(cfg.PlayerLimit, cfg.RetryInterval, cfg.RetryBudget),
		world:    game.NewWorld(),
		meta:     make(map[session.ID]*sessionMeta),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		events:   make(chan Event, 64),
	}
	h.buffer = game.NewCommandBuffer(cfg.CommandBacklog, counters.RecordCommandDropped)
	h.core = transport.NewCore(conn, h, logger, counters, tracer)
	return h
}

// Addr returns the bound listen address.
func (h *Hub) Addr() net.Addr { return h.core.LocalAddr() }

// Events surfaces connection events for collaborators. The channel is
// buffered; events are dropped rather than blocking packet processing when
// nobody drains it.
func (h *Hub) Events() <-chan Event { return h.events }

// Run drives the hub until stop closes: the inbound and outbound pumps, the
// tick driver, the heartbeat/timeout sweep, and the retransmission driver.
// It blocks until the inbound pump exits.
func (h *Hub) Run(stop <-chan struct{}) {
	go transport.Every(time.Second/time.Duration(h.cfg.TickRate), stop, h.tick)
	go transport.Every(h.cfg.SweepInterval, stop, h.sweep)
	go transport.Every(h.cfg.RetryInterval, stop, h.retransmit)
	go transport.Every(h.cfg.HeartbeatInterval, stop, h.heartbeat)
	h.core.Run(stop)
}

// Shutdown announces an orderly close to every live session. Call it before
// closing the stop channel so the disconnects still reach the socket.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for _, s := range h.sessions.Sessions() {
		if data, _, err := s.Endpoint.Seal(protocol.Disconnect{}, now); err == nil {
			h.core.SendNow(s.Addr, data)
		}
		h.closeLocked(s, "server shutdown")
	}
}

// HandlePacket implements transport.Handler. One packet is processed to
// completion per call.
func (h *Hub) HandlePacket(from net.Addr, pkt protocol.Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	s := h.sessions.ByAddr(from)

	if _, ok := pkt.Payload.(protocol.Connect); ok {
		h.handleConnectLocked(from, s, pkt, now)
		return
	}
	if s == nil {
		// Not a handshake and no session: a straggler from a dead
		// session or random noise. Expected on a lossy channel.
		return
	}

	if !s.Endpoint.Admit(pkt.Sequence) {
		ack, _ := s.Endpoint.RemoteAck()
		if !reliability.SequenceNewer(pkt.Sequence, ack) && ack-pkt.Sequence > reliability.WindowSize {
			h.counters.RecordStale()
		} else {
			h.counters.RecordDuplicate()
		}
		return
	}
	s.Endpoint.Acknowledge(pkt.Ack, pkt.AckBits)
	s.Touch(now)
	if _, leaving := pkt.Payload.(protocol.Disconnect); !leaving {
		// A Disconnect from a still-connecting peer must not announce a
		// join for a player that never played.
		h.establishLocked(s)
	}

	switch payload := pkt.Payload.(type) {
	case protocol.Disconnect:
		h.closeLocked(s, "remote disconnect")
	case protocol.Heartbeat:
		h.sendLocked(s, protocol.HeartbeatAck{
			ClientTime: payload.ClientTime,
			ServerTime: now.UnixMilli(),
		}, now)
	case protocol.HeartbeatAck:
		// Echo of our own heartbeat clock, so the difference is a real
		// round trip.
		h.recordRTT(s, payload.ClientTime, now)
	case protocol.InputCommand:
		if payload.PlayerID != s.PlayerID {
			// A session may only steer its own player.
			return
		}
		h.buffer.Push(game.Command{
			SessionID: uint32(s.ID),
			Input: game.InputCommand{
				PlayerID:   payload.PlayerID,
				Sequence:   payload.InputSequence,
				DX:         float64(payload.DX),
				DY:         float64(payload.DY),
				Facing:     payload.Facing,
				TargetTick: payload.TargetTick,
			},
		})
	case protocol.Event:
		// Clients do not originate events.
	case protocol.ConnectAccept, protocol.ConnectReject, protocol.StateSnapshot:
		// Server-originated kinds echoed back; ignore.
	}
}

// HandleConnectBadVersion implements transport.Handler: a Connect whose
// header carries an unknown protocol version is answered with a reject so
// the client can surface a connection-refused condition. No session is
// created.
func (h *Hub) HandleConnectBadVersion(from net.Addr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejectLocked(from, protocol.RejectVersionMismatch)
}

func (h *Hub) handleConnectLocked(from net.Addr, s *session.Session, pkt protocol.Packet, now time.Time) {
	if s != nil {
		// A repeated handshake means our accept was lost in transit.
		// Answer with the identical accept; the reliability layer is
		// already retrying it too.
		s.Touch(now)
		if s.Endpoint.Admit(pkt.Sequence) {
			s.Endpoint.Acknowledge(pkt.Ack, pkt.AckBits)
		}
		if m := h.meta[s.ID]; m != nil && m.acceptData != nil {
			h.core.Send(from, m.acceptData)
			s.MarkSend(now)
		}
		return
	}

	playerID := h.nextPlayerID + 1
	color := game.RandomColor(h.rng)
	ns, err := h.sessions.Create(from, playerID, color, now)
	if err != nil {
		h.logger.Printf("rejecting connect from %v: %v", from, err)
		h.rejectLocked(from, protocol.RejectServerFull)
		return
	}
	h.nextPlayerID = playerID
	ns.Endpoint.Admit(pkt.Sequence)
	ns.Endpoint.Acknowledge(pkt.Ack, pkt.AckBits)
	h.world.AddPlayer(playerID, color)
	h.counters.RecordSessionOpened()

	accept := protocol.ConnectAccept{
		SessionID: uint32(ns.ID),
		PlayerID:  playerID,
		Color:     color,
	}
	data, _, err := ns.Endpoint.Seal(accept, now)
	if err != nil {
		h.logger.Printf("failed to seal connect accept for %v: %v", from, err)
		h.closeLocked(ns, "handshake failure")
		return
	}
	h.meta[ns.ID] = &sessionMeta{acceptData: data}
	h.core.Send(from, data)
	ns.MarkSend(now)
	h.logger.Printf("player %d joined from %v (session %d)", playerID, from, ns.ID)
}

// establishLocked completes the handshake: the first non-Connect packet
// referencing the session moves it from Connecting to Connected and
// announces the join to everyone else.
func (h *Hub) establishLocked(s *session.Session) {
	if !s.Establish() {
		return
	}
	m := h.meta[s.ID]
	if m == nil {
		m = &sessionMeta{}
		h.meta[s.ID] = m
	}
	m.acceptData = nil
	m.announced = true
	h.logger.Printf("player %d connected (session %d)", s.PlayerID, s.ID)
	h.broadcastEventLocked(protocol.Event{
		Type:     protocol.EventPlayerJoined,
		PlayerID: s.PlayerID,
		Color:    s.Color,
	}, s.ID)
	h.publish(Event{Type: EventPlayerJoined, SessionID: s.ID, PlayerID: s.PlayerID, Color: s.Color})
}

func (h *Hub) rejectLocked(from net.Addr, reason protocol.RejectReason) {
	data, err := protocol.Encode(protocol.Packet{
		Payload: protocol.ConnectReject{Reason: reason},
	})
	if err != nil {
		h.logger.Printf("failed to encode reject: %v", err)
		return
	}
	h.core.Send(from, data)
}

// tick advances the simulation one step and broadcasts the resulting
// snapshot. Commands drain in arrival order per session with sessions
// processed in ascending ID order; the whole batch applies atomically before
// the broadcast reads the new state.
func (h *Hub) tick(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := time.Now()

	staged := h.buffer.Drain()
	sort.SliceStable(staged, func(i, j int) bool {
		return staged[i].SessionID < staged[j].SessionID
	})
	inputs := make([]game.InputCommand, len(staged))
	for i, cmd := range staged {
		inputs[i] = cmd.Input
	}

	dt := 1.0 / float64(h.cfg.TickRate)
	if !h.lastTick.IsZero() {
		if elapsed := now.Sub(h.lastTick).Seconds(); elapsed > 0 {
			dt = elapsed
		}
	}
	h.lastTick = now

	snap := h.world.Step(inputs, dt, now)

	payload := protocol.StateSnapshot{
		Tick:       snap.Tick,
		ServerTime: now.UnixMilli(),
		Players:    make([]protocol.PlayerUpdate, len(snap.Players)),
	}
	for i, p := range snap.Players {
		payload.Players[i] = protocol.PlayerUpdate{
			PlayerID:  p.ID,
			X:         float32(p.X),
			Y:         float32(p.Y),
			VX:        float32(p.VX),
			VY:        float32(p.VY),
			Facing:    p.Facing,
			LastInput: p.LastInput,
			Color:     p.Color,
		}
	}

	for _, s := range h.sessions.Connected() {
		h.sendLocked(s, payload, now)
	}
	h.counters.RecordBroadcast()
	h.counters.RecordTickDuration(time.Since(start))
}

// sweep tears down sessions whose peers went silent.
func (h *Hub) sweep(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions.Sweep(now, h.cfg.Timeout) {
		h.logger.Printf("disconnecting player %d (session %d): heartbeat timeout", s.PlayerID, s.ID)
		h.afterCloseLocked(s, "timeout")
	}
}

// retransmit resends reliable messages past their retry interval and tears
// down sessions whose retry budget ran out. That is the one path by which
// repeated packet loss becomes a visible connection-lost event.
func (h *Hub) retransmit(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions.Sessions() {
		resend, exhausted := s.Endpoint.Due(now)
		for _, msg := range resend {
			h.core.Send(s.Addr, msg.Data)
			s.MarkSend(now)
			h.counters.RecordRetransmit()
			if h.tracer.Enabled() {
				h.logger.Printf("[TRACE] resend %v %s seq=%d try=%d",
					s.Addr, msg.Kind, msg.Sequence, msg.Retries)
			}
		}
		if len(exhausted) > 0 {
			h.logger.Printf("player %d (session %d) lost: %s retry budget exhausted",
				s.PlayerID, s.ID, exhausted[0].Kind)
			h.closeLocked(s, "connection lost")
		}
	}
}

// heartbeat keeps otherwise-idle links alive. A session that received any
// send within the interval is skipped; snapshots normally cover connected
// sessions, so this mostly services sessions still connecting.
func (h *Hub) heartbeat(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions.Sessions() {
		if now.Sub(s.LastSend()) < h.cfg.HeartbeatInterval {
			continue
		}
		h.sendLocked(s, protocol.Heartbeat{ClientTime: now.UnixMilli()}, now)
	}
}

func (h *Hub) sendLocked(s *session.Session, payload protocol.Payload, now time.Time) {
	data, seq, err := s.Endpoint.Seal(payload, now)
	if err != nil {
		h.logger.Printf("failed to seal %v packet for session %d: %v",
			protocol.Packet{Payload: payload}.Kind(), s.ID, err)
		return
	}
	ack, ackBits := s.Endpoint.RemoteAck()
	h.tracer.Trace(transport.DirectionSend, s.Addr, protocol.Packet{
		Sequence: seq,
		Ack:      ack,
		AckBits:  ackBits,
		Payload:  payload,
	}, len(data))
	h.core.Send(s.Addr, data)
	s.MarkSend(now)
}

// closeLocked runs the terminal transition exactly once and removes the
// session from the table.
func (h *Hub) closeLocked(s *session.Session, reason string) {
	s.BeginDisconnect()
	if !s.Close() {
		return
	}
	h.sessions.Remove(s.ID)
	h.afterCloseLocked(s, reason)
}

// afterCloseLocked reclaims a session's resources and surfaces the leave.
// The session must already be Disconnected and out of the table.
func (h *Hub) afterCloseLocked(s *session.Session, reason string) {
	h.counters.RecordSessionClosed()
	h.world.RemovePlayer(s.PlayerID)
	m := h.meta[s.ID]
	delete(h.meta, s.ID)
	if m == nil || !m.announced {
		return
	}
	h.logger.Printf("player %d left the server (%s)", s.PlayerID, reason)
	h.broadcastEventLocked(protocol.Event{
		Type:     protocol.EventPlayerLeft,
		PlayerID: s.PlayerID,
	}, s.ID)
	h.publish(Event{Type: EventPlayerLeft, SessionID: s.ID, PlayerID: s.PlayerID, Color: s.Color, Reason: reason})
}

// broadcastEventLocked delivers a discrete fact reliably to every connected
// session except the one it is about.
func (h *Hub) broadcastEventLocked(event protocol.Event, exclude session.ID) {
	now := time.Now()
	for _, s := range h.sessions.Connected() {
		if s.ID == exclude {
			continue
		}
		h.sendLocked(s, event, now)
	}
}

func (h *Hub) publish(event Event) {
	select {
	case h.events <- event:
	default:
		// Nobody is draining; connection events are advisory.
	}
}

func (h *Hub) recordRTT(s *session.Session, clientTime int64, now time.Time) {
	if clientTime <= 0 {
		return
	}
	sent := time.UnixMilli(clientTime)
	if sent.After(now.Add(5 * time.Second)) {
		return
	}
	s.RecordRTT(now.Sub(sent))
}

// DiagnosticsSession is the per-session shape served by the diagnostics
// endpoint.
type DiagnosticsSession struct {
	ID              uint32 `json:"id"`
	PlayerID        uint64 `json:"playerId"`
	Addr            string `json:"addr"`
	State           string `json:"state"`
	RTTMillis       int64  `json:"rttMillis"`
	LastActivity    int64  `json:"lastActivity"`
	PendingReliable int    `json:"pendingReliable"`
}

// DiagnosticsSnapshot exposes session health for the diagnostics endpoint.
func (h *Hub) DiagnosticsSnapshot() []DiagnosticsSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions := h.sessions.Sessions()
	out := make([]DiagnosticsSession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, DiagnosticsSession{
			ID:              uint32(s.ID),
			PlayerID:        s.PlayerID,
			Addr:            s.Addr.String(),
			State:           s.State().String(),
			RTTMillis:       s.RTT().Milliseconds(),
			LastActivity:    s.LastActivity().UnixMilli(),
			PendingReliable: s.Endpoint.PendingCount(),
		})
	}
	return out
}

// TickRate returns the configured simulation rate for diagnostics.
func (h *Hub) TickRate() int { return h.cfg.TickRate }
