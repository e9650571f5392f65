// Package telemetry collects cheap atomic counters about the transport and
// simulation for the diagnostics endpoint. Counting never blocks the hot
// path.
package telemetry

import (
	"sync/atomic"
	"time"
)

// Counters aggregates process-wide transport and simulation metrics.
type Counters struct {
	packetsReceived    atomic.Uint64
	packetsSent        atomic.Uint64
	bytesReceived      atomic.Uint64
	bytesSent          atomic.Uint64
	malformedDropped   atomic.Uint64
	duplicatesDropped  atomic.Uint64
	staleDropped       atomic.Uint64
	retransmits        atomic.Uint64
	sessionsOpened     atomic.Uint64
	sessionsClosed     atomic.Uint64
	snapshotsBroadcast atomic.Uint64
	commandsDropped    atomic.Uint64
	sendErrors         atomic.Uint64
	tickDurationMicros atomic.Int64
}

// Snapshot is the JSON shape served by the diagnostics endpoint.
type Snapshot struct {
	PacketsReceived    uint64 `json:"packetsReceived"`
	PacketsSent        uint64 `json:"packetsSent"`
	BytesReceived      uint64 `json:"bytesReceived"`
	BytesSent          uint64 `json:"bytesSent"`
	MalformedDropped   uint64 `json:"malformedDropped"`
	DuplicatesDropped  uint64 `json:"duplicatesDropped"`
	StaleDropped       uint64 `json:"staleDropped"`
	Retransmits        uint64 `json:"retransmits"`
	SessionsOpened     uint64 `json:"sessionsOpened"`
	SessionsClosed     uint64 `json:"sessionsClosed"`
	SnapshotsBroadcast uint64 `json:"snapshotsBroadcast"`
	CommandsDropped    uint64 `json:"commandsDropped"`
	SendErrors         uint64 `json:"sendErrors"`
	TickDurationMicros int64  `json:"tickDurationMicros"`
}

// RecordReceive counts one inbound datagram.
func (c *Counters) RecordReceive(bytes int) {
	if c == nil {
		return
	}
	c.packetsReceived.Add(1)
	c.bytesReceived.Add(uint64(bytes))
}

// RecordSend counts one outbound datagram.
func (c *Counters) RecordSend(bytes int) {
	if c == nil {
		return
	}
	c.packetsSent.Add(1)
	c.bytesSent.Add(uint64(bytes))
}

// RecordMalformed counts a datagram dropped at the decode boundary.
func (c *Counters) RecordMalformed() {
	if c == nil {
		return
	}
	c.malformedDropped.Add(1)
}

// RecordDuplicate counts a packet rejected by the receive window as already
// seen.
func (c *Counters) RecordDuplicate() {
	if c == nil {
		return
	}
	c.duplicatesDropped.Add(1)
}

// RecordStale counts a packet rejected as older than the receive window.
func (c *Counters) RecordStale() {
	if c == nil {
		return
	}
	c.staleDropped.Add(1)
}

// RecordRetransmit counts one reliable-message resend.
func (c *Counters) RecordRetransmit() {
	if c == nil {
		return
	}
	c.retransmits.Add(1)
}

// RecordSessionOpened counts a session entering the table.
func (c *Counters) RecordSessionOpened() {
	if c == nil {
		return
	}
	c.sessionsOpened.Add(1)
}

// RecordSessionClosed counts a session reaching its terminal state.
func (c *Counters) RecordSessionClosed() {
	if c == nil {
		return
	}
	c.sessionsClosed.Add(1)
}

// RecordBroadcast counts one tick's snapshot fan-out.
func (c *Counters) RecordBroadcast() {
	if c == nil {
		return
	}
	c.snapshotsBroadcast.Add(1)
}

// RecordCommandDropped counts an input command lost to buffer overflow.
func (c *Counters) RecordCommandDropped() {
	if c == nil {
		return
	}
	c.commandsDropped.Add(1)
}

// RecordSendError counts a socket write failure that was logged and skipped.
func (c *Counters) RecordSendError() {
	if c == nil {
		return
	}
	c.sendErrors.Add(1)
}

// RecordTickDuration stores the latest tick's processing time.
func (c *Counters) RecordTickDuration(d time.Duration) {
	if c == nil {
		return
	}
	c.tickDurationMicros.Store(d.Microseconds())
}

// Snapshot copies the counters for serving.
func (c *Counters) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		PacketsReceived:    c.packetsReceived.Load(),
		PacketsSent:        c.packetsSent.Load(),
		BytesReceived:      c.bytesReceived.Load(),
		BytesSent:          c.bytesSent.Load(),
		MalformedDropped:   c.malformedDropped.Load(),
		DuplicatesDropped:  c.duplicatesDropped.Load(),
		StaleDropped:       c.staleDropped.Load(),
		Retransmits:        c.retransmits.Load(),
		SessionsOpened:     c.sessionsOpened.Load(),
		SessionsClosed:     c.sessionsClosed.Load(),
		SnapshotsBroadcast: c.snapshotsBroadcast.Load(),
		CommandsDropped:    c.commandsDropped.Load(),
		SendErrors:         c.sendErrors.Load(),
		TickDurationMicros: c.tickDurationMicros.Load(),
	}
}
