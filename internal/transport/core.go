// Package transport owns the process's single datagram socket and the
// periodic drivers built on it. It multiplexes inbound decoding, outbound
// writes, and fixed-interval timers across all sessions without dedicating a
// thread to any one connection.
package transport

import (
	"errors"
	"log"
	"net"
	"time"

	"quadarena/internal/protocol"
	"quadarena/internal/telemetry"
)

// Handler consumes decoded inbound packets. One datagram is handled to
// completion before the next is dequeued, preserving per-packet atomicity.
type Handler interface {
	HandlePacket(from net.Addr, pkt protocol.Packet)
}

// VersionMismatchHandler is implemented by handlers that answer handshakes
// arriving with an unknown wire-protocol version. Only the kind byte of such
// datagrams is trusted; no payload is decoded.
type VersionMismatchHandler interface {
	HandleConnectBadVersion(from net.Addr)
}

// outboundBacklog bounds queued writes; when the writer falls behind,
// datagrams are dropped rather than blocking the inbound pump.
const outboundBacklog = 256

type datagram struct {
	addr net.Addr
	data []byte
}

// Core pumps one net.PacketConn shared by every session of the process.
type Core struct {
	conn     net.PacketConn
	handler  Handler
	logger   *log.Logger
	counters *telemetry.Counters
	tracer   *Tracer

	outbound chan datagram
}

// NewCore wraps an already-bound packet connection.
func NewCore(conn net.PacketConn, handler Handler, logger *log.Logger, counters *telemetry.Counters, tracer *Tracer) *Core {
	if logger == nil {
		logger = log.Default()
	}
	return &Core{
		conn:     conn,
		handler:  handler,
		logger:   logger,
		counters: counters,
		tracer:   tracer,
		outbound: make(chan datagram, outboundBacklog),
	}
}

// LocalAddr returns the bound address of the owned socket.
func (c *Core) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Run starts the inbound and outbound pumps. They stop when stop closes;
// Run closes the socket to unblock the reader and returns once the inbound
// pump exits.
func (c *Core) Run(stop <-chan struct{}) {
	go c.outboundPump(stop)
	go func() {
		<-stop
		c.conn.Close()
	}()
	c.inboundPump()
}

// Send queues one encoded datagram for the peer. When the outbound backlog
// is full the datagram is dropped and counted; a slow socket must not stall
// packet processing.
func (c *Core) Send(addr net.Addr, data []byte) {
	select {
	case c.outbound <- datagram{addr: addr, data: data}:
	default:
		c.counters.RecordSendError()
		c.logger.Printf("outbound backlog full, dropping %d bytes to %v", len(data), addr)
	}
}

// SendNow writes one datagram synchronously, bypassing the outbound queue.
// Shutdown paths use it so farewell packets reach the wire before the pumps
// stop.
func (c *Core) SendNow(addr net.Addr, data []byte) {
	if _, err := c.conn.WriteTo(data, addr); err != nil {
		c.counters.RecordSendError()
		c.logger.Printf("send to %v failed: %v", addr, err)
		return
	}
	c.counters.RecordSend(len(data))
}

func (c *Core) inboundPump() {
	// One byte beyond the limit so oversized datagrams decode as malformed
	// instead of being silently truncated to a valid prefix.
	buf := make([]byte, protocol.MaxPacketSize+1)
	for {
		n, addr, err := c.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Printf("read failed: %v", err)
			continue
		}
		c.counters.RecordReceive(n)

		pkt, err := protocol.Decode(buf[:n])
		if err != nil {
			c.counters.RecordMalformed()
			c.tracer.Drop(addr, n, err)
			if errors.Is(err, protocol.ErrUnknownVersion) && n >= 2 && protocol.Kind(buf[1]) == protocol.KindConnect {
				if vh, ok := c.handler.(VersionMismatchHandler); ok {
					vh.HandleConnectBadVersion(addr)
				}
			}
			continue
		}
		c.tracer.Trace(DirectionRecv, addr, pkt, n)
		c.handler.HandlePacket(addr, pkt)
	}
}

func (c *Core) outboundPump(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case d := <-c.outbound:
			if _, err := c.conn.WriteTo(d.data, d.addr); err != nil {
				// One bad peer or transient I/O error must not take
				// down the shared socket owner.
				c.counters.RecordSendError()
				c.logger.Printf("send to %v failed: %v", d.addr, err)
				continue
			}
			c.counters.RecordSend(len(d.data))
		}
	}
}

// Every invokes fn at a fixed interval until stop closes. All periodic
// drivers (tick, sweep, retransmission, heartbeat) are scheduled through it.
func Every(interval time.Duration, stop <-chan struct{}, fn func(now time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			fn(now)
		}
	}
}
