package transport

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"quadarena/internal/protocol"
)

// Direction marks which way a traced packet traveled.
type Direction string

const (
	DirectionRecv Direction = "recv"
	DirectionSend Direction = "send"
)

// Record describes one traced packet for the console log and the live
// diagnostics feed.
type Record struct {
	Time      time.Time `json:"time"`
	Direction Direction `json:"dir"`
	Addr      string    `json:"addr"`
	Kind      string    `json:"kind"`
	Sequence  uint32    `json:"seq"`
	Ack       uint32    `json:"ack"`
	Size      int       `json:"size"`
}

// Tracer logs every packet's kind, sequence, and size when enabled, and
// fans records out to live subscribers regardless of the console setting.
type Tracer struct {
	enabled atomic.Bool
	logger  *log.Logger

	mu      sync.Mutex
	subs    map[int]func(Record)
	nextSub int
}

// NewTracer creates a tracer writing console output to logger.
func NewTracer(logger *log.Logger) *Tracer {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracer{logger: logger, subs: make(map[int]func(Record))}
}

// SetEnabled toggles console trace output.
func (t *Tracer) SetEnabled(enabled bool) {
	if t == nil {
		return
	}
	t.enabled.Store(enabled)
}

// Enabled reports whether console trace output is on.
func (t *Tracer) Enabled() bool {
	return t != nil && t.enabled.Load()
}

// Subscribe registers a live sink for trace records and returns its cancel
// function. Sinks must not block.
func (t *Tracer) Subscribe(fn func(Record)) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

// Trace records one successfully decoded packet.
func (t *Tracer) Trace(dir Direction, addr net.Addr, pkt protocol.Packet, size int) {
	if t == nil {
		return
	}
	if t.enabled.Load() {
		t.logger.Printf("[TRACE] %s %v %s seq=%d ack=%d %dB",
			dir, addr, pkt.Kind(), pkt.Sequence, pkt.Ack, size)
	}
	t.publish(Record{
		Time:      time.Now(),
		Direction: dir,
		Addr:      addr.String(),
		Kind:      pkt.Kind().String(),
		Sequence:  pkt.Sequence,
		Ack:       pkt.Ack,
		Size:      size,
	})
}

// Drop records a datagram discarded at the decode boundary.
func (t *Tracer) Drop(addr net.Addr, size int, err error) {
	if t == nil || !t.enabled.Load() {
		return
	}
	t.logger.Printf("[TRACE] drop %v %dB: %v", addr, size, err)
}

func (t *Tracer) publish(rec Record) {
	t.mu.Lock()
	if len(t.subs) == 0 {
		t.mu.Unlock()
		return
	}
	sinks := make([]func(Record), 0, len(t.subs))
	for _, fn := range t.subs {
		sinks = append(sinks, fn)
	}
	t.mu.Unlock()
	for _, fn := range sinks {
		fn(rec)
	}
}
