package transport

import (
	"io"
	"log"
	"net"
	"sync"
	"testing"
	"time"

	"quadarena/internal/protocol"
	"quadarena/internal/telemetry"
)

type collectingHandler struct {
	mu      sync.Mutex
	packets []protocol.Packet
	badFrom []net.Addr
}

func (h *collectingHandler) HandlePacket(from net.Addr, pkt protocol.Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.packets = append(h.packets, pkt)
}

func (h *collectingHandler) HandleConnectBadVersion(from net.Addr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.badFrom = append(h.badFrom, from)
}

func (h *collectingHandler) snapshot() ([]protocol.Packet, []net.Addr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]protocol.Packet(nil), h.packets...), append([]net.Addr(nil), h.badFrom...)
}

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCoreDispatchesDecodedPackets(t *testing.T) {
	network := NewMemNetwork(1)
	handler := &collectingHandler{}
	counters := &telemetry.Counters{}
	core := NewCore(network.Endpoint("server"), handler, discardLogger(), counters, nil)

	stop := make(chan struct{})
	defer close(stop)
	go core.Run(stop)

	peer := network.Endpoint("peer")
	data, err := protocol.Encode(protocol.Packet{Sequence: 9, Payload: protocol.Heartbeat{ClientTime: 123}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := peer.WriteTo(data, MemAddr("server")); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}

	waitUntil(t, "packet dispatched", func() bool {
		packets, _ := handler.snapshot()
		return len(packets) == 1
	})
	packets, _ := handler.snapshot()
	if packets[0].Sequence != 9 {
		t.Fatalf("dispatched sequence = %d, want 9", packets[0].Sequence)
	}
	if got := counters.Snapshot().PacketsReceived; got != 1 {
		t.Fatalf("PacketsReceived = %d, want 1", got)
	}
}

func TestCoreDropsMalformedDatagrams(t *testing.T) {
	network := NewMemNetwork(2)
	handler := &collectingHandler{}
	counters := &telemetry.Counters{}
	core := NewCore(network.Endpoint("server"), handler, discardLogger(), counters, nil)

	stop := make(chan struct{})
	defer close(stop)
	go core.Run(stop)

	peer := network.Endpoint("peer")
	if _, err := peer.WriteTo([]byte{0xde, 0xad, 0xbe, 0xef}, MemAddr("server")); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}

	waitUntil(t, "malformed datagram counted", func() bool {
		return counters.Snapshot().MalformedDropped == 1
	})
	if packets, _ := handler.snapshot(); len(packets) != 0 {
		t.Fatalf("malformed datagram dispatched: %+v", packets)
	}
}

func TestCoreRoutesBadVersionConnects(t *testing.T) {
	network := NewMemNetwork(3)
	handler := &collectingHandler{}
	core := NewCore(network.Endpoint("server"), handler, discardLogger(), nil, nil)

	stop := make(chan struct{})
	defer close(stop)
	go core.Run(stop)

	peer := network.Endpoint("peer")
	data, err := protocol.Encode(protocol.Packet{Sequence: 1, Payload: protocol.Connect{}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data[0] = protocol.Version + 1
	if _, err := peer.WriteTo(data, MemAddr("server")); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}

	waitUntil(t, "bad-version connect routed", func() bool {
		_, bad := handler.snapshot()
		return len(bad) == 1
	})

	// The same version byte on a non-Connect kind is silently dropped.
	data, _ = protocol.Encode(protocol.Packet{Sequence: 2, Payload: protocol.Heartbeat{ClientTime: 1}})
	data[0] = protocol.Version + 1
	peer.WriteTo(data, MemAddr("server"))
	time.Sleep(50 * time.Millisecond)
	if _, bad := handler.snapshot(); len(bad) != 1 {
		t.Fatalf("non-Connect datagram routed to the version handler")
	}
}

func TestCoreSendRoundTrip(t *testing.T) {
	network := NewMemNetwork(4)
	handler := &collectingHandler{}
	counters := &telemetry.Counters{}
	core := NewCore(network.Endpoint("server"), handler, discardLogger(), counters, nil)

	stop := make(chan struct{})
	defer close(stop)
	go core.Run(stop)

	peer := network.Endpoint("peer")
	data, err := protocol.Encode(protocol.Packet{Sequence: 1, Payload: protocol.Disconnect{}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	core.Send(MemAddr("peer"), data)

	buf := make([]byte, protocol.MaxPacketSize)
	n, from, err := peer.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if from.String() != "server" {
		t.Fatalf("datagram from %v, want server", from)
	}
	pkt, err := protocol.Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, ok := pkt.Payload.(protocol.Disconnect); !ok {
		t.Fatalf("payload = %T, want Disconnect", pkt.Payload)
	}
	waitUntil(t, "send counted", func() bool {
		return counters.Snapshot().PacketsSent == 1
	})
}

func TestMemNetworkLoss(t *testing.T) {
	network := NewMemNetwork(7)
	network.SetLoss(1.0)

	a := network.Endpoint("a")
	b := network.Endpoint("b")
	if _, err := a.WriteTo([]byte{1}, MemAddr("b")); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}

	network.SetLoss(0)
	if _, err := a.WriteTo([]byte{2}, MemAddr("b")); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	buf := make([]byte, 16)
	n, _, err := b.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if n != 1 || buf[0] != 2 {
		t.Fatalf("received %v, want only the second datagram", buf[:n])
	}
}

func TestEveryStopsOnClose(t *testing.T) {
	stop := make(chan struct{})
	ticks := make(chan time.Time, 16)
	done := make(chan struct{})
	go func() {
		Every(time.Millisecond, stop, func(now time.Time) {
			select {
			case ticks <- now:
			default:
			}
		})
		close(done)
	}()

	waitUntil(t, "first tick", func() bool { return len(ticks) > 0 })
	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Every did not stop")
	}
}

func TestTracerSubscription(t *testing.T) {
	tracer := NewTracer(discardLogger())
	var mu sync.Mutex
	var records []Record
	cancel := tracer.Subscribe(func(rec Record) {
		mu.Lock()
		defer mu.Unlock()
		records = append(records, rec)
	})

	pkt := protocol.Packet{Sequence: 3, Ack: 2, Payload: protocol.Heartbeat{ClientTime: 1}}
	tracer.Trace(DirectionSend, MemAddr("peer"), pkt, 22)

	mu.Lock()
	if len(records) != 1 || records[0].Kind != "heartbeat" || records[0].Sequence != 3 {
		mu.Unlock()
		t.Fatalf("records = %+v, want one heartbeat with seq 3", records)
	}
	mu.Unlock()

	cancel()
	tracer.Trace(DirectionRecv, MemAddr("peer"), pkt, 22)
	mu.Lock()
	defer mu.Unlock()
	if len(records) != 1 {
		t.Fatalf("canceled subscriber still received records")
	}
}
