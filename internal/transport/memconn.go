package transport

import (
	"math/rand"
	"net"
	"sync"
	"time"
)

// MemNetwork is an in-process datagram network with configurable packet loss
// and delivery jitter. Integration tests use it to exercise the protocol
// under the unordered, lossy conditions the real socket would see, without
// binding ports.
type MemNetwork struct {
	mu        sync.Mutex
	endpoints map[string]*MemConn
	rng       *rand.Rand
	loss      float64
	jitterMin time.Duration
	jitterMax time.Duration
}

// NewMemNetwork creates a lossless network; seed fixes the loss/jitter rolls
// so failures reproduce.
func NewMemNetwork(seed int64) *MemNetwork {
	return &MemNetwork{
		endpoints: make(map[string]*MemConn),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// SetLoss drops the given fraction of datagrams in each direction.
func (n *MemNetwork) SetLoss(rate float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loss = rate
}

// SetJitter delays each delivered datagram by a uniform random duration in
// [min, max], reordering packets in flight.
func (n *MemNetwork) SetJitter(min, max time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jitterMin, n.jitterMax = min, max
}

// Endpoint creates (or returns) the connection bound to name.
func (n *MemNetwork) Endpoint(name string) *MemConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.endpoints[name]; ok {
		return c
	}
	c := &MemConn{
		network: n,
		addr:    MemAddr(name),
		inbox:   make(chan memDatagram, 1024),
		closed:  make(chan struct{}),
	}
	n.endpoints[name] = c
	return c
}

// roll decides one delivery: whether to drop it and how long to delay it.
func (n *MemNetwork) roll() (drop bool, delay time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.loss > 0 && n.rng.Float64() < n.loss {
		return true, 0
	}
	if n.jitterMax > n.jitterMin {
		delay = n.jitterMin + time.Duration(n.rng.Int63n(int64(n.jitterMax-n.jitterMin)))
	} else {
		delay = n.jitterMin
	}
	return false, delay
}

func (n *MemNetwork) lookup(name string) *MemConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoints[name]
}

// MemAddr is the address of an in-memory endpoint.
type MemAddr string

func (a MemAddr) Network() string { return "mem" }
func (a MemAddr) String() string  { return string(a) }

type memDatagram struct {
	from net.Addr
	data []byte
}

// MemConn implements net.PacketConn over a MemNetwork.
type MemConn struct {
	network   *MemNetwork
	addr      MemAddr
	inbox     chan memDatagram
	closed    chan struct{}
	closeOnce sync.Once
}

// ReadFrom blocks until a datagram arrives or the connection closes.
func (c *MemConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case d := <-c.inbox:
		n := copy(p, d.data)
		return n, d.from, nil
	}
}

// WriteTo delivers a copy of p to the named endpoint, subject to the
// network's loss and jitter settings.
func (c *MemConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	dst := c.network.lookup(addr.String())
	if dst == nil {
		// Matches a real socket: writes to unreachable peers vanish.
		return len(p), nil
	}
	drop, delay := c.network.roll()
	if drop {
		return len(p), nil
	}
	data := make([]byte, len(p))
	copy(data, p)
	d := memDatagram{from: c.addr, data: data}
	if delay <= 0 {
		dst.deliver(d)
	} else {
		time.AfterFunc(delay, func() { dst.deliver(d) })
	}
	return len(p), nil
}

func (c *MemConn) deliver(d memDatagram) {
	select {
	case <-c.closed:
	case c.inbox <- d:
	default:
		// Inbox full: the datagram is lost, as on a saturated socket.
	}
}

// Close shuts the endpoint; blocked reads return net.ErrClosed.
func (c *MemConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// LocalAddr returns the endpoint's name.
func (c *MemConn) LocalAddr() net.Addr { return c.addr }

// Deadlines are not needed by the pumps; they are accepted and ignored.
func (c *MemConn) SetDeadline(time.Time) error      { return nil }
func (c *MemConn) SetReadDeadline(time.Time) error  { return nil }
func (c *MemConn) SetWriteDeadline(time.Time) error { return nil }
