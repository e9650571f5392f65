package reliability

import (
	"time"

	"quadarena/internal/protocol"
)

const (
	// DefaultRetryInterval is how long an unacknowledged reliable message
	// waits before being retransmitted.
	DefaultRetryInterval = 100 * time.Millisecond

	// DefaultRetryBudget bounds retransmissions of a single message.
	// Exceeding it declares the owning session lost.
	DefaultRetryBudget = 10
)

// PendingMessage is one in-flight reliable message. The encoded bytes are
// retransmitted unmodified, same sequence number, so the receiver's window
// deduplicates naturally.
type PendingMessage struct {
	Sequence  uint32
	Kind      protocol.Kind
	Data      []byte
	FirstSent time.Time
	LastSent  time.Time
	Retries   int
}

// Endpoint holds one direction pair of reliability state for a single peer:
// the outgoing sequence counter, the receive window for the peer's packets,
// and the pending reliable messages awaiting acknowledgment.
type Endpoint struct {
	retryInterval time.Duration
	retryBudget   int

	localSeq uint32
	window   Window

	pending map[uint32]*PendingMessage
	order   []uint32
}

// NewEndpoint creates an endpoint with the given retransmission tuning.
// Non-positive values fall back to the defaults.
func NewEndpoint(retryInterval time.Duration, retryBudget int) *Endpoint {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	if retryBudget <= 0 {
		retryBudget = DefaultRetryBudget
	}
	return &Endpoint{
		retryInterval: retryInterval,
		retryBudget:   retryBudget,
		pending:       make(map[uint32]*PendingMessage),
	}
}

// Seal assigns the next local sequence number, stamps the current receive
// state into the header, and encodes the packet. Reliable kinds are recorded
// for retransmission until acknowledged.
func (e *Endpoint) Seal(payload protocol.Payload, now time.Time) ([]byte, uint32, error) {
	e.localSeq++
	seq := e.localSeq
	data, err := protocol.Encode(protocol.Packet{
		Sequence: seq,
		Ack:      e.window.Ack(),
		AckBits:  e.window.AckBits(),
		Payload:  payload,
	})
	if err != nil {
		e.localSeq--
		return nil, 0, err
	}
	if kind := (protocol.Packet{Payload: payload}).Kind(); kind.Reliable() {
		e.pending[seq] = &PendingMessage{
			Sequence:  seq,
			Kind:      kind,
			Data:      data,
			FirstSent: now,
			LastSent:  now,
		}
		e.order = append(e.order, seq)
	}
	return data, seq, nil
}

// Admit reports whether an incoming sequence should be processed; see
// Window.Admit.
func (e *Endpoint) Admit(seq uint32) bool { return e.window.Admit(seq) }

// Acknowledge clears pending reliable messages covered by a received
// ack/ack_bits pair and cancels their retransmissions.
func (e *Endpoint) Acknowledge(ack, ackBits uint32) {
	if len(e.pending) == 0 {
		return
	}
	kept := e.order[:0]
	for _, seq := range e.order {
		if Acks(ack, ackBits, seq) {
			delete(e.pending, seq)
			continue
		}
		kept = append(kept, seq)
	}
	e.order = kept
}

// Due returns the pending messages whose retry interval has elapsed, bumping
// their retry counts and send times; the caller must retransmit them.
// Messages that exhausted the retry budget are dropped from tracking and
// returned separately: the owning session must be declared lost.
func (e *Endpoint) Due(now time.Time) (resend []*PendingMessage, exhausted []*PendingMessage) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	kept := e.order[:0]
	for _, seq := range e.order {
		msg := e.pending[seq]
		if now.Sub(msg.LastSent) < e.retryInterval {
			kept = append(kept, seq)
			continue
		}
		if msg.Retries >= e.retryBudget {
			delete(e.pending, seq)
			exhausted = append(exhausted, msg)
			continue
		}
		msg.Retries++
		msg.LastSent = now
		resend = append(resend, msg)
		kept = append(kept, seq)
	}
	e.order = kept
	return resend, exhausted
}

// PendingCount reports how many reliable messages await acknowledgment.
func (e *Endpoint) PendingCount() int { return len(e.pending) }

// Clear drops all pending reliable messages, canceling their retransmission
// timers. Used when a session reaches its terminal state.
func (e *Endpoint) Clear() {
	e.pending = make(map[uint32]*PendingMessage)
	e.order = nil
}

// LocalSequence returns the most recently assigned outgoing sequence number.
func (e *Endpoint) LocalSequence() uint32 { return e.localSeq }

// RemoteAck exposes the receive state stamped on outgoing packets.
func (e *Endpoint) RemoteAck() (ack, ackBits uint32) {
	return e.window.Ack(), e.window.AckBits()
}
