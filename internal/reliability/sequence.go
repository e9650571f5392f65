// Package reliability layers selective-acknowledgment bookkeeping on top of
// an unordered, lossy datagram channel: per-direction sequence numbers, a
// sliding receive window that admits each packet exactly once, and a pending
// tracker that retransmits reliable messages until acknowledged or a retry
// budget runs out.
package reliability

// WindowSize is the span of the selective-acknowledgment bitmask: a receiver
// remembers the 32 sequence numbers preceding its high watermark and treats
// anything older as stale.
const WindowSize = 32

// SequenceNewer reports whether a is newer than b in the wrapping 32-bit
// sequence space. Values more than half the space apart are assumed to have
// wrapped.
func SequenceNewer(a, b uint32) bool {
	return a != b && a-b < 1<<31
}

// Window tracks which remote sequence numbers have been seen. The zero value
// is ready to use.
type Window struct {
	latest  uint32
	mask    uint32
	started bool
}

// Admit reports whether seq should be processed. It returns true exactly once
// per sequence number inside the sliding window; duplicates and sequences
// older than the window are rejected. Admitted sequences update the ack view.
func (w *Window) Admit(seq uint32) bool {
	if !w.started {
		w.started = true
		w.latest = seq
		w.mask = 0
		return true
	}
	if seq == w.latest {
		return false
	}
	if SequenceNewer(seq, w.latest) {
		shift := seq - w.latest
		w.mask <<= shift
		if shift-1 < WindowSize {
			w.mask |= 1 << (shift - 1)
		}
		w.latest = seq
		return true
	}
	diff := w.latest - seq
	if diff > WindowSize {
		return false
	}
	bit := uint32(1) << (diff - 1)
	if w.mask&bit != 0 {
		return false
	}
	w.mask |= bit
	return true
}

// Ack returns the highest admitted sequence number.
func (w *Window) Ack() uint32 { return w.latest }

// AckBits returns the bitmask over the 32 sequences preceding Ack: bit n set
// means sequence Ack-1-n was received.
func (w *Window) AckBits() uint32 { return w.mask }

// Acks reports whether ack/ackBits acknowledge seq.
func Acks(ack, ackBits, seq uint32) bool {
	if seq == ack {
		return true
	}
	if !SequenceNewer(ack, seq) {
		return false
	}
	diff := ack - seq
	if diff > WindowSize {
		return false
	}
	return ackBits&(1<<(diff-1)) != 0
}
