package game

import "time"

// SnapshotBuffer is the client-side view of the authoritative state. It
// retains the two most recent snapshots and interpolates remote players
// between them by wall-clock time, decoupling visual smoothness from
// irregular network arrival timing.
type SnapshotBuffer struct {
	prev     *Snapshot
	latest   *Snapshot
	latestAt time.Time
}

// Ingest offers a received snapshot. Snapshots whose tick is not strictly
// greater than the latest applied one are discarded, making duplicate and
// out-of-order delivery idempotent. It reports whether the snapshot was
// applied.
func (b *SnapshotBuffer) Ingest(s Snapshot, now time.Time) bool {
	if b.latest != nil && s.Tick <= b.latest.Tick {
		return false
	}
	b.prev = b.latest
	b.latest = &s
	b.latestAt = now
	return true
}

// Latest returns the most recently applied snapshot.
func (b *SnapshotBuffer) Latest() (Snapshot, bool) {
	if b.latest == nil {
		return Snapshot{}, false
	}
	return *b.latest, true
}

// Tick returns the tick of the most recently applied snapshot, or zero.
func (b *SnapshotBuffer) Tick() uint64 {
	if b.latest == nil {
		return 0
	}
	return b.latest.Tick
}

// View interpolates player states between the two retained snapshots as a
// function of wall-clock time elapsed since the newest one arrived, scaled
// by the server-time span between the two. With a single snapshot it returns
// that state as-is. Players present only in the newest snapshot appear at
// their authoritative position.
func (b *SnapshotBuffer) View(now time.Time) []PlayerState {
	if b.latest == nil {
		return nil
	}
	if b.prev == nil {
		return clonePlayers(b.latest.Players)
	}
	span := b.latest.ServerTime.Sub(b.prev.ServerTime)
	if span <= 0 {
		return clonePlayers(b.latest.Players)
	}
	alpha := float64(now.Sub(b.latestAt)) / float64(span)
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	out := make([]PlayerState, len(b.latest.Players))
	for i, to := range b.latest.Players {
		from, ok := b.prev.Player(to.ID)
		if !ok {
			out[i] = to
			continue
		}
		p := to
		p.X = from.X + (to.X-from.X)*alpha
		p.Y = from.Y + (to.Y-from.Y)*alpha
		out[i] = p
	}
	return out
}

func clonePlayers(players []PlayerState) []PlayerState {
	out := make([]PlayerState, len(players))
	copy(out, players)
	return out
}
