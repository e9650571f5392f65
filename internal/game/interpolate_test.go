package game

import (
	"math"
	"testing"
	"time"

	"quadarena/internal/protocol"
)

func snapshotAt(tick uint64, serverTime time.Time, players ...PlayerState) Snapshot {
	return Snapshot{Tick: tick, ServerTime: serverTime, Players: players}
}

func TestIngestIsTickIdempotent(t *testing.T) {
	var b SnapshotBuffer
	base := time.Now()
	server := time.Unix(1700000000, 0)

	if !b.Ingest(snapshotAt(10, server, PlayerState{ID: 1, X: 100}), base) {
		t.Fatalf("first snapshot rejected")
	}
	if b.Ingest(snapshotAt(10, server, PlayerState{ID: 1, X: 999}), base.Add(time.Millisecond)) {
		t.Fatalf("duplicate tick applied")
	}
	if b.Ingest(snapshotAt(9, server, PlayerState{ID: 1, X: 999}), base.Add(2*time.Millisecond)) {
		t.Fatalf("older tick applied")
	}
	if got := b.Tick(); got != 10 {
		t.Fatalf("Tick = %d, want 10", got)
	}

	latest, ok := b.Latest()
	if !ok {
		t.Fatalf("Latest reported no snapshot")
	}
	if p, _ := latest.Player(1); p.X != 100 {
		t.Fatalf("stale ingest overwrote state: X = %v", p.X)
	}

	if !b.Ingest(snapshotAt(11, server.Add(time.Second/TickRate), PlayerState{ID: 1, X: 110}), base.Add(3*time.Millisecond)) {
		t.Fatalf("newer tick rejected")
	}
}

func TestViewInterpolatesBetweenSnapshots(t *testing.T) {
	var b SnapshotBuffer
	base := time.Now()
	server := time.Unix(1700000000, 0)
	span := 100 * time.Millisecond

	b.Ingest(snapshotAt(1, server, PlayerState{ID: 1, X: 0, Y: 50}), base)
	b.Ingest(snapshotAt(2, server.Add(span), PlayerState{ID: 1, X: 100, Y: 50}), base)

	players := b.View(base.Add(span / 2))
	if len(players) != 1 {
		t.Fatalf("View returned %d players, want 1", len(players))
	}
	if math.Abs(players[0].X-50) > 1e-9 {
		t.Fatalf("midpoint X = %v, want 50", players[0].X)
	}
	if players[0].Y != 50 {
		t.Fatalf("constant Y changed: %v", players[0].Y)
	}
}

func TestViewClampsAlpha(t *testing.T) {
	var b SnapshotBuffer
	base := time.Now()
	server := time.Unix(1700000000, 0)
	span := 100 * time.Millisecond

	b.Ingest(snapshotAt(1, server, PlayerState{ID: 1, X: 0}), base)
	b.Ingest(snapshotAt(2, server.Add(span), PlayerState{ID: 1, X: 100}), base)

	if players := b.View(base.Add(-time.Second)); players[0].X != 0 {
		t.Fatalf("X before arrival = %v, want the previous position 0", players[0].X)
	}
	if players := b.View(base.Add(time.Second)); players[0].X != 100 {
		t.Fatalf("X long after arrival = %v, want the latest position 100", players[0].X)
	}
}

func TestViewWithSingleSnapshot(t *testing.T) {
	var b SnapshotBuffer
	base := time.Now()

	if got := b.View(base); got != nil {
		t.Fatalf("empty buffer produced players: %+v", got)
	}
	b.Ingest(snapshotAt(1, time.Unix(1700000000, 0), PlayerState{ID: 1, X: 42}), base)
	players := b.View(base.Add(time.Hour))
	if len(players) != 1 || players[0].X != 42 {
		t.Fatalf("single-snapshot view = %+v, want the authoritative state", players)
	}
}

func TestViewShowsNewPlayersAtAuthoritativePosition(t *testing.T) {
	var b SnapshotBuffer
	base := time.Now()
	server := time.Unix(1700000000, 0)
	span := 100 * time.Millisecond

	b.Ingest(snapshotAt(1, server, PlayerState{ID: 1, X: 0}), base)
	b.Ingest(snapshotAt(2, server.Add(span),
		PlayerState{ID: 1, X: 100},
		PlayerState{ID: 2, X: -300, Color: protocol.Color{R: 5}},
	), base)

	players := b.View(base.Add(span / 2))
	if len(players) != 2 {
		t.Fatalf("View returned %d players, want 2", len(players))
	}
	var joined *PlayerState
	for i := range players {
		if players[i].ID == 2 {
			joined = &players[i]
		}
	}
	if joined == nil {
		t.Fatalf("newly joined player missing from view")
	}
	if joined.X != -300 {
		t.Fatalf("new player interpolated from nothing: X = %v, want -300", joined.X)
	}
}
