// Package game holds the authoritative world simulation and the client-side
// view of it: player state, fixed-tick input application, immutable world
// snapshots, and interpolation between the two most recent snapshots.
package game

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"quadarena/internal/protocol"
	"quadarena/internal/reliability"
)

const (
	// TickRate is the fixed simulation rate in ticks per second. 60 is a
	// common value: higher rates smooth control at the cost of CPU and
	// bandwidth, lower rates reduce load but feel less responsive.
	TickRate = 60

	// MoveSpeed is how fast a player moves, in world units per second.
	MoveSpeed = 160.0

	// PlayerHalf is half the player quad's edge; positions are clamped so
	// the whole quad stays inside the world bounds.
	PlayerHalf = 12.0

	// World bounds are relative to the origin.
	WorldMinX = -1200.0
	WorldMinY = -1200.0
	WorldMaxX = 1200.0
	WorldMaxY = 1200.0
)

// PlayerState is the authoritative state of one player.
type PlayerState struct {
	ID        uint64
	X, Y      float64
	VX, VY    float64
	Facing    protocol.Facing
	LastInput uint32
	Color     protocol.Color
}

// InputCommand is one requested movement/action sample from a player.
type InputCommand struct {
	PlayerID   uint64
	Sequence   uint32
	DX, DY     float64
	Facing     protocol.Facing
	TargetTick uint64
}

// Snapshot is the world state at one tick. Snapshots are immutable after
// creation and safe to share across concurrent broadcasts. Players are
// ordered by ascending ID.
type Snapshot struct {
	Tick       uint64
	ServerTime time.Time
	Players    []PlayerState
}

// Player returns the state for id within the snapshot.
func (s Snapshot) Player(id uint64) (PlayerState, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return PlayerState{}, false
}

// World is the server's mutable authoritative state. It is not self-locking;
// the tick driver owns it.
type World struct {
	tick    uint64
	players map[uint64]*PlayerState
}

// NewWorld creates an empty world at tick zero.
func NewWorld() *World {
	return &World{players: make(map[uint64]*PlayerState)}
}

// Tick returns the last completed tick number.
func (w *World) Tick() uint64 { return w.tick }

// AddPlayer registers a player at the spawn point. Re-adding an existing ID
// leaves the current state untouched, keeping duplicate handshakes
// idempotent.
func (w *World) AddPlayer(id uint64, color protocol.Color) PlayerState {
	if p, ok := w.players[id]; ok {
		return *p
	}
	p := &PlayerState{ID: id, Facing: protocol.FacingDown, Color: color}
	w.players[id] = p
	return *p
}

// RemovePlayer drops a player from the world.
func (w *World) RemovePlayer(id uint64) {
	delete(w.players, id)
}

// PlayerCount reports how many players are simulated.
func (w *World) PlayerCount() int { return len(w.players) }

// Step advances the world by one tick: commands are applied in the order
// given (the caller provides per-session arrival order with sessions sorted
// by ascending ID), then movement integrates over dt and positions are
// clamped to the world bounds. Commands targeting an already-passed tick are
// applied now rather than dropped, tolerating network jitter. The returned
// snapshot is immutable.
func (w *World) Step(cmds []InputCommand, dt float64, now time.Time) Snapshot {
	for _, cmd := range cmds {
		w.apply(cmd)
	}

	for _, p := range w.players {
		p.X += p.VX * dt
		p.Y += p.VY * dt
		p.X = clamp(p.X, WorldMinX+PlayerHalf, WorldMaxX-PlayerHalf)
		p.Y = clamp(p.Y, WorldMinY+PlayerHalf, WorldMaxY-PlayerHalf)
	}

	w.tick++
	return w.snapshot(now)
}

// apply folds one input command into its player's state. A command whose
// sequence is not newer than the last applied one is stale (duplicate or
// reordered) and has no effect.
func (w *World) apply(cmd InputCommand) {
	p, ok := w.players[cmd.PlayerID]
	if !ok {
		return
	}
	if p.LastInput != 0 && !reliability.SequenceNewer(cmd.Sequence, p.LastInput) {
		return
	}

	dx, dy := cmd.DX, cmd.DY
	if length := math.Hypot(dx, dy); length > 1 {
		dx /= length
		dy /= length
	}
	p.VX = dx * MoveSpeed
	p.VY = dy * MoveSpeed
	p.Facing = deriveFacing(dx, dy, cmd.Facing)
	p.LastInput = cmd.Sequence
}

func (w *World) snapshot(now time.Time) Snapshot {
	players := make([]PlayerState, 0, len(w.players))
	for _, p := range w.players {
		players = append(players, *p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	return Snapshot{Tick: w.tick, ServerTime: now, Players: players}
}

// deriveFacing picks the facing that best matches the movement vector,
// falling back to the requested facing when idle.
func deriveFacing(dx, dy float64, requested protocol.Facing) protocol.Facing {
	const epsilon = 1e-6
	if math.Abs(dx) < epsilon {
		dx = 0
	}
	if math.Abs(dy) < epsilon {
		dy = 0
	}
	if dx == 0 && dy == 0 {
		return requested
	}
	if math.Abs(dy) >= math.Abs(dx) {
		if dy > 0 {
			return protocol.FacingDown
		}
		return protocol.FacingUp
	}
	if dx > 0 {
		return protocol.FacingRight
	}
	return protocol.FacingLeft
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// RandomColor picks a player color, rerolling anything close to white so
// players stay visible on a light background.
func RandomColor(rng *rand.Rand) protocol.Color {
	for {
		c := protocol.Color{
			R: uint8(rng.Intn(256)),
			G: uint8(rng.Intn(256)),
			B: uint8(rng.Intn(256)),
		}
		if c.R < 250 || c.G < 250 || c.B < 250 {
			return c
		}
	}
}
