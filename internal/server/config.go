package server

import (
	"time"

	"quadarena/internal/game"
	"quadarena/internal/reliability"
)

// Config tunes the server's timers and capacity. The defaults are reasonable
// rather than required; deployments override them through the config file.
type Config struct {
	// TickRate is the fixed simulation rate in ticks per second.
	TickRate int

	// HeartbeatInterval is how often a heartbeat is sent to a session
	// that has received no other traffic.
	HeartbeatInterval time.Duration

	// SweepInterval is how often idle sessions are checked for timeout.
	SweepInterval time.Duration

	// Timeout disconnects a session with no received traffic for this
	// long. It should be at least three heartbeat intervals.
	Timeout time.Duration

	// RetryInterval is the reliable-message retransmission interval.
	RetryInterval time.Duration

	// RetryBudget bounds retransmissions before a session is declared
	// lost.
	RetryBudget int

	// PlayerLimit caps concurrent sessions; above it handshakes are
	// rejected. It may not exceed what fits in one snapshot packet.
	PlayerLimit int

	// CommandBacklog sizes the input ring buffer shared by all sessions.
	CommandBacklog int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TickRate:          game.TickRate,
		HeartbeatInterval: time.Second,
		SweepInterval:     time.Second,
		Timeout:           5 * time.Second,
		RetryInterval:     reliability.DefaultRetryInterval,
		RetryBudget:       reliability.DefaultRetryBudget,
		PlayerLimit:       12,
		CommandBacklog:    1024,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TickRate <= 0 {
		c.TickRate = def.TickRate
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = def.RetryBudget
	}
	if c.PlayerLimit <= 0 {
		c.PlayerLimit = def.PlayerLimit
	}
	if c.CommandBacklog <= 0 {
		c.CommandBacklog = def.CommandBacklog
	}
	return c
}
