package client

import (
	"time"

	"quadarena/internal/game"
	"quadarena/internal/reliability"
)

// Config tunes the client's timers. Zero values fall back to the defaults,
// which mirror the server's.
type Config struct {
	// InputRate is how many input commands are sent per second. It
	// matches the simulation tick rate so every tick has fresh input and
	// the server's reliable messages are acknowledged promptly.
	InputRate int

	// HeartbeatInterval is how often a heartbeat is sent for RTT
	// measurement and liveness.
	HeartbeatInterval time.Duration

	// SweepInterval is how often server liveness is checked.
	SweepInterval time.Duration

	// Timeout declares the connection lost after this long without any
	// traffic from the server.
	Timeout time.Duration

	// ConnectTimeout bounds the handshake: Dial gives up when no accept
	// or reject arrives within it.
	ConnectTimeout time.Duration

	// RetryInterval is the reliable-message retransmission interval.
	RetryInterval time.Duration

	// RetryBudget bounds retransmissions before the connection is
	// declared lost.
	RetryBudget int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		InputRate:         game.TickRate,
		HeartbeatInterval: time.Second,
		SweepInterval:     time.Second,
		Timeout:           5 * time.Second,
		ConnectTimeout:    5 * time.Second,
		RetryInterval:     reliability.DefaultRetryInterval,
		RetryBudget:       reliability.DefaultRetryBudget,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.InputRate <= 0 {
		c.InputRate = def.InputRate
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
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = def.RetryBudget
	}
	return c
}
