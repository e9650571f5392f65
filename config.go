package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"quadarena/internal/server"
)

// fileConfig is the optional YAML configuration file. Every field has a
// default; flags override whatever the file sets.
type fileConfig struct {
	Port            int  `yaml:"port"`
	DiagPort        int  `yaml:"diag_port"`
	ServerOnly      bool `yaml:"server_only"`
	Trace           bool `yaml:"trace"`
	PlayerLimit     int  `yaml:"player_limit"`
	TickRate        int  `yaml:"tick_rate"`
	HeartbeatMillis int  `yaml:"heartbeat_ms"`
	TimeoutMillis   int  `yaml:"timeout_ms"`
	RetryMillis     int  `yaml:"retry_ms"`
	RetryBudget     int  `yaml:"retry_budget"`
}

func loadConfigFile(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// serverConfig maps the file settings onto the hub's configuration; zero
// fields keep the hub defaults.
func (c fileConfig) serverConfig() server.Config {
	cfg := server.DefaultConfig()
	if c.PlayerLimit > 0 {
		cfg.PlayerLimit = c.PlayerLimit
	}
	if c.TickRate > 0 {
		cfg.TickRate = c.TickRate
	}
	if c.HeartbeatMillis > 0 {
		cfg.HeartbeatInterval = time.Duration(c.HeartbeatMillis) * time.Millisecond
	}
	if c.TimeoutMillis > 0 {
		cfg.Timeout = time.Duration(c.TimeoutMillis) * time.Millisecond
	}
	if c.RetryMillis > 0 {
		cfg.RetryInterval = time.Duration(c.RetryMillis) * time.Millisecond
	}
	if c.RetryBudget > 0 {
		cfg.RetryBudget = c.RetryBudget
	}
	return cfg
}
