// Package config provides hierarchical configuration loading for ClawDeck.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the ClawDeck console.
type Config struct {
	Server      Server      `yaml:"server"`
	Logging     Logging     `yaml:"logging"`
	Storage     Storage     `yaml:"storage"`
	Relay       Relay       `yaml:"relay"`
	Health      Health      `yaml:"health"`
	Sandbox     Sandbox     `yaml:"sandbox"`
	Cache       Cache       `yaml:"cache"`
	Idempotency Idempotency `yaml:"idempotency"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
	StaticDir  string `yaml:"static_dir"` // UI bundle directory; empty disables static serving
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Storage holds durable-state configuration. Instances are persisted as a
// single versioned JSON snapshot.
type Storage struct {
	Path string `yaml:"path"`
}

// Relay holds outbound streamed-dispatch configuration.
type Relay struct {
	Model   string        `yaml:"model"`   // model name sent on every dispatch
	Timeout time.Duration `yaml:"timeout"` // hard wall-clock cap per dispatch
}

// Health holds the periodic liveness-probe configuration.
type Health struct {
	Interval        time.Duration `yaml:"interval"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// Sandbox holds gateway-container provisioning configuration.
type Sandbox struct {
	Image        string        `yaml:"image"`
	GatewayPort  int           `yaml:"gateway_port"`
	MemoryMB     int           `yaml:"memory_mb"`
	NanoCPUs     int64         `yaml:"nano_cpus"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// Cache holds in-process cache configuration.
type Cache struct {
	MaxSizeMB int64 `yaml:"max_size_mb"`
}

// Idempotency holds mutation-replay configuration.
type Idempotency struct {
	TTL time.Duration `yaml:"ttl"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "3001",
			CORSOrigin: "http://localhost:5173",
		},
		Logging: Logging{
			Level:   "info",
			Service: "clawdeck",
		},
		Storage: Storage{
			Path: "data/instances.json",
		},
		Relay: Relay{
			Model:   "openclaw",
			Timeout: 10 * time.Minute,
		},
		Health: Health{
			Interval:        30 * time.Second,
			ProbeTimeout:    5 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 2 * time.Minute,
		},
		Sandbox: Sandbox{
			Image:        "openclaw/gateway:latest",
			GatewayPort:  18789,
			MemoryMB:     2048,
			NanoCPUs:     2_000_000_000,
			ReadyTimeout: 2 * time.Minute,
		},
		Cache: Cache{
			MaxSizeMB: 32,
		},
		Idempotency: Idempotency{
			TTL: 10 * time.Minute,
		},
	}
}
