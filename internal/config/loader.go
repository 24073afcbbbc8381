package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "clawdeck.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CLAWDECK_PORT")
	setString(&cfg.Server.CORSOrigin, "CLAWDECK_CORS_ORIGIN")
	setString(&cfg.Server.StaticDir, "CLAWDECK_STATIC_DIR")
	setString(&cfg.Logging.Level, "CLAWDECK_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CLAWDECK_LOG_SERVICE")
	setString(&cfg.Storage.Path, "CLAWDECK_STORAGE_PATH")
	setString(&cfg.Relay.Model, "CLAWDECK_RELAY_MODEL")
	setDuration(&cfg.Relay.Timeout, "CLAWDECK_RELAY_TIMEOUT")
	setDuration(&cfg.Health.Interval, "CLAWDECK_HEALTH_INTERVAL")
	setDuration(&cfg.Health.ProbeTimeout, "CLAWDECK_HEALTH_PROBE_TIMEOUT")
	setInt(&cfg.Health.BreakerFailures, "CLAWDECK_HEALTH_BREAKER_FAILURES")
	setDuration(&cfg.Health.BreakerCooldown, "CLAWDECK_HEALTH_BREAKER_COOLDOWN")
	setString(&cfg.Sandbox.Image, "CLAWDECK_SANDBOX_IMAGE")
	setInt(&cfg.Sandbox.GatewayPort, "CLAWDECK_SANDBOX_GATEWAY_PORT")
	setInt(&cfg.Sandbox.MemoryMB, "CLAWDECK_SANDBOX_MEMORY_MB")
	setInt64(&cfg.Sandbox.NanoCPUs, "CLAWDECK_SANDBOX_NANO_CPUS")
	setDuration(&cfg.Sandbox.ReadyTimeout, "CLAWDECK_SANDBOX_READY_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "CLAWDECK_CACHE_SIZE_MB")
	setDuration(&cfg.Idempotency.TTL, "CLAWDECK_IDEMPOTENCY_TTL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	if cfg.Relay.Model == "" {
		return errors.New("relay.model is required")
	}
	if cfg.Relay.Timeout <= 0 {
		return errors.New("relay.timeout must be positive")
	}
	if cfg.Health.Interval <= 0 {
		return errors.New("health.interval must be positive")
	}
	if cfg.Health.ProbeTimeout <= 0 {
		return errors.New("health.probe_timeout must be positive")
	}
	if cfg.Health.BreakerFailures < 1 {
		return errors.New("health.breaker_failures must be >= 1")
	}
	if cfg.Cache.MaxSizeMB < 1 {
		return errors.New("cache.max_size_mb must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
