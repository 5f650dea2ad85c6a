package config

import (
	"fmt"
	"runtime"

	units "github.com/docker/go-units"
	coretypes "github.com/projecteru2/core/types"
)

// Config holds global Hatchery configuration.
type Config struct {
	// RootDir is the base directory for persistent data (server volumes,
	// the server index).
	RootDir string `json:"root_dir" mapstructure:"root_dir"`
	// Listen is the daemon HTTP/websocket listen address.
	Listen string `json:"listen" mapstructure:"listen"`

	// Panel is the control-plane base URL, e.g. "https://panel.example.com/api".
	Panel string `json:"panel" mapstructure:"panel"`
	// PanelToken authenticates daemon-to-panel calls (unit config fetch).
	PanelToken string `json:"panel_token" mapstructure:"panel_token"`

	// PoolSize bounds concurrent install jobs. Defaults to runtime.NumCPU().
	PoolSize int `json:"pool_size" mapstructure:"pool_size"`
	// StopTimeoutSeconds is the graceful stop window before the engine kills
	// the container.
	StopTimeoutSeconds int `json:"stop_timeout_seconds" mapstructure:"stop_timeout_seconds"`

	// DefaultMemory is the fallback memory limit for servers created without
	// one, as a human size ("512M").
	DefaultMemory string `json:"default_memory" mapstructure:"default_memory"`

	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log" mapstructure:"log"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RootDir:            "/var/lib/hatchery",
		Listen:             ":8080",
		PoolSize:           runtime.NumCPU(),
		StopTimeoutSeconds: 30,
		DefaultMemory:      "1G",
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// Normalize fills zero-value fields after unmarshalling and validates the
// fields every component depends on.
func (c *Config) Normalize() error {
	if c.PoolSize <= 0 {
		c.PoolSize = runtime.NumCPU()
	}
	if c.StopTimeoutSeconds <= 0 {
		c.StopTimeoutSeconds = 30
	}
	if c.RootDir == "" {
		return fmt.Errorf("root_dir must not be empty")
	}
	if _, err := units.RAMInBytes(c.DefaultMemory); c.DefaultMemory != "" && err != nil {
		return fmt.Errorf("invalid default_memory %q: %w", c.DefaultMemory, err)
	}
	return nil
}

// DefaultMemoryBytes returns DefaultMemory parsed to bytes, or 1 GiB when unset.
func (c *Config) DefaultMemoryBytes() int64 {
	if c.DefaultMemory == "" {
		return 1 << 30
	}
	n, err := units.RAMInBytes(c.DefaultMemory)
	if err != nil {
		return 1 << 30
	}
	return n
}
