// Package config handles m8r.toml runtime configuration.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is an m8r.toml runtime configuration.
type Config struct {
	Runtime Runtime `toml:"runtime"`
	Shell   Shell   `toml:"shell"`
	VFS     VFS     `toml:"vfs"`
	Log     Log     `toml:"log"`
}

// Runtime tunes the VM and collector.
type Runtime struct {
	// GCThreshold is the allocation count that triggers a collection at
	// the next safe point.
	GCThreshold int `toml:"gc_threshold"`
}

// Shell configures the remote shell listeners.
type Shell struct {
	Enabled bool `toml:"enabled"`
	// Listen is the TCP address of the line shell, e.g. ":2222".
	Listen string `toml:"listen"`
	// WebSocket is the HTTP address of the WebSocket shell, empty to
	// disable.
	WebSocket string `toml:"websocket"`
}

// VFS locates the virtual filesystem database.
type VFS struct {
	Path string `toml:"path"`
}

// Log selects the commonlog verbosity (0 quiet .. 2 debug).
type Log struct {
	Verbosity int `toml:"verbosity"`
}

// Default returns the configuration used when no m8r.toml exists.
func Default() Config {
	return Config{
		Runtime: Runtime{GCThreshold: 1024},
		Shell:   Shell{Enabled: false, Listen: ":2222"},
		VFS:     VFS{Path: "m8r.db"},
		Log:     Log{Verbosity: 1},
	}
}

// Load reads a configuration file, filling unset fields from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Runtime.GCThreshold <= 0 {
		cfg.Runtime.GCThreshold = Default().Runtime.GCThreshold
	}
	return cfg, nil
}

// LoadOrDefault reads path when it exists and falls back to Default.
func LoadOrDefault(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}
