package main

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, loaded from a TOML file.
type Config struct {
	Server  ServerSection  `toml:"server"`
	Specs   SpecsSection   `toml:"specs"`
	Context ContextSection `toml:"context"`
	Logging LoggingSection `toml:"logging"`
}

// ServerSection configures the HTTP API.
type ServerSection struct {
	// Listen is the HTTP listen address.
	Listen string `toml:"listen"`
}

// SpecsSection configures protocol spec loading.
type SpecsSection struct {
	// File is a YAML protocol spec file. Empty uses the built-in specs.
	File string `toml:"file"`
}

// ContextSection configures the device context cache.
type ContextSection struct {
	// ResolverURL is the context resolver endpoint. Empty disables
	// remote resolution.
	ResolverURL string `toml:"resolver_url"`

	// SnapshotPath is the cache snapshot file. Empty disables snapshots.
	SnapshotPath string `toml:"snapshot_path"`

	// CacheCapacity bounds the number of cached records.
	CacheCapacity int `toml:"cache_capacity"`

	// TTL is the record freshness window.
	TTL duration `toml:"ttl"`

	// ConfidenceThreshold separates authoritative from advisory records.
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
}

// LoggingSection configures event logging.
type LoggingSection struct {
	// File is a CBOR event log file. Empty disables file logging.
	File string `toml:"file"`

	// Console enables structured console logging.
	Console bool `toml:"console"`
}

// duration unmarshals TOML strings like "24h".
type duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = duration(parsed)
	return nil
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Server:  ServerSection{Listen: ":8420"},
		Logging: LoggingSection{Console: true},
	}
}

// LoadConfig reads a TOML config file, filling defaults for absent keys.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8420"
	}
	return cfg, nil
}
