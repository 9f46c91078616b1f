// Package config loads pocket database configuration from YAML files.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/josedab/pocket-go/pkg/errdefs"
)

// Config is the full database configuration.
type Config struct {
	// Adapter selects persistence: "memory" or "bolt".
	Adapter string `yaml:"adapter"`
	// Path is the database file for the bolt adapter.
	Path string `yaml:"path"`

	Events    EventsConfig    `yaml:"events"`
	Branching BranchingConfig `yaml:"branching"`
	Vector    VectorConfig    `yaml:"vector"`
	Log       LogConfig       `yaml:"log"`
}

// EventsConfig tunes change-stream delivery.
type EventsConfig struct {
	// Buffer sizes each subscriber queue.
	Buffer int `yaml:"buffer"`
	// Overflow is "drop-oldest" (default), "drop-newest" or "block".
	Overflow string `yaml:"overflow"`
}

// BranchingConfig bounds the branch manager.
type BranchingConfig struct {
	MaxBranches       int `yaml:"maxBranches"`
	SnapshotRetention int `yaml:"snapshotRetention"`
}

// VectorConfig sets vector-store defaults.
type VectorConfig struct {
	Dimensions int    `yaml:"dimensions"`
	Metric     string `yaml:"metric"`
	Index      string `yaml:"index"`
	CacheSize  int    `yaml:"cacheSize"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Adapter: "memory",
		Events:  EventsConfig{Buffer: 128, Overflow: "drop-oldest"},
		Branching: BranchingConfig{
			MaxBranches: 32,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects inconsistent configurations.
func (c Config) Validate() error {
	switch c.Adapter {
	case "memory":
	case "bolt":
		if c.Path == "" {
			return errdefs.New(errdefs.ErrInvalidArgument, "config.validate",
				"bolt adapter requires a path")
		}
	default:
		return errdefs.New(errdefs.ErrInvalidArgument, "config.validate",
			"unknown adapter %q", c.Adapter)
	}
	switch c.Events.Overflow {
	case "", "drop-oldest", "drop-newest", "block":
	default:
		return errdefs.New(errdefs.ErrInvalidArgument, "config.validate",
			"unknown overflow policy %q", c.Events.Overflow)
	}
	return nil
}
