// Package config loads the engine's YAML configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/waypointhq/waypoint/internal/journey"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "90s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ScannerConfig configures the time-based re-trigger scanners.
type ScannerConfig struct {
	// Interval between scans.
	Interval Duration `yaml:"interval"`
	// Shards is how many scanners split the parked customers between
	// them.
	Shards int `yaml:"shards"`
}

// RetryConfig configures job redelivery after processing failures.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Backoff     Duration `yaml:"backoff"`
}

// Config is the engine configuration.
type Config struct {
	// Database is the SQLite database path.
	Database string `yaml:"database"`

	// LockTimeout is how long a location lock stays fresh before other
	// workers may reclaim it.
	LockTimeout Duration `yaml:"lock_timeout"`

	// CacheTTL bounds how stale a cached journey definition may be.
	CacheTTL Duration `yaml:"cache_ttl"`

	// Workers maps step kinds to pool concurrency; kinds not listed
	// run one worker.
	Workers map[string]int `yaml:"workers"`

	Scanner ScannerConfig `yaml:"scanner"`
	Retry   RetryConfig   `yaml:"retry"`

	// EnrollBatchSize bounds the bulk-enrollment fan-out page size.
	EnrollBatchSize int `yaml:"enroll_batch_size"`

	// WorkspaceOffsets maps workspace ids to their offset from UTC,
	// used to evaluate journey-configured local quiet hours.
	WorkspaceOffsets map[string]Duration `yaml:"workspace_offsets"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Database:    "waypoint.db",
		LockTimeout: Duration(60 * time.Second),
		CacheTTL:    Duration(time.Minute),
		Scanner: ScannerConfig{
			Interval: Duration(time.Minute),
			Shards:   1,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Backoff:     Duration(5 * time.Second),
		},
		EnrollBatchSize: 500,
	}
}

// Load reads and validates a YAML configuration file. Fields left out
// keep their defaults; unknown fields are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run
// with.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	if c.LockTimeout.Std() <= 0 {
		return fmt.Errorf("lock_timeout must be positive")
	}
	if c.CacheTTL.Std() <= 0 {
		return fmt.Errorf("cache_ttl must be positive")
	}
	if c.Scanner.Interval.Std() <= 0 {
		return fmt.Errorf("scanner.interval must be positive")
	}
	if c.Scanner.Shards < 1 {
		return fmt.Errorf("scanner.shards must be at least 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.Backoff.Std() < 0 {
		return fmt.Errorf("retry.backoff must not be negative")
	}
	if c.EnrollBatchSize < 1 {
		return fmt.Errorf("enroll_batch_size must be at least 1")
	}
	for kind, n := range c.Workers {
		if !journey.Kind(kind).Valid() {
			return fmt.Errorf("workers: unknown step kind %q", kind)
		}
		if n < 1 {
			return fmt.Errorf("workers: %s concurrency must be at least 1", kind)
		}
	}
	return nil
}

// WorkerCounts returns the per-kind pool concurrency keyed by step
// kind, defaulting unlisted kinds to one worker at pool construction.
func (c *Config) WorkerCounts() map[journey.Kind]int {
	counts := make(map[journey.Kind]int, len(c.Workers))
	for kind, n := range c.Workers {
		counts[journey.Kind(kind)] = n
	}
	return counts
}

// Offsets returns the workspace UTC offsets as plain durations.
func (c *Config) Offsets() map[string]time.Duration {
	offsets := make(map[string]time.Duration, len(c.WorkspaceOffsets))
	for ws, d := range c.WorkspaceOffsets {
		offsets[ws] = d.Std()
	}
	return offsets
}
