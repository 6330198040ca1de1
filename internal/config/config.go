// Package config loads server settings from defaults, an optional TOML
// file, and RA_MCP_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "RA_MCP_"

// Duration is a time.Duration that unmarshals from TOML strings like "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds every tunable of the server.
type Config struct {
	// AnalyzerPath is the rust-analyzer binary to spawn. Resolved from
	// PATH when not absolute.
	AnalyzerPath string `toml:"analyzer_path"`
	// AnalyzerArgs are extra arguments passed to rust-analyzer.
	AnalyzerArgs []string `toml:"analyzer_args"`
	// WorkspaceRoot is the Rust workspace the session is rooted at.
	WorkspaceRoot string `toml:"workspace_root"`
	// CargoPath is the cargo binary used for check and clippy runs.
	CargoPath string `toml:"cargo_path"`

	RequestTimeout Duration `toml:"request_timeout"`
	InitTimeout    Duration `toml:"init_timeout"`
	ShutdownGrace  Duration `toml:"shutdown_grace"`

	// WatchFiles enables the filesystem watcher that resyncs open
	// documents on external edits.
	WatchFiles bool `toml:"watch_files"`

	ServerName    string `toml:"server_name"`
	ServerVersion string `toml:"server_version"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		AnalyzerPath:   "rust-analyzer",
		CargoPath:      "cargo",
		RequestTimeout: Duration(30 * time.Second),
		InitTimeout:    Duration(60 * time.Second),
		ShutdownGrace:  Duration(5 * time.Second),
		WatchFiles:     true,
		ServerName:     "rust-analyzer-mcp",
		ServerVersion:  "0.1.0",
	}
}

// Load builds a Config from defaults, the TOML file at path when path is
// non-empty, and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.mergeEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv() error {
	for _, override := range []struct {
		name  string
		apply func(string) error
	}{
		{"ANALYZER_PATH", func(v string) error { c.AnalyzerPath = v; return nil }},
		{"ANALYZER_ARGS", func(v string) error { c.AnalyzerArgs = strings.Fields(v); return nil }},
		{"WORKSPACE_ROOT", func(v string) error { c.WorkspaceRoot = v; return nil }},
		{"CARGO_PATH", func(v string) error { c.CargoPath = v; return nil }},
		{"REQUEST_TIMEOUT", func(v string) error { return c.RequestTimeout.UnmarshalText([]byte(v)) }},
		{"INIT_TIMEOUT", func(v string) error { return c.InitTimeout.UnmarshalText([]byte(v)) }},
		{"SHUTDOWN_GRACE", func(v string) error { return c.ShutdownGrace.UnmarshalText([]byte(v)) }},
		{"WATCH_FILES", func(v string) error {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			c.WatchFiles = parsed
			return nil
		}},
		{"SERVER_NAME", func(v string) error { c.ServerName = v; return nil }},
		{"SERVER_VERSION", func(v string) error { c.ServerVersion = v; return nil }},
	} {
		val, ok := os.LookupEnv(EnvPrefix + override.name)
		if !ok {
			continue
		}
		if err := override.apply(val); err != nil {
			return fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, override.name, val, err)
		}
	}
	return nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.AnalyzerPath == "" {
		return fmt.Errorf("analyzer_path must not be empty")
	}
	if c.CargoPath == "" {
		return fmt.Errorf("cargo_path must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout.Std())
	}
	if c.InitTimeout <= 0 {
		return fmt.Errorf("init_timeout must be positive, got %s", c.InitTimeout.Std())
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown_grace must not be negative, got %s", c.ShutdownGrace.Std())
	}
	return nil
}
