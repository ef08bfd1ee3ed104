// Package config loads archivist's YAML configuration.
//
// Values are resolved in order: built-in defaults, the config file, then
// the ARCHIVIST_DB_PATH and ARCHIVIST_LOG_LEVEL environment variables.
// Relative paths in a config file are resolved against the file's
// directory.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/archivist/internal/errs"
	"github.com/roach88/archivist/internal/logging"
	"github.com/roach88/archivist/internal/store"
)

// Environment overrides.
const (
	EnvDBPath   = "ARCHIVIST_DB_PATH"
	EnvLogLevel = "ARCHIVIST_LOG_LEVEL"
)

// DefaultPath is the config file read when none is given.
const DefaultPath = "archivist.yaml"

// Config is the full process configuration.
type Config struct {
	Database Database `yaml:"database"`
	Logging  Logging  `yaml:"logging"`
	Registry Registry `yaml:"registry"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Database configures the SQLite store.
type Database struct {
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

// Logging configures the zap logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Registry points at the CUE collection registry. An empty path selects
// the embedded default.
type Registry struct {
	Path string `yaml:"path"`
}

// Metrics toggles Prometheus instrumentation.
type Metrics struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: Database{
			Path:          "archivist.db",
			BusyTimeoutMS: store.DefaultBusyTimeout,
		},
		Logging: Logging{
			Level:  string(logging.InfoLevel),
			Format: string(logging.FormatConsole),
		},
	}
}

// Load reads path over the defaults. A missing file is not an error when
// path is DefaultPath, so the CLI runs without any config.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, err
		}
		cfg.resolvePaths(filepath.Dir(path))
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads a config document over the defaults without touching the
// environment or the filesystem.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(r); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return errs.Validation("failed to parse config: %v", err)
	}
	return nil
}

func (c *Config) resolvePaths(base string) {
	if c.Database.Path != "" && c.Database.Path != ":memory:" && !filepath.IsAbs(c.Database.Path) {
		c.Database.Path = filepath.Join(base, c.Database.Path)
	}
	if c.Registry.Path != "" && !filepath.IsAbs(c.Registry.Path) {
		c.Registry.Path = filepath.Join(base, c.Registry.Path)
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks every field, returning a VALIDATION_FAILED error naming
// the first bad one.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errs.Validation("database.path is required")
	}
	if c.Database.BusyTimeoutMS < 0 {
		return errs.Validation("database.busy_timeout_ms must not be negative")
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return errs.Validation("logging.level %q is not one of DEBUG, INFO, WARN, ERROR", c.Logging.Level)
	}
	if !logging.ValidFormat(c.Logging.Format) {
		return errs.Validation("logging.format %q is not one of CONSOLE, JSON", c.Logging.Format)
	}
	return nil
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
