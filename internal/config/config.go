// Package config loads process configuration and exposes the runtime gates
// the engine evaluates on every message.
//
// Values are layered: built-in defaults, then a YAML file, then environment
// variables prefixed with AUTOREPLY_ (for example AUTOREPLY_STORE_BACKEND or
// AUTOREPLY_ENGINE_ALLOWED_SOURCES=chat,sms).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "AUTOREPLY_"

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendNATS   = "nats"
)

// Backends lists the accepted store.backend values.
var Backends = []string{BackendSQLite, BackendFile, BackendNATS}

// Config is the complete process configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine" envPrefix:"ENGINE_"`
	Store   StoreConfig   `yaml:"store" envPrefix:"STORE_"`
	NATS    NATSConfig    `yaml:"nats" envPrefix:"NATS_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
}

// EngineConfig holds the initial gate values.
type EngineConfig struct {
	Enabled        bool     `yaml:"enabled" env:"ENABLED"`
	AllowedSources []string `yaml:"allowed_sources" env:"ALLOWED_SOURCES" envSeparator:","`
}

// StoreConfig selects the rule store backend.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`

	// Path is the database file (sqlite) or JSON document (file).
	Path string `yaml:"path" env:"PATH"`

	// NATSURL and Bucket apply to the nats backend.
	NATSURL string `yaml:"nats_url" env:"NATS_URL"`
	Bucket  string `yaml:"bucket" env:"BUCKET"`
}

// NATSConfig configures the NATS inbound source and reply gateway.
// An empty URL selects the stdin/stdout transport.
type NATSConfig struct {
	URL            string `yaml:"url" env:"URL"`
	InboundSubject string `yaml:"inbound_subject" env:"INBOUND_SUBJECT"`
	RemovedSubject string `yaml:"removed_subject" env:"REMOVED_SUBJECT"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug|info|warn|error
	Format string `yaml:"format" env:"FORMAT"` // text|json
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// Default returns the built-in configuration. The engine starts disabled
// with no allowed sources.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: BackendSQLite,
			Path:    "autoreply.db",
			NATSURL: "nats://127.0.0.1:4222",
			Bucket:  "autoreply_rules",
		},
		NATS: NATSConfig{
			InboundSubject: "autoreply.inbound.posted",
			RemovedSubject: "autoreply.inbound.removed",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (if non-empty), applies environment overrides from the
// process environment and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, nil)
}

// LoadWithEnv is Load with an explicit environment map. A nil map means the
// process environment.
func LoadWithEnv(path string, environ map[string]string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML decodes strictly: unknown keys are errors. An empty document
// leaves cfg unchanged.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks field values and normalizes case where it is not significant.
func (c *Config) Validate() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if !slices.Contains(Backends, c.Store.Backend) {
		return fmt.Errorf("store.backend %q: must be one of %v", c.Store.Backend, Backends)
	}

	switch c.Store.Backend {
	case BackendSQLite, BackendFile:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s backend", c.Store.Backend)
		}
	case BackendNATS:
		if c.Store.NATSURL == "" {
			return errors.New("store.nats_url is required for the nats backend")
		}
		if c.Store.Bucket == "" {
			return errors.New("store.bucket is required for the nats backend")
		}
	}

	if c.NATS.URL != "" {
		if c.NATS.InboundSubject == "" {
			return errors.New("nats.inbound_subject is required when nats.url is set")
		}
		if c.NATS.InboundSubject == c.NATS.RemovedSubject {
			return errors.New("nats.inbound_subject and nats.removed_subject must differ")
		}
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format %q: must be text or json", c.Log.Format)
	}

	for i, s := range c.Engine.AllowedSources {
		c.Engine.AllowedSources[i] = strings.TrimSpace(s)
	}
	c.Engine.AllowedSources = slices.DeleteFunc(c.Engine.AllowedSources, func(s string) bool { return s == "" })

	return nil
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return level, nil
}

// NewLogger builds a slog logger writing to w. verbose forces debug level.
func (l LogConfig) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	hopts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}
