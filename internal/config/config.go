// Package config holds the server configuration. It is built once at startup
// from defaults, an optional TOML or YAML file and KEPHASRPC_* environment
// variables, then handed to the server by value.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/luciancaetano/kephasrpc/internal/observability"
)

// ErrInvalidConfig wraps every validation and parse failure.
var ErrInvalidConfig = errors.New("invalid config")

const envPrefix = "KEPHASRPC_"

// Config is the full server configuration.
type Config struct {
	Addr string
	Path string

	// ReceiveBufferSize is the size in bytes of the per-connection read buffer.
	ReceiveBufferSize int
	WriteBufferSize   int
	// MaxMessageSize caps one inbound frame.
	MaxMessageSize int64

	KeepAliveInterval time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration

	// LogAllRequests logs every request, response and removal.
	LogAllRequests bool
	// AllowTextFrames dispatches text frames instead of treating them as a disconnect.
	AllowTextFrames bool

	Log       observability.LogConfig
	RateLimit RateLimit
	Metrics   Metrics
}

// RateLimit bounds inbound frames per connection.
type RateLimit struct {
	Enabled           bool
	MessagesPerSecond float64
	Burst             int
}

// Metrics controls the prometheus endpoint.
type Metrics struct {
	Enabled bool
	Path    string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:              ":8080",
		Path:              "/ws",
		ReceiveBufferSize: 4 * 1024,
		WriteBufferSize:   4 * 1024,
		MaxMessageSize:    10 * 1024 * 1024,
		KeepAliveInterval: 60 * time.Second,
		ReadTimeout:       75 * time.Second,
		WriteTimeout:      10 * time.Second,
		Log: observability.LogConfig{
			Level:  "info",
			Format: "console",
		},
		RateLimit: RateLimit{
			Enabled:           true,
			MessagesPerSecond: 100,
			Burst:             200,
		},
		Metrics: Metrics{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration from defaults, the file at path (skipped when
// empty) and the process environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type fileConfig struct {
	Addr              string                  `toml:"addr" yaml:"addr"`
	Path              string                  `toml:"path" yaml:"path"`
	ReceiveBufferSize int                     `toml:"receive_buffer_size" yaml:"receive_buffer_size"`
	WriteBufferSize   int                     `toml:"write_buffer_size" yaml:"write_buffer_size"`
	MaxMessageSize    int64                   `toml:"max_message_size" yaml:"max_message_size"`
	KeepAliveInterval string                  `toml:"keep_alive_interval" yaml:"keep_alive_interval"`
	ReadTimeout       string                  `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      string                  `toml:"write_timeout" yaml:"write_timeout"`
	LogAllRequests    bool                    `toml:"log_all_requests" yaml:"log_all_requests"`
	AllowTextFrames   bool                    `toml:"allow_text_frames" yaml:"allow_text_frames"`
	Log               observability.LogConfig `toml:"log" yaml:"log"`
	RateLimit         struct {
		Enabled           bool    `toml:"enabled" yaml:"enabled"`
		MessagesPerSecond float64 `toml:"messages_per_second" yaml:"messages_per_second"`
		Burst             int     `toml:"burst" yaml:"burst"`
	} `toml:"rate_limit" yaml:"rate_limit"`
	Metrics struct {
		Enabled bool   `toml:"enabled" yaml:"enabled"`
		Path    string `toml:"path" yaml:"path"`
	} `toml:"metrics" yaml:"metrics"`
}

// LoadFile reads a .toml, .yaml or .yml file over the defaults. Only keys
// present in the file override a default.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	var (
		raw     fileConfig
		defined func(key ...string) bool
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
		}
		defined = meta.IsDefined

	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		var keys map[string]any
		if err := yaml.Unmarshal(data, &keys); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		defined = func(key ...string) bool { return hasKey(keys, key) }

	default:
		return Config{}, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, filepath.Ext(path))
	}

	if err := raw.apply(&cfg, defined); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func hasKey(m map[string]any, key []string) bool {
	for i, k := range key {
		v, ok := m[k]
		if !ok {
			return false
		}
		if i == len(key)-1 {
			return true
		}
		if m, ok = v.(map[string]any); !ok {
			return false
		}
	}
	return false
}

func (raw fileConfig) apply(cfg *Config, defined func(key ...string) bool) error {
	if defined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if defined("path") {
		cfg.Path = strings.TrimSpace(raw.Path)
	}
	if defined("receive_buffer_size") {
		cfg.ReceiveBufferSize = raw.ReceiveBufferSize
	}
	if defined("write_buffer_size") {
		cfg.WriteBufferSize = raw.WriteBufferSize
	}
	if defined("max_message_size") {
		cfg.MaxMessageSize = raw.MaxMessageSize
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"keep_alive_interval", raw.KeepAliveInterval, &cfg.KeepAliveInterval},
		{"read_timeout", raw.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
	}
	for _, d := range durations {
		if !defined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, d.key, err)
		}
		*d.dst = v
	}

	if defined("log_all_requests") {
		cfg.LogAllRequests = raw.LogAllRequests
	}
	if defined("allow_text_frames") {
		cfg.AllowTextFrames = raw.AllowTextFrames
	}
	if defined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if defined("log", "format") {
		cfg.Log.Format = strings.TrimSpace(raw.Log.Format)
	}
	if defined("rate_limit", "enabled") {
		cfg.RateLimit.Enabled = raw.RateLimit.Enabled
	}
	if defined("rate_limit", "messages_per_second") {
		cfg.RateLimit.MessagesPerSecond = raw.RateLimit.MessagesPerSecond
	}
	if defined("rate_limit", "burst") {
		cfg.RateLimit.Burst = raw.RateLimit.Burst
	}
	if defined("metrics", "enabled") {
		cfg.Metrics.Enabled = raw.Metrics.Enabled
	}
	if defined("metrics", "path") {
		cfg.Metrics.Path = strings.TrimSpace(raw.Metrics.Path)
	}
	return nil
}

// ApplyEnv overrides fields from KEPHASRPC_* variables found through lookup,
// usually os.LookupEnv. The log level variable is read by the logger itself.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get("ADDR"); ok {
		c.Addr = v
	}
	if v, ok := get("PATH"); ok {
		c.Path = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	if v, ok := get("METRICS_PATH"); ok {
		c.Metrics.Path = v
	}

	if v, ok := get("RECEIVE_BUFFER_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sRECEIVE_BUFFER_SIZE: %v", ErrInvalidConfig, envPrefix, err)
		}
		c.ReceiveBufferSize = n
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"LOG_ALL_REQUESTS", &c.LogAllRequests},
		{"ALLOW_TEXT_FRAMES", &c.AllowTextFrames},
		{"RATE_LIMIT_ENABLED", &c.RateLimit.Enabled},
		{"METRICS_ENABLED", &c.Metrics.Enabled},
	}
	for _, b := range bools {
		v, ok := get(b.name)
		if !ok {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, envPrefix, b.name, err)
		}
		*b.dst = parsed
	}
	return nil
}

// Validate reports every problem at once, each wrapped with ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.Addr != "", "addr is required")
	check(strings.HasPrefix(c.Path, "/"), "path %q must start with /", c.Path)
	check(c.ReceiveBufferSize > 0, "receive_buffer_size must be positive")
	check(c.WriteBufferSize > 0, "write_buffer_size must be positive")
	check(c.MaxMessageSize > 0, "max_message_size must be positive")
	check(c.KeepAliveInterval > 0, "keep_alive_interval must be positive")
	check(c.ReadTimeout > c.KeepAliveInterval, "read_timeout (%s) must exceed keep_alive_interval (%s)", c.ReadTimeout, c.KeepAliveInterval)
	check(c.WriteTimeout > 0, "write_timeout must be positive")

	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		check(false, "log format %q must be console or json", c.Log.Format)
	}

	if c.RateLimit.Enabled {
		check(c.RateLimit.MessagesPerSecond > 0, "rate_limit.messages_per_second must be positive")
		check(c.RateLimit.Burst > 0, "rate_limit.burst must be positive")
	}
	if c.Metrics.Enabled {
		check(strings.HasPrefix(c.Metrics.Path, "/"), "metrics path %q must start with /", c.Metrics.Path)
		check(c.Metrics.Path != c.Path, "metrics path must differ from the websocket path")
	}

	return errors.Join(errs...)
}
