// Package config loads configuration from environment variables over compiled defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Prefix of every environment variable read by Load. Nested keys are separated by underscores,
// e.g. CHRONOS_SOURCES_NTP_SERVERS.
const EnvPrefix = "CHRONOS_"

var ErrInvalidConfig = errors.New("invalid configuration")

// Source and store names accepted in configuration.
var (
	KnownSources = []string{"nts", "ntp", "http", "device"}
	KnownDrivers = []string{"memory", "file", "sqlite", "redis", "badger"}
)

// Config holds all configuration.
type Config struct {
	Log        LogConfig        `koanf:"log"`
	Sources    SourcesConfig    `koanf:"sources"`
	Store      StoreConfig      `koanf:"store"`
	Server     ServerConfig     `koanf:"server"`
	Refresh    RefreshConfig    `koanf:"refresh"`
	Initialize InitializeConfig `koanf:"initialize"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // "debug", "info", "warn", "error"
	Format string `koanf:"format"` // "json" or "console"
	File   string `koanf:"file"`   // Empty logs to stderr only
}

// SourcesConfig lists time sources in the order they are tried.
type SourcesConfig struct {
	Order []string   `koanf:"order"`
	NTS   NTSConfig  `koanf:"nts"`
	NTP   NTPConfig  `koanf:"ntp"`
	HTTP  HTTPConfig `koanf:"http"`
}

type NTSConfig struct {
	Servers []string `koanf:"servers"`
}

type NTPConfig struct {
	Servers []string      `koanf:"servers"`
	Timeout time.Duration `koanf:"timeout"`
}

type HTTPConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
	Retries uint64        `koanf:"retries"`
}

type StoreConfig struct {
	Driver string      `koanf:"driver"`
	Path   string      `koanf:"path"` // File, SQLite and badger location
	Redis  RedisConfig `koanf:"redis"`
}

type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Prefix   string        `koanf:"prefix"`
	Timeout  time.Duration `koanf:"timeout"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type RefreshConfig struct {
	Interval time.Duration `koanf:"interval"` // Zero disables periodic refresh
}

type InitializeConfig struct {
	Retry      time.Duration `koanf:"retry"`      // Delay between failed attempts
	Regression string        `koanf:"regression"` // "stay" or "mark"
}

// Keys whose environment values are comma-separated lists.
var listKeys = []string{"sources.order", "sources.nts.servers", "sources.ntp.servers"}

// Splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	out := []string{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Returns the default location for file-backed stores.
func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "chronos", "prefs.yaml")
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Sources: SourcesConfig{
			Order: []string{"nts", "ntp", "device"},
			NTS: NTSConfig{
				Servers: []string{"time.cloudflare.com"},
			},
			NTP: NTPConfig{
				Servers: []string{"time.google.com", "pool.ntp.org"},
				Timeout: 5 * time.Second,
			},
			HTTP: HTTPConfig{
				Timeout: 5 * time.Second,
				Retries: 2,
			},
		},
		Store: StoreConfig{
			Driver: "file",
			Path:   defaultStorePath(),
			Redis: RedisConfig{
				Addr:    "localhost:6379",
				Prefix:  "chronos:",
				Timeout: 3 * time.Second,
			},
		},
		Server: ServerConfig{
			Addr: ":8123",
		},
		Refresh: RefreshConfig{
			Interval: 10 * time.Minute,
		},
		Initialize: InitializeConfig{
			Retry:      30 * time.Second,
			Regression: "stay",
		},
	}
}

// Load loads configuration: environment variables override compiled defaults.
func Load() (*Config, error) {
	k := koanf.New(".")
	cfg := defaults()

	err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "_", ".")
		if slices.Contains(listKeys, key) {
			return key, splitList(value)
		}
		return key, value
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration describes something that can run.
func (c *Config) Validate() error {
	if len(c.Sources.Order) == 0 {
		return fmt.Errorf("%w: sources.order is empty", ErrInvalidConfig)
	}
	for _, name := range c.Sources.Order {
		if !slices.Contains(KnownSources, name) {
			return fmt.Errorf("%w: unknown source %q", ErrInvalidConfig, name)
		}
	}
	if slices.Contains(c.Sources.Order, "nts") && len(c.Sources.NTS.Servers) == 0 {
		return fmt.Errorf("%w: sources.nts.servers is required", ErrInvalidConfig)
	}
	if slices.Contains(c.Sources.Order, "ntp") {
		if len(c.Sources.NTP.Servers) == 0 {
			return fmt.Errorf("%w: sources.ntp.servers is required", ErrInvalidConfig)
		}
		if c.Sources.NTP.Timeout <= 0 {
			return fmt.Errorf("%w: sources.ntp.timeout must be positive", ErrInvalidConfig)
		}
	}
	if slices.Contains(c.Sources.Order, "http") {
		if c.Sources.HTTP.URL == "" {
			return fmt.Errorf("%w: sources.http.url is required", ErrInvalidConfig)
		}
		if c.Sources.HTTP.Timeout <= 0 {
			return fmt.Errorf("%w: sources.http.timeout must be positive", ErrInvalidConfig)
		}
	}

	if !slices.Contains(KnownDrivers, c.Store.Driver) {
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	if c.Store.Driver == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("%w: store.redis.addr is required", ErrInvalidConfig)
	}
	if (c.Store.Driver == "file" || c.Store.Driver == "sqlite" || c.Store.Driver == "badger") && c.Store.Path == "" {
		return fmt.Errorf("%w: store.path is required", ErrInvalidConfig)
	}

	if c.Refresh.Interval < 0 {
		return fmt.Errorf("%w: refresh.interval must not be negative", ErrInvalidConfig)
	}
	if c.Initialize.Retry <= 0 {
		return fmt.Errorf("%w: initialize.retry must be positive", ErrInvalidConfig)
	}
	if c.Initialize.Regression != "stay" && c.Initialize.Regression != "mark" {
		return fmt.Errorf("%w: initialize.regression must be \"stay\" or \"mark\"", ErrInvalidConfig)
	}
	return nil
}
