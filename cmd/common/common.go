// Package common provides shared configuration and wiring helpers for the
// bidwire CLI commands.
package common

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bidwire/bidwire/store"
)

// PackageName identifies the project in metrics and logs.
const PackageName = "bidwire"

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is one of "memory", "bolt" or "postgres".
	Backend  string               `yaml:"backend"`
	BoltPath string               `yaml:"bolt_path"`
	Postgres store.PostgresConfig `yaml:"postgres"`
}

// Config is the auctiond configuration file.
type Config struct {
	// ControlListenAddr is the UDP address of the control channel.
	ControlListenAddr string `yaml:"control_listen_addr"`

	// HTTPListenAddr serves the operator inspection API. Empty disables it.
	HTTPListenAddr string `yaml:"http_listen_addr"`

	// MetricsAddr serves /metrics. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	EnablePprof bool `yaml:"enable_pprof"`
	LogJSON     bool `yaml:"log_json"`
	LogDebug    bool `yaml:"log_debug"`

	// MaxAccounts and MaxItems are the directory and catalog ceilings.
	MaxAccounts int `yaml:"max_accounts"`
	MaxItems    int `yaml:"max_items"`

	// Workers sizes the dispatch pool.
	Workers int `yaml:"workers"`

	// TickSeconds is the lifecycle scheduler cadence.
	TickSeconds int `yaml:"tick_seconds"`

	// SettleTimeoutSeconds bounds each finalize-response wait.
	SettleTimeoutSeconds int `yaml:"settle_timeout_seconds"`

	// DialTimeoutSeconds bounds reliable-channel connects.
	DialTimeoutSeconds int `yaml:"dial_timeout_seconds"`

	Store StoreConfig `yaml:"store"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	limits := store.DefaultLimits()
	return &Config{
		ControlListenAddr:    ":5000",
		HTTPListenAddr:       ":8080",
		MetricsAddr:          ":9090",
		MaxAccounts:          limits.MaxAccounts,
		MaxItems:             limits.MaxItems,
		Workers:              10,
		TickSeconds:          30,
		SettleTimeoutSeconds: 30,
		DialTimeoutSeconds:   10,
		Store:                StoreConfig{Backend: "memory"},
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.ControlListenAddr == "" {
		return fmt.Errorf("control_listen_addr is required")
	}
	if c.MaxAccounts <= 0 || c.MaxItems <= 0 {
		return fmt.Errorf("max_accounts and max_items must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.TickSeconds <= 0 || c.SettleTimeoutSeconds <= 0 || c.DialTimeoutSeconds <= 0 {
		return fmt.Errorf("tick_seconds, settle_timeout_seconds and dial_timeout_seconds must be positive")
	}
	switch c.Store.Backend {
	case "memory":
	case "bolt":
		if c.Store.BoltPath == "" {
			return fmt.Errorf("bolt backend requires bolt_path")
		}
	case "postgres":
		if c.Store.Postgres.Host == "" || c.Store.Postgres.Database == "" {
			return fmt.Errorf("postgres backend requires host and database")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// Limits returns the configured store ceilings.
func (c *Config) Limits() store.Limits {
	return store.Limits{MaxAccounts: c.MaxAccounts, MaxItems: c.MaxItems}
}

// Tick returns the scheduler cadence as a duration.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// SettleTimeout returns the finalize-response bound as a duration.
func (c *Config) SettleTimeout() time.Duration {
	return time.Duration(c.SettleTimeoutSeconds) * time.Second
}

// DialTimeout returns the reliable-channel connect bound as a duration.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

// NewStore builds the configured persistence backend.
func (c *Config) NewStore() (store.Store, error) {
	switch c.Store.Backend {
	case "memory":
		return store.NewMemoryStore(c.Limits()), nil
	case "bolt":
		return store.NewBoltStore(c.Store.BoltPath, c.Limits())
	case "postgres":
		return store.NewPostgresStore(&c.Store.Postgres, c.Limits())
	}
	return nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
}

// NewLogger builds the process logger per the configuration.
func (c *Config) NewLogger() *slog.Logger {
	level := slog.LevelInfo
	if c.LogDebug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.LogJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
