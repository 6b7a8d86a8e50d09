// Package config loads settings from an optional file and CONSENSUS_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rcliao/consensus-memory/internal/logging"
	"github.com/rcliao/consensus-memory/internal/model"
)

// EnvPrefix prefixes every environment override, e.g. CONSENSUS_STORE_DSN.
const EnvPrefix = "CONSENSUS"

// Config is the full process configuration.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Log      logging.Config `mapstructure:"log"`
	Access   AccessConfig   `mapstructure:"access"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Registry RegistryConfig `mapstructure:"registry"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// StoreConfig selects the entry store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres
	DSN    string `mapstructure:"dsn"`    // file path for sqlite, connection string for postgres
}

// AccessConfig lists privileged identities.
type AccessConfig struct {
	Admins []string `mapstructure:"admins"`
}

type PoolConfig struct {
	DefaultStrategy string `mapstructure:"default_strategy"`
}

// WorkersConfig drives the background loops.
type WorkersConfig struct {
	MergeInterval   time.Duration `mapstructure:"merge_interval"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	ArchiveAfter    time.Duration `mapstructure:"archive_after"`
	ArchiveBatch    int           `mapstructure:"archive_batch"`
}

type NotifyConfig struct {
	Type  string      `mapstructure:"type"` // none | log | redis
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// RegistryConfig declares session membership statically. Sessions not
// listed fall back to the agents that have written to them.
type RegistryConfig struct {
	Sessions []SessionMembers `mapstructure:"sessions"`
}

type SessionMembers struct {
	ID     string   `mapstructure:"id"`
	Agents []string `mapstructure:"agents"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultDBPath is the SQLite file used when no DSN is configured.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".consensus-memory", "memory.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("access.admins", []string{})
	v.SetDefault("pool.default_strategy", string(model.StrategyLastWriteWins))
	v.SetDefault("workers.merge_interval", "30s")
	v.SetDefault("workers.sweep_interval", "1m")
	v.SetDefault("workers.cleanup_interval", "1m")
	v.SetDefault("workers.archive_after", "24h")
	v.SetDefault("workers.archive_batch", 500)
	v.SetDefault("notify.type", "log")
	v.SetDefault("notify.redis.addr", "localhost:6379")
	v.SetDefault("notify.redis.password", "")
	v.SetDefault("notify.redis.db", 0)
	v.SetDefault("notify.redis.channel_prefix", "consensus")
	v.SetDefault("registry.sessions", []map[string]any{})
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "consensus-memory")
	v.SetDefault("metrics.addr", ":9464")
}

// Load reads configPath (yaml, json or toml; empty means defaults only)
// and applies environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.DSN == "" {
		cfg.Store.DSN = DefaultDBPath()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the rest of the program relies on.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q (valid: sqlite, postgres)", c.Store.Driver)
	}
	if _, err := model.ParseStrategy(c.Pool.DefaultStrategy); err != nil {
		return fmt.Errorf("pool.default_strategy: %w", err)
	}
	switch c.Notify.Type {
	case "none", "log", "redis":
	default:
		return fmt.Errorf("unknown notify.type %q (valid: none, log, redis)", c.Notify.Type)
	}
	for name, d := range map[string]time.Duration{
		"workers.merge_interval":   c.Workers.MergeInterval,
		"workers.sweep_interval":   c.Workers.SweepInterval,
		"workers.cleanup_interval": c.Workers.CleanupInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// Strategy returns the configured default resolution strategy.
func (c *Config) Strategy() model.Strategy {
	s, _ := model.ParseStrategy(c.Pool.DefaultStrategy)
	if s == "" {
		return model.StrategyLastWriteWins
	}
	return s
}

// Members returns the static registry as a session -> agents map.
func (c *Config) Members() map[string][]string {
	out := make(map[string][]string, len(c.Registry.Sessions))
	for _, s := range c.Registry.Sessions {
		out[s.ID] = append(out[s.ID], s.Agents...)
	}
	return out
}
