// Package config loads synapse configuration from ~/.synapse/config.yaml
// with environment variable overrides (SYNAPSE_*).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/normanking/synapse/internal/logging"
)

// Config holds all broker configuration.
type Config struct {
	Server    ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging   logging.Config   `mapstructure:"logging" yaml:"logging"`
	Providers []ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Health    HealthConfig     `mapstructure:"health" yaml:"health"`
	Memory    MemoryConfig     `mapstructure:"memory" yaml:"memory"`
	Storage   StorageConfig    `mapstructure:"storage" yaml:"storage"`
}

// ServerConfig configures the inbound HTTP surface.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8600".
	Addr string `mapstructure:"addr" yaml:"addr"`

	// RequestTimeout is the client-facing deadline for one orchestration
	// request. Provider attempt timeouts must fit inside it with margin.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// ProviderConfig declares one LLM backend. The registry is built once at
// startup from this list; providers are never added or removed at runtime.
type ProviderConfig struct {
	// ID is the unique provider identifier, e.g. "openai-fast".
	ID string `mapstructure:"id" yaml:"id"`

	// Kind selects the client implementation: "openai" or "mock".
	Kind string `mapstructure:"kind" yaml:"kind"`

	// Endpoint is the API base URL (openai kind).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// APIKey authenticates against the provider (openai kind).
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`

	// Model is the model name sent with each request.
	Model string `mapstructure:"model" yaml:"model,omitempty"`

	// Tags are capability tags, e.g. ["fast", "cheap"].
	Tags []string `mapstructure:"tags" yaml:"tags"`

	// BaseCost is the declared relative cost, used for scoring and as the
	// deterministic tie-break (cheapest first).
	BaseCost float64 `mapstructure:"base_cost" yaml:"base_cost"`

	// Disabled marks a provider as permanently out of rotation.
	// Operator action only; health tracking never sets this.
	Disabled bool `mapstructure:"disabled" yaml:"disabled,omitempty"`
}

// HealthConfig tunes the per-provider circuit breakers.
type HealthConfig struct {
	// Window is the number of recent calls kept per provider.
	Window int `mapstructure:"window" yaml:"window"`

	// ErrorThreshold trips the breaker when the rolling error rate over a
	// full window exceeds it (0-1).
	ErrorThreshold float64 `mapstructure:"error_threshold" yaml:"error_threshold"`

	// LatencySLA is the p95 latency budget. Zero disables latency trips.
	LatencySLA time.Duration `mapstructure:"latency_sla" yaml:"latency_sla"`

	// SLABreachWindows is how many consecutive windows must breach the
	// latency SLA before the breaker opens.
	SLABreachWindows int `mapstructure:"sla_breach_windows" yaml:"sla_breach_windows"`

	// Cooldown is the initial open-state duration. It doubles on each
	// repeated trip up to MaxCooldown.
	Cooldown    time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	MaxCooldown time.Duration `mapstructure:"max_cooldown" yaml:"max_cooldown"`

	// HalfOpenSuccesses is the consecutive trial successes needed to close.
	HalfOpenSuccesses int `mapstructure:"half_open_successes" yaml:"half_open_successes"`
}

// MemoryConfig tunes the tiered memory manager.
type MemoryConfig struct {
	// WorkingCapacity bounds the Working tier (most recent turns).
	WorkingCapacity int `mapstructure:"working_capacity" yaml:"working_capacity"`

	// SessionTTL expires Session-tier entries.
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`

	// SummarizeThreshold is the Session entry count that triggers the
	// background summarization pass.
	SummarizeThreshold int `mapstructure:"summarize_threshold" yaml:"summarize_threshold"`

	// SummarizeKeep is how many of the newest Session entries survive a
	// summarization pass unsummarized.
	SummarizeKeep int `mapstructure:"summarize_keep" yaml:"summarize_keep"`

	// DefaultTokenBudget caps the assembled context when the caller does
	// not specify one.
	DefaultTokenBudget int `mapstructure:"default_token_budget" yaml:"default_token_budget"`
}

// StorageConfig selects storage backends per concern.
type StorageConfig struct {
	// SessionBackend is "local" or "redis".
	SessionBackend string `mapstructure:"session_backend" yaml:"session_backend"`

	// DurableBackend is "sqlite" (Project/Global tiers).
	DurableBackend string `mapstructure:"durable_backend" yaml:"durable_backend"`

	// LocalCapacity bounds the in-process LRU adapter.
	LocalCapacity int `mapstructure:"local_capacity" yaml:"local_capacity"`

	Redis  RedisConfig  `mapstructure:"redis" yaml:"redis"`
	SQLite SQLiteConfig `mapstructure:"sqlite" yaml:"sqlite"`
}

// RedisConfig holds connection settings for the networked cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// SQLiteConfig holds the durable blob store path.
type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Default returns the configuration used when no file exists yet.
// The mock provider keeps a fresh install runnable without API keys.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8600",
			RequestTimeout: 60 * time.Second,
		},
		Logging: logging.DefaultConfig(),
		Providers: []ProviderConfig{
			{ID: "mock", Kind: "mock", Tags: []string{"fast", "cheap"}, BaseCost: 0},
		},
		Health: HealthConfig{
			Window:            20,
			ErrorThreshold:    0.5,
			LatencySLA:        0,
			SLABreachWindows:  3,
			Cooldown:          30 * time.Second,
			MaxCooldown:       10 * time.Minute,
			HalfOpenSuccesses: 3,
		},
		Memory: MemoryConfig{
			WorkingCapacity:    8,
			SessionTTL:         24 * time.Hour,
			SummarizeThreshold: 50,
			SummarizeKeep:      10,
			DefaultTokenBudget: 4096,
		},
		Storage: StorageConfig{
			SessionBackend: "local",
			DurableBackend: "sqlite",
			LocalCapacity:  4096,
			Redis:          RedisConfig{Addr: "127.0.0.1:6379"},
			SQLite:         SQLiteConfig{Path: "~/.synapse/memory.db"},
		},
	}
}

// Load reads config from the default location, creating it on first run.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".synapse", "config.yaml"))
}

// LoadFromPath reads config from an explicit path, creating a default file
// if none exists. Environment variables override file values, e.g.
// SYNAPSE_SERVER_ADDR or SYNAPSE_STORAGE_REDIS_ADDR.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SYNAPSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Storage.SQLite.Path = expandPath(cfg.Storage.SQLite.Path)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the broker cannot run with.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("config: provider with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		switch p.Kind {
		case "openai", "mock":
		default:
			return fmt.Errorf("config: provider %q has unknown kind %q", p.ID, p.Kind)
		}
	}
	if c.Health.ErrorThreshold <= 0 || c.Health.ErrorThreshold > 1 {
		return fmt.Errorf("config: health.error_threshold must be in (0,1], got %v", c.Health.ErrorThreshold)
	}
	return nil
}

// applyDefaults fills zero values so partial config files stay usable.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = def.Server.RequestTimeout
	}
	if c.Health.Window == 0 {
		c.Health.Window = def.Health.Window
	}
	if c.Health.ErrorThreshold == 0 {
		c.Health.ErrorThreshold = def.Health.ErrorThreshold
	}
	if c.Health.SLABreachWindows == 0 {
		c.Health.SLABreachWindows = def.Health.SLABreachWindows
	}
	if c.Health.Cooldown == 0 {
		c.Health.Cooldown = def.Health.Cooldown
	}
	if c.Health.MaxCooldown == 0 {
		c.Health.MaxCooldown = def.Health.MaxCooldown
	}
	if c.Health.HalfOpenSuccesses == 0 {
		c.Health.HalfOpenSuccesses = def.Health.HalfOpenSuccesses
	}
	if c.Memory.WorkingCapacity == 0 {
		c.Memory.WorkingCapacity = def.Memory.WorkingCapacity
	}
	if c.Memory.SessionTTL == 0 {
		c.Memory.SessionTTL = def.Memory.SessionTTL
	}
	if c.Memory.SummarizeThreshold == 0 {
		c.Memory.SummarizeThreshold = def.Memory.SummarizeThreshold
	}
	if c.Memory.SummarizeKeep == 0 {
		c.Memory.SummarizeKeep = def.Memory.SummarizeKeep
	}
	if c.Memory.DefaultTokenBudget == 0 {
		c.Memory.DefaultTokenBudget = def.Memory.DefaultTokenBudget
	}
	if c.Storage.SessionBackend == "" {
		c.Storage.SessionBackend = def.Storage.SessionBackend
	}
	if c.Storage.DurableBackend == "" {
		c.Storage.DurableBackend = def.Storage.DurableBackend
	}
	if c.Storage.LocalCapacity == 0 {
		c.Storage.LocalCapacity = def.Storage.LocalCapacity
	}
	if c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = def.Storage.Redis.Addr
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = def.Storage.SQLite.Path
	}
}

// writeConfigFile writes cfg to path as YAML.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// expandPath expands a leading tilde to the user's home directory.
func expandPath(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return homeDir
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~/"))
}
