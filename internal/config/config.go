// Package config loads productflow settings from a YAML file and
// PRODUCTFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aretw0/productflow/internal/logging"
	"github.com/aretw0/productflow/pkg/orchestrator"
	"github.com/aretw0/productflow/pkg/persistence/middleware"
	"github.com/aretw0/productflow/pkg/retry"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. PRODUCTFLOW_REDIS_ADDR.
const EnvPrefix = "PRODUCTFLOW_"

// Record store backends.
const (
	BackendMemory    = "memory"
	BackendDataverse = "dataverse"
)

// Config is the complete productflow configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Redis   RedisConfig   `yaml:"redis" mapstructure:"redis"`
	Session SessionConfig `yaml:"session" mapstructure:"session"`
	Commit  CommitConfig  `yaml:"commit" mapstructure:"commit"`
	Records RecordsConfig `yaml:"records" mapstructure:"records"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
	// MetricsAddr serves /metrics on a separate listener. Empty mounts it on Addr.
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
}

// RedisConfig locates the session store. An empty Addr selects the
// in-memory store.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
	// CleanupDelay is how long a committed session stays readable.
	// Negative disables the deferred deletion.
	CleanupDelay time.Duration `yaml:"cleanup_delay" mapstructure:"cleanup_delay"`
	// ExpiryGrace keeps expired sessions in the store long enough to be
	// reported as expired rather than missing.
	ExpiryGrace time.Duration `yaml:"expiry_grace" mapstructure:"expiry_grace"`
	// EncryptionKey is a base64 AES-256 key sealing session values at rest.
	// Empty stores sessions as plain JSON.
	EncryptionKey string `yaml:"encryption_key" mapstructure:"encryption_key"`
	// FallbackKeys are retired keys still accepted for reading.
	FallbackKeys []string `yaml:"fallback_keys" mapstructure:"fallback_keys"`
}

// CommitConfig is the commit retry policy.
type CommitConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// RecordsConfig selects and configures the record store.
type RecordsConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Token   string `yaml:"token" mapstructure:"token"`
	// RateLimit is the sustained requests per second; 0 disables throttling.
	RateLimit  float64           `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst      int               `yaml:"burst" mapstructure:"burst"`
	Timeout    time.Duration     `yaml:"timeout" mapstructure:"timeout"`
	EntitySets map[string]string `yaml:"entity_sets" mapstructure:"entity_sets"`
	// Schema names the collections and binding fields written by a commit.
	Schema orchestrator.Schema `yaml:"schema" mapstructure:"schema"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	policy := retry.DefaultPolicy()
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "productflow:",
		},
		Session: SessionConfig{
			TTL:          30 * time.Minute,
			CleanupDelay: 5 * time.Second,
			ExpiryGrace:  time.Hour,
		},
		Commit: CommitConfig{
			MaxAttempts:  policy.MaxAttempts,
			InitialDelay: policy.InitialDelay,
			MaxDelay:     policy.MaxDelay,
			Multiplier:   policy.BackoffMultiplier,
		},
		Records: RecordsConfig{
			Backend:   BackendMemory,
			RateLimit: 50,
			Burst:     10,
			Timeout:   30 * time.Second,
			Schema:    orchestrator.DefaultSchema(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads defaults, then the YAML file at path (skipped when empty),
// then the process environment.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.Environ())
}

// LoadWithEnv is Load with an explicit environment ("KEY=value" entries).
func LoadWithEnv(path string, environ []string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, environ); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv decodes PRODUCTFLOW_<SECTION>_<KEY> variables over cfg.
func applyEnv(cfg *Config, environ []string) error {
	overrides := make(map[string]any)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		section, field, ok := strings.Cut(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "_")
		if !ok || field == "" {
			continue
		}
		m, _ := overrides[section].(map[string]any)
		if m == nil {
			m = make(map[string]any)
			overrides[section] = m
		}
		m[field] = value
	}
	if len(overrides) == 0 {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(overrides); err != nil {
		return fmt.Errorf("invalid %s environment override: %w", EnvPrefix+"*", err)
	}
	return nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Session.ExpiryGrace < 0 {
		errs = append(errs, errors.New("session.expiry_grace must not be negative"))
	}
	if c.Session.EncryptionKey == "" && len(c.Session.FallbackKeys) > 0 {
		errs = append(errs, errors.New("session.fallback_keys requires session.encryption_key"))
	}
	if _, err := c.Encryption(); err != nil {
		errs = append(errs, err)
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("commit: %w", err))
	}

	switch c.Records.Backend {
	case BackendMemory:
	case BackendDataverse:
		if c.Records.BaseURL == "" {
			errs = append(errs, errors.New("records.base_url is required for the dataverse backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("records.backend must be %q or %q, got %q", BackendMemory, BackendDataverse, c.Records.Backend))
	}
	if c.Records.Schema.Products == "" || c.Records.Schema.Targets == "" {
		errs = append(errs, errors.New("records.schema must name the products and targets collections"))
	}
	if c.Records.RateLimit < 0 {
		errs = append(errs, errors.New("records.rate_limit must not be negative"))
	}
	if c.Records.RateLimit > 0 && c.Records.Burst < 1 {
		errs = append(errs, errors.New("records.burst must be at least 1 when rate_limit is set"))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// Encryption decodes the session keys. It returns nil when encryption is off.
func (c *Config) Encryption() (*middleware.EncryptionConfig, error) {
	if c.Session.EncryptionKey == "" {
		return nil, nil
	}
	active, err := middleware.DecodeKey(c.Session.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("session.encryption_key: %w", err)
	}
	enc := &middleware.EncryptionConfig{ActiveKey: active}
	for i, s := range c.Session.FallbackKeys {
		k, err := middleware.DecodeKey(s)
		if err != nil {
			return nil, fmt.Errorf("session.fallback_keys[%d]: %w", i, err)
		}
		enc.FallbackKeys = append(enc.FallbackKeys, k)
	}
	return enc, nil
}

// RetryPolicy returns the commit retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:       c.Commit.MaxAttempts,
		InitialDelay:      c.Commit.InitialDelay,
		MaxDelay:          c.Commit.MaxDelay,
		BackoffMultiplier: c.Commit.Multiplier,
	}
}
