// Package config loads dwnsync configuration from a YAML file with
// DWNSYNC_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DWNSYNC_"

// Config is the complete agent configuration.
type Config struct {
	Database   string           `yaml:"database" validate:"required"`
	Listen     string           `yaml:"listen" validate:"required"`
	LogLevel   string           `yaml:"log_level" validate:"oneof=debug info warn error"`
	Sync       SyncConfig       `yaml:"sync"`
	Node       NodeConfig       `yaml:"node"`
	Transport  TransportConfig  `yaml:"transport"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Identities []IdentityConfig `yaml:"identities" validate:"dive"`
}

// SyncConfig controls the sync engine and scheduler.
type SyncConfig struct {
	Interval     time.Duration `yaml:"interval" validate:"gt=0"`
	MinInterval  time.Duration `yaml:"min_interval" validate:"gt=0"`
	BatchSize    int           `yaml:"batch_size" validate:"min=1,max=1000"`
	Concurrency  int           `yaml:"concurrency" validate:"min=1,max=256"`
	StateBackend string        `yaml:"state_backend" validate:"oneof=sqlite redis postgres"`
	RedisURL     string        `yaml:"redis_url" validate:"required_if=StateBackend redis"`
	PostgresURL  string        `yaml:"postgres_url" validate:"required_if=StateBackend postgres"`
}

// NodeConfig controls the local DWN node.
type NodeConfig struct {
	MaxInlineDataSize int64 `yaml:"max_inline_data_size" validate:"gt=0"`
}

// TransportConfig controls remote request timeouts.
type TransportConfig struct {
	HTTPTimeout        time.Duration `yaml:"http_timeout" validate:"gt=0"`
	WSHandshakeTimeout time.Duration `yaml:"ws_handshake_timeout" validate:"gt=0"`
}

// ResolverConfig controls DID resolution. A zero CacheTTL disables caching.
type ResolverConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

// IdentityConfig pins the DWN endpoints of a DID, bypassing resolution.
type IdentityConfig struct {
	DID       string   `yaml:"did" validate:"required,startswith=did:"`
	Endpoints []string `yaml:"endpoints" validate:"required,min=1,dive,url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: "dwnsync.db",
		Listen:   ":3000",
		LogLevel: "info",
		Sync: SyncConfig{
			Interval:     2 * time.Minute,
			MinInterval:  5 * time.Second,
			BatchSize:    100,
			Concurrency:  8,
			StateBackend: "sqlite",
		},
		Node: NodeConfig{
			MaxInlineDataSize: 30000,
		},
		Transport: TransportConfig{
			HTTPTimeout:        30 * time.Second,
			WSHandshakeTimeout: 10 * time.Second,
		},
		Resolver: ResolverConfig{
			CacheTTL: 15 * time.Minute,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Database = getEnv("DATABASE", c.Database)
	c.Listen = getEnv("LISTEN", c.Listen)
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))
	c.Sync.StateBackend = getEnv("STATE_BACKEND", c.Sync.StateBackend)
	c.Sync.RedisURL = getEnv("REDIS_URL", c.Sync.RedisURL)
	c.Sync.PostgresURL = getEnv("POSTGRES_URL", c.Sync.PostgresURL)

	var err error
	if c.Sync.Interval, err = getDuration("SYNC_INTERVAL", c.Sync.Interval); err != nil {
		return err
	}
	if c.Sync.BatchSize, err = getInt("SYNC_BATCH_SIZE", c.Sync.BatchSize); err != nil {
		return err
	}
	if c.Sync.Concurrency, err = getInt("SYNC_CONCURRENCY", c.Sync.Concurrency); err != nil {
		return err
	}
	if c.Transport.HTTPTimeout, err = getDuration("HTTP_TIMEOUT", c.Transport.HTTPTimeout); err != nil {
		return err
	}
	return nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	return n, nil
}

var (
	validatorInstance *validator.Validate
	validatorOnce     sync.Once
)

func getValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInstance = validator.New()

		// report fields by their yaml key
		validatorInstance.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validatorInstance
}

// Validate checks field constraints. Every violation is reported.
func (c *Config) Validate() error {
	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		// "Config.sync.batch_size" -> "sync.batch_size"
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		msg := fmt.Sprintf("config: %s fails %q", field, fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("config: %s fails %q (%s)", field, fe.Tag(), fe.Param())
		}
		msgs = append(msgs, errors.New(msg))
	}
	return errors.Join(msgs...)
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StaticEndpoints returns the configured endpoints keyed by DID.
func (c *Config) StaticEndpoints() map[string][]string {
	out := make(map[string][]string, len(c.Identities))
	for _, id := range c.Identities {
		out[id.DID] = append(out[id.DID], id.Endpoints...)
	}
	return out
}
