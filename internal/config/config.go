// ABOUTME: Configuration loading and parsing for assistant-manager
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file leaves a field empty.
const (
	DefaultMinDelay       = 3 * time.Second
	DefaultHealthInterval = 300 * time.Second
	DefaultProbeTimeout   = 15 * time.Second
	DefaultProbeWorkers   = 4
	DefaultCommandPrefix  = "!"
	DefaultHTTPAddr       = "127.0.0.1:8090"
	DefaultMongoDatabase  = "assistant_manager"
)

// Config represents the complete assistant-manager configuration.
// It is read once at startup and never reloaded.
type Config struct {
	OwnerID    int64            `yaml:"owner_id" toml:"owner_id" validate:"required,gt=0"`
	Bulk       BulkConfig       `yaml:"bulk" toml:"bulk"`
	Health     HealthConfig     `yaml:"health" toml:"health"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Security   SecurityConfig   `yaml:"security" toml:"security"`
	Matrix     MatrixConfig     `yaml:"matrix" toml:"matrix"`
	Assistants AssistantsConfig `yaml:"assistants" toml:"assistants"`
	Audit      AuditConfig      `yaml:"audit" toml:"audit"`
	HTTP       HTTPConfig       `yaml:"http" toml:"http"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// BulkConfig holds bulk operation pacing
type BulkConfig struct {
	MinDelay    time.Duration `yaml:"-" toml:"-"`
	MinDelayRaw string        `yaml:"min_delay" toml:"min_delay"`
}

// HealthConfig holds health supervision timing
type HealthConfig struct {
	Interval     time.Duration `yaml:"-" toml:"-"`
	ProbeTimeout time.Duration `yaml:"-" toml:"-"`
	Concurrency  int           `yaml:"concurrency" toml:"concurrency" validate:"gte=0,lte=64"`

	// Raw string values for unmarshaling
	IntervalRaw     string `yaml:"interval" toml:"interval"`
	ProbeTimeoutRaw string `yaml:"probe_timeout" toml:"probe_timeout"`
}

// DatabaseConfig selects and configures the document store
type DatabaseConfig struct {
	Driver string      `yaml:"driver" toml:"driver" validate:"omitempty,oneof=sqlite mongo"`
	Path   string      `yaml:"path" toml:"path"`
	Mongo  MongoConfig `yaml:"mongo" toml:"mongo"`
}

// MongoConfig holds MongoDB connection settings
type MongoConfig struct {
	URI      string `yaml:"uri" toml:"uri"`
	Database string `yaml:"database" toml:"database"`
}

// SecurityConfig holds the key used to seal assistant credentials at rest
type SecurityConfig struct {
	CredentialsKey string `yaml:"credentials_key" toml:"credentials_key" validate:"omitempty,base64"`
}

// MatrixConfig holds the operator-facing bot account
type MatrixConfig struct {
	Enabled       bool             `yaml:"enabled" toml:"enabled"`
	Homeserver    string           `yaml:"homeserver" toml:"homeserver" validate:"omitempty,url"`
	UserID        string           `yaml:"user_id" toml:"user_id"`
	AccessToken   string           `yaml:"access_token" toml:"access_token"`
	CommandPrefix string           `yaml:"command_prefix" toml:"command_prefix"`
	LogRoom       string           `yaml:"log_room" toml:"log_room"`
	Operators     map[string]int64 `yaml:"operators" toml:"operators"`
}

// AssistantsConfig holds defaults for assistant accounts
type AssistantsConfig struct {
	Homeserver string `yaml:"homeserver" toml:"homeserver" validate:"omitempty,url"`
}

// AuditConfig holds optional audit fan-out sinks
type AuditConfig struct {
	Redis RedisConfig `yaml:"redis" toml:"redis"`
}

// RedisConfig configures the Redis pub/sub audit sink. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Channel  string `yaml:"channel" toml:"channel"`
}

// HTTPConfig holds the status API listener
type HTTPConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"omitempty,oneof=json text"`
	File   string `yaml:"file" toml:"file"`
}

var validate = validator.New()

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Bulk.MinDelay < 0 {
		return fmt.Errorf("bulk.min_delay must not be negative")
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be positive")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "mongo":
		if c.Database.Mongo.URI == "" {
			return fmt.Errorf("database.mongo.uri is required for the mongo driver")
		}
	}

	if c.Security.CredentialsKey != "" {
		key, _ := base64.StdEncoding.DecodeString(c.Security.CredentialsKey)
		if len(key) != 32 {
			return fmt.Errorf("security.credentials_key must decode to 32 bytes, got %d", len(key))
		}
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" || c.Matrix.UserID == "" || c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.homeserver, matrix.user_id and matrix.access_token are required when matrix is enabled")
		}
		for user, id := range c.Matrix.Operators {
			if id <= 0 {
				return fmt.Errorf("matrix.operators[%s] must be a positive operator id", user)
			}
		}
	}

	return nil
}

// applyDefaults fills in zero values that have a sensible default.
func applyDefaults(cfg *Config) {
	if cfg.Bulk.MinDelayRaw == "" {
		cfg.Bulk.MinDelay = DefaultMinDelay
	}
	if cfg.Health.IntervalRaw == "" {
		cfg.Health.Interval = DefaultHealthInterval
	}
	if cfg.Health.ProbeTimeoutRaw == "" {
		cfg.Health.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Health.Concurrency == 0 {
		cfg.Health.Concurrency = DefaultProbeWorkers
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Mongo.Database == "" {
		cfg.Database.Mongo.Database = DefaultMongoDatabase
	}
	if cfg.Matrix.CommandPrefix == "" {
		cfg.Matrix.CommandPrefix = DefaultCommandPrefix
	}
	if cfg.Assistants.Homeserver == "" {
		cfg.Assistants.Homeserver = cfg.Matrix.Homeserver
	}
	if cfg.Audit.Redis.Channel == "" {
		cfg.Audit.Redis.Channel = "assistant-manager:audit"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// parseDurations converts the raw duration strings into time.Duration values.
// A bare integer is read as seconds, matching how operators type delays.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Bulk.MinDelayRaw != "" {
		cfg.Bulk.MinDelay, err = parseDuration(cfg.Bulk.MinDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing min_delay %q: %w", cfg.Bulk.MinDelayRaw, err)
		}
	}

	if cfg.Health.IntervalRaw != "" {
		cfg.Health.Interval, err = parseDuration(cfg.Health.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing interval %q: %w", cfg.Health.IntervalRaw, err)
		}
	}

	if cfg.Health.ProbeTimeoutRaw != "" {
		cfg.Health.ProbeTimeout, err = parseDuration(cfg.Health.ProbeTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing probe_timeout %q: %w", cfg.Health.ProbeTimeoutRaw, err)
		}
	}

	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" && strings.Trim(raw, "0123456789") == "" {
		raw += "s"
	}
	return time.ParseDuration(raw)
}
