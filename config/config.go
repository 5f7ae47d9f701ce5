// Package config loads the YAML configuration of a flownet host.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config holds the top-level host configuration.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Storage     StorageConfig     `yaml:"storage"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Definitions DefinitionsConfig `yaml:"definitions"`
	Snowflake   SnowflakeConfig   `yaml:"snowflake"`
	Events      EventsConfig      `yaml:"events"`
}

// LogConfig selects the log level ("debug", "info", "warn", "error") and
// format ("text" or "json").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig selects where definitions and execution checkpoints live.
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// DefinitionsConfig points at a directory of YAML workflow definitions.
// When empty, definitions are kept in the configured storage.
type DefinitionsConfig struct {
	Directory string `yaml:"directory"`
}

// SnowflakeConfig configures the execution id generator.
type SnowflakeConfig struct {
	MachineID uint16    `yaml:"machine_id"`
	Epoch     time.Time `yaml:"epoch"`
}

// EventsConfig configures the lifecycle event bus.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{Driver: DriverMemory},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			IdleTimeout:  5 * time.Minute,
		},
		Snowflake: SnowflakeConfig{
			MachineID: 1,
			Epoch:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Events: EventsConfig{BufferSize: 100},
	}
}

// Default returns the default configuration.
func Default() *Config {
	return defaults()
}

// Load reads a YAML configuration file at path and returns a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads path, returning the defaults when path is empty or
// the file does not exist.
func LoadDefault(path string) (*Config, error) {
	if path == "" {
		return defaults(), nil
	}
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverMemory, DriverRedis:
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres storage requires postgres.dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if c.Events.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("events.buffer_size must not be negative, got %d", c.Events.BufferSize))
	}
	return errors.Join(errs...)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Logger builds a logger writing to w in the configured format and level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
