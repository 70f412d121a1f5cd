// Package config loads CLI settings from an optional quill.yaml file and
// QUILL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/quill/internal/engine"
	"github.com/roach88/quill/internal/harness"
	"github.com/roach88/quill/internal/plancache"
)

// EnvPrefix prefixes environment variables: QUILL_CACHE_SIZE, QUILL_LOG_LEVEL.
const EnvPrefix = "QUILL"

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "quill.yaml"

// Config holds the CLI settings.
type Config struct {
	// CacheSize bounds the plan cache.
	CacheSize int `mapstructure:"cache_size"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is text or json.
	LogFormat string `mapstructure:"log_format"`

	// Parallel is the number of scenarios run at once.
	Parallel int `mapstructure:"parallel"`

	// MaxRows is the row budget of one query execution. Zero disables it.
	MaxRows int `mapstructure:"max_rows"`

	// Optimize enables redundant column removal.
	Optimize bool `mapstructure:"optimize"`

	// Database is the SQLite file queries run against.
	Database string `mapstructure:"database"`

	// Model is the CUE model file or directory.
	Model string `mapstructure:"model"`
}

// Load reads configuration. path names a config file; when empty,
// DefaultFile is used if it exists. Environment variables override file
// values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("cache_size", plancache.DefaultSize)
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_format", "text")
	v.SetDefault("parallel", harness.DefaultParallel)
	v.SetDefault("max_rows", engine.DefaultMaxRows)
	v.SetDefault("optimize", true)
	v.SetDefault("database", "")
	v.SetDefault("model", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// The default file is optional.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must be non-negative, got %d", c.CacheSize)
	}
	if c.Parallel < 1 {
		return fmt.Errorf("parallel must be at least 1, got %d", c.Parallel)
	}
	if c.MaxRows < 0 {
		return fmt.Errorf("max_rows must be non-negative, got %d", c.MaxRows)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Logger builds the slog logger described by the config.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
	}
	return l, nil
}
