package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quill/internal/engine"
	"github.com/roach88/quill/internal/plancache"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, plancache.DefaultSize, cfg.CacheSize)
	assert.Equal(t, engine.DefaultMaxRows, cfg.MaxRows)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.True(t, cfg.Optimize)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte("cache_size: 64\nlog_format: json\noptimize: false\n"), 0o644))
	t.Setenv("QUILL_CACHE_SIZE", "128")
	t.Setenv("QUILL_MAX_ROWS", "10")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.CacheSize, "env overrides file")
	assert.Equal(t, 10, cfg.MaxRows)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.Optimize)
}

func TestLoad_ExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("parallel: 2\ndatabase: data.db\nmodel: models/shop.cue\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Parallel)
	assert.Equal(t, "data.db", cfg.Database)
	assert.Equal(t, "models/shop.cue", cfg.Model)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{CacheSize: 1, LogLevel: "info", LogFormat: "text", Parallel: 1}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		msg    string
	}{
		{"cache size", func(c *Config) { c.CacheSize = -1 }, "cache_size"},
		{"parallel", func(c *Config) { c.Parallel = 0 }, "parallel"},
		{"max rows", func(c *Config) { c.MaxRows = -5 }, "max_rows"},
		{"level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.ErrorContains(t, c.Validate(), tt.msg)
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogLevel: "info", LogFormat: "json"}
	l := cfg.Logger(&buf)
	l.Debug("hidden")
	l.Info("shown", "k", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
