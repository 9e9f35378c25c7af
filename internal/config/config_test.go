package config_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/hippocamp/internal/batch"
	"github.com/rcliao/hippocamp/internal/config"
	"github.com/rcliao/hippocamp/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hippocamp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(config.EnvDB, "")
	t.Setenv(config.EnvLogLevel, "")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, batch.DefaultMaxItems, cfg.Batch.MaxItems)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	t.Setenv(config.EnvDB, "")
	t.Setenv(config.EnvLogLevel, "")
	path := writeConfig(t, `
db: /tmp/custom.db
log:
  level: debug
batch:
  max_items: 10
validation:
  max_content_chars: 500
embedding:
  default_model: tiny
  strict: true
  models:
    tiny:
      dimensions: 3
      min: -1
      max: 1
      zero_threshold: 0.000001
store:
  vector_dims: 3
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom.db", cfg.DB)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, config.FormatConsole, cfg.Log.Format, "unset keys keep defaults")
	assert.Equal(t, 10, cfg.Batch.MaxItems)
	assert.Equal(t, batch.DefaultMaxDeprecate, cfg.Batch.MaxDeprecate)
	assert.Equal(t, 500, cfg.Validation.MaxContentChars)
	assert.Equal(t, 200, cfg.Validation.MaxProjectChars)
	assert.Equal(t, 3, cfg.Store.VectorDims)

	a := cfg.Analyzer()
	assert.Equal(t, 3, a.Model("").Dimensions)

	v := cfg.Validator(a)
	res := v.ValidateRecord(model.CreateParams{
		Project: "p", Content: "c", Type: model.TypeCodePattern,
		Embedding: []float32{0.5, 0.5},
	})
	assert.False(t, res.Valid(), "strict mode checks dimensions against the default model")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(config.EnvDB, "/tmp/env.db")
	t.Setenv(config.EnvLogLevel, "warn")
	path := writeConfig(t, "db: /tmp/file.db\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.DB)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := config.Load(writeConfig(t, "batch: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero max items", func(c *config.Config) { c.Batch.MaxItems = 0 }},
		{"zero max deprecate", func(c *config.Config) { c.Batch.MaxDeprecate = 0 }},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }},
		{"negative limit", func(c *config.Config) { c.Validation.MaxContentBytes = -1 }},
		{"unknown default model", func(c *config.Config) { c.Embedding.DefaultModel = "nope" }},
		{"negative vector dims", func(c *config.Config) { c.Store.VectorDims = -3 }},
		{"empty db", func(c *config.Config) { c.DB = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)
		})
	}

	assert.NoError(t, config.Default().Validate())
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := config.NewLogger(config.LogConfig{Level: "warn", Format: config.FormatJSON}, &buf)
	require.NoError(t, err)
	defer closeFn()

	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "batch").Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "batch", entry["component"])
	assert.Equal(t, "shown", entry["message"])
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	logger, _, err := config.NewLogger(config.LogConfig{Level: "loud"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "hippocamp.log")
	logger, closeFn, err := config.NewLogger(config.LogConfig{File: path}, &bytes.Buffer{})
	require.NoError(t, err)

	logger.Info().Msg("to file")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}
