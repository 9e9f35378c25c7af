// Package config loads hippocamp configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/hippocamp/internal/batch"
	"github.com/rcliao/hippocamp/internal/embedding"
	"github.com/rcliao/hippocamp/internal/validate"
)

// Environment overrides.
const (
	EnvDB       = "HIPPOCAMP_DB"
	EnvLogLevel = "HIPPOCAMP_LOG_LEVEL"
)

// Log output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full application configuration.
type Config struct {
	DB         string          `yaml:"db"`
	Log        LogConfig       `yaml:"log"`
	Batch      batch.Policy    `yaml:"batch"`
	Validation validate.Limits `yaml:"validation"`
	Embedding  EmbeddingConfig `yaml:"embedding"`
	Store      StoreConfig     `yaml:"store"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// EmbeddingConfig controls embedding analysis.
type EmbeddingConfig struct {
	DefaultModel         string                           `yaml:"default_model"`
	EnforceNormalization bool                             `yaml:"enforce_normalization"`
	Strict               bool                             `yaml:"strict"`
	Models               map[string]embedding.ModelConfig `yaml:"models"`
}

// StoreConfig controls the SQLite store.
type StoreConfig struct {
	VectorDims int `yaml:"vector_dims"`
}

// DefaultDBPath is ~/.hippocamp/memory.db.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".hippocamp", "memory.db")
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		DB:         DefaultDBPath(),
		Log:        LogConfig{Level: "info", Format: FormatConsole},
		Batch:      batch.DefaultPolicy(),
		Validation: validate.DefaultLimits(),
		Embedding:  EmbeddingConfig{DefaultModel: embedding.DefaultModel},
	}
}

// Load reads the YAML file at path over the defaults, then applies the
// environment. An empty path or missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config YAML from %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDB); v != "" {
		c.DB = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate reports every nonsensical setting.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.DB == "" {
		bad("db path is required")
	}
	switch c.Log.Format {
	case "", FormatConsole, FormatJSON:
	default:
		bad("log.format must be %q or %q, got %q", FormatConsole, FormatJSON, c.Log.Format)
	}

	if c.Batch.MaxItems <= 0 {
		bad("batch.max_items must be positive")
	}
	if c.Batch.MaxDeprecate <= 0 {
		bad("batch.max_deprecate must be positive")
	}
	if c.Batch.DeprecateProgressEvery <= 0 {
		bad("batch.deprecate_progress_every must be positive")
	}
	if c.Batch.ExpectedDimensions < 0 || c.Batch.ContentWarnChars < 0 {
		bad("batch warning thresholds cannot be negative")
	}

	v := c.Validation
	for name, n := range map[string]int{
		"max_project_chars":        v.MaxProjectChars,
		"max_content_bytes":        v.MaxContentBytes,
		"max_content_chars":        v.MaxContentChars,
		"max_metadata_bytes":       v.MaxMetadataBytes,
		"max_metadata_entries":     v.MaxMetadataEntries,
		"max_metadata_key_chars":   v.MaxMetadataKeyChars,
		"max_metadata_value_chars": v.MaxMetadataValue,
		"max_embedding_dims":       v.MaxEmbeddingDims,
	} {
		if n < 0 {
			bad("validation.%s cannot be negative", name)
		}
	}

	for name, m := range c.Embedding.Models {
		if m.Dimensions < 0 {
			bad("embedding.models.%s.dimensions cannot be negative", name)
		}
		if m.MinValue >= m.MaxValue {
			bad("embedding.models.%s: min must be below max", name)
		}
		if m.ZeroThreshold < 0 {
			bad("embedding.models.%s.zero_threshold cannot be negative", name)
		}
	}
	if dm := c.Embedding.DefaultModel; dm != "" {
		if _, ok := c.Embedding.Models[dm]; !ok {
			if _, ok := embedding.BuiltinModels()[dm]; !ok {
				bad("embedding.default_model %q is not a known model", dm)
			}
		}
	}

	if c.Store.VectorDims < 0 {
		bad("store.vector_dims cannot be negative")
	}
	return errors.Join(errs...)
}

// Analyzer builds the embedding analyzer described by the config.
func (c *Config) Analyzer() *embedding.Analyzer {
	opts := []embedding.Option{
		embedding.WithDefaultModel(c.Embedding.DefaultModel),
		embedding.WithNormalization(c.Embedding.EnforceNormalization),
	}
	for name, m := range c.Embedding.Models {
		opts = append(opts, embedding.WithModel(name, m))
	}
	return embedding.NewAnalyzer(opts...)
}

// Validator builds the record validator, running full embedding analysis
// when embedding.strict is set.
func (c *Config) Validator(a *embedding.Analyzer) *validate.Validator {
	var opts []validate.Option
	if c.Embedding.Strict && a != nil {
		opts = append(opts, validate.WithAnalyzer(a, c.Embedding.DefaultModel))
	}
	return validate.New(c.Validation, opts...)
}
