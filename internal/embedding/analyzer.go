package embedding

import (
	"fmt"
	"math"

	"github.com/rcliao/hippocamp/internal/model"
)

// DefaultModel is the model config used when no model, or an unknown one, is named.
const DefaultModel = "default"

const (
	maxMagnitude       = 100.0
	maxSparsity        = 0.95
	normTolerance      = 0.01
	similarityBoundary = 1.1
)

// ModelConfig holds the validation parameters for one embedding model.
type ModelConfig struct {
	Dimensions    int     `yaml:"dimensions" json:"dimensions"`
	MinValue      float32 `yaml:"min" json:"min"`
	MaxValue      float32 `yaml:"max" json:"max"`
	ZeroThreshold float32 `yaml:"zero_threshold" json:"zero_threshold"`
}

// BuiltinModels returns the model configs shipped with the analyzer.
func BuiltinModels() map[string]ModelConfig {
	return map[string]ModelConfig{
		"openai-ada-002":                         {1536, -1, 1, 1e-6},
		"openai-text-embedding-3-small":          {1536, -1, 1, 1e-6},
		"openai-text-embedding-3-large":          {3072, -1, 1, 1e-6},
		"cohere-embed-english-v3.0":              {1024, -1, 1, 1e-6},
		"sentence-transformers-all-minilm-l6-v2": {384, -1, 1, 1e-6},
		DefaultModel:                             {1536, -2, 2, 1e-8},
	}
}

// Analyzer checks embedding shape and quality against named model configs.
// It is immutable after construction and safe for concurrent use.
type Analyzer struct {
	models        map[string]ModelConfig
	defaultModel  string
	enforceNormal bool
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithModel registers (or overrides) a named model config.
func WithModel(name string, cfg ModelConfig) Option {
	return func(a *Analyzer) { a.models[name] = cfg }
}

// WithDefaultModel sets the model used when callers pass no model name.
func WithDefaultModel(name string) Option {
	return func(a *Analyzer) {
		if name != "" {
			a.defaultModel = name
		}
	}
}

// WithNormalization makes ValidateEmbedding require unit-length vectors.
func WithNormalization(enforce bool) Option {
	return func(a *Analyzer) { a.enforceNormal = enforce }
}

// NewAnalyzer creates an analyzer seeded with BuiltinModels.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{models: BuiltinModels(), defaultModel: DefaultModel}
	for _, opt := range opts {
		opt(a)
	}
	if _, ok := a.models[DefaultModel]; !ok {
		a.models[DefaultModel] = BuiltinModels()[DefaultModel]
	}
	return a
}

// Model resolves name to a config, falling back to the default entry.
func (a *Analyzer) Model(name string) ModelConfig {
	if name == "" {
		name = a.defaultModel
	}
	if cfg, ok := a.models[name]; ok {
		return cfg
	}
	return a.models[DefaultModel]
}

// ValidateEmbedding runs the dimension, range, finiteness, quality and
// (optionally) normalization checks in that order.
func (a *Analyzer) ValidateEmbedding(v Vector, modelName string) *model.ValidationResult {
	res := model.NewValidationResult()
	if v == nil {
		res.Add("Embedding", "Embedding cannot be null")
		return res
	}
	if len(v) == 0 {
		res.Add("Embedding", "Embedding cannot be empty")
		return res
	}

	cfg := a.Model(modelName)

	if cfg.Dimensions > 0 && len(v) != cfg.Dimensions {
		res.Add("Embedding", fmt.Sprintf("Invalid embedding dimension: expected %d, got %d", cfg.Dimensions, len(v)))
	}

	for i, x := range v {
		if x < cfg.MinValue || x > cfg.MaxValue {
			res.Add("Embedding", fmt.Sprintf("Value at index %d (%g) is outside valid range [%g, %g]",
				i, x, cfg.MinValue, cfg.MaxValue))
			break
		}
	}

	if i := FirstNonFinite(v); i >= 0 {
		if math.IsNaN(float64(v[i])) {
			res.Add("Embedding", fmt.Sprintf("Value at index %d is NaN", i))
		} else {
			res.Add("Embedding", fmt.Sprintf("Value at index %d is infinity", i))
		}
	}

	checkQuality(v, cfg, res)

	if a.enforceNormal {
		if mag := Magnitude(v); math.Abs(mag-1.0) > normTolerance {
			res.Add("Embedding", fmt.Sprintf("Embedding is not normalized: magnitude = %g", mag))
		}
	}

	return res
}

func checkQuality(v Vector, cfg ModelConfig, res *model.ValidationResult) {
	if IsZero(v, cfg.ZeroThreshold) {
		res.Add("Embedding", "Embedding is effectively a zero vector")
		return
	}

	mag := Magnitude(v)
	if mag < float64(cfg.ZeroThreshold) {
		res.Add("Embedding", fmt.Sprintf("Embedding magnitude too small: %g", mag))
	} else if mag > maxMagnitude {
		res.Add("Embedding", fmt.Sprintf("Embedding magnitude unusually large: %g", mag))
	}

	if ratio := Sparsity(v, cfg.ZeroThreshold); ratio > maxSparsity {
		res.Add("Embedding", fmt.Sprintf("Embedding is too sparse: %.1f%% zeros", ratio*100))
	}
}

// ValidateConsistency requires every vector to share the first vector's
// dimensionality and to pass ValidateEmbedding. All bad indices are reported.
func (a *Analyzer) ValidateConsistency(vs []Vector, modelName string) *model.ValidationResult {
	res := model.NewValidationResult()
	if len(vs) == 0 {
		return res
	}
	if vs[0] == nil {
		res.Add("Embeddings", "First embedding in collection is null")
		return res
	}

	want := len(vs[0])
	for i, v := range vs {
		if v == nil {
			res.Add("Embeddings", fmt.Sprintf("Embedding at index %d is null", i))
			continue
		}
		if len(v) != want {
			res.Add("Embeddings", fmt.Sprintf("Embedding at index %d has %d dimensions, expected %d", i, len(v), want))
		}
		for _, msg := range a.ValidateEmbedding(v, modelName).All() {
			res.Add("Embeddings", fmt.Sprintf("Embedding at index %d: %s", i, msg))
		}
	}
	return res
}

// SimilarityResult carries a cosine similarity and the checks that produced it.
type SimilarityResult struct {
	CosineSimilarity float64
	*model.ValidationResult
}

// ValidateSimilarity validates both vectors under the default model and, if
// they are usable, computes their cosine similarity.
func (a *Analyzer) ValidateSimilarity(x, y Vector) SimilarityResult {
	out := SimilarityResult{ValidationResult: model.NewValidationResult()}

	if r := a.ValidateEmbedding(x, ""); !r.Valid() {
		out.Add("Embedding1", "First embedding is invalid")
		for _, msg := range r.All() {
			out.Add("Embedding1", msg)
		}
	}
	if r := a.ValidateEmbedding(y, ""); !r.Valid() {
		out.Add("Embedding2", "Second embedding is invalid")
		for _, msg := range r.All() {
			out.Add("Embedding2", msg)
		}
	}
	if !out.Valid() {
		return out
	}

	if len(x) != len(y) {
		out.Add("Similarity", fmt.Sprintf("Embeddings have different dimensions: %d vs %d", len(x), len(y)))
		return out
	}

	out.CosineSimilarity = CosineSimilarity(x, y)
	if out.CosineSimilarity < -similarityBoundary || out.CosineSimilarity > similarityBoundary {
		out.Add("Similarity", fmt.Sprintf("Cosine similarity out of valid range: %g", out.CosineSimilarity))
	}
	return out
}
