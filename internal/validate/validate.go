// Package validate checks memory payloads before they reach storage.
package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/hippocamp/internal/embedding"
	"github.com/rcliao/hippocamp/internal/model"
)

// Field names used in validation results.
const (
	FieldMemory    = "Memory"
	FieldProject   = "Project"
	FieldContent   = "Content"
	FieldType      = "Type"
	FieldMetadata  = "Metadata"
	FieldEmbedding = "Embedding"
)

var (
	projectRe     = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	metadataKeyRe = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)
)

// DefaultDenylist holds the script-injection patterns rejected in content.
var DefaultDenylist = []string{
	"<script",
	"javascript:",
	"data:text/html",
	"eval(",
	"settimeout(",
	"setinterval(",
}

// Limits bounds record fields.
type Limits struct {
	MaxProjectChars     int      `yaml:"max_project_chars"`
	MaxContentBytes     int      `yaml:"max_content_bytes"`
	MaxContentChars     int      `yaml:"max_content_chars"`
	MaxMetadataBytes    int      `yaml:"max_metadata_bytes"`
	MaxMetadataEntries  int      `yaml:"max_metadata_entries"`
	MaxMetadataKeyChars int      `yaml:"max_metadata_key_chars"`
	MaxMetadataValue    int      `yaml:"max_metadata_value_chars"`
	MaxEmbeddingDims    int      `yaml:"max_embedding_dims"`
	Denylist            []string `yaml:"denylist"`
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{
		MaxProjectChars:     200,
		MaxContentBytes:     10 * 1024,
		MaxContentChars:     10000,
		MaxMetadataBytes:    5 * 1024,
		MaxMetadataEntries:  50,
		MaxMetadataKeyChars: 100,
		MaxMetadataValue:    1000,
		MaxEmbeddingDims:    4096,
		Denylist:            DefaultDenylist,
	}
}

// Validator checks records and embeddings. It holds no mutable state.
type Validator struct {
	limits   Limits
	analyzer *embedding.Analyzer
	strict   bool
	model    string
}

// Option configures a Validator.
type Option func(*Validator)

// WithAnalyzer runs the full quality analysis on embeddings, against model,
// in addition to the basic checks.
func WithAnalyzer(a *embedding.Analyzer, model string) Option {
	return func(v *Validator) {
		v.analyzer = a
		v.strict = a != nil
		v.model = model
	}
}

// New creates a Validator. Zero-valued limits fall back to DefaultLimits.
func New(limits Limits, opts ...Option) *Validator {
	def := DefaultLimits()
	if limits.MaxProjectChars <= 0 {
		limits.MaxProjectChars = def.MaxProjectChars
	}
	if limits.MaxContentBytes <= 0 {
		limits.MaxContentBytes = def.MaxContentBytes
	}
	if limits.MaxContentChars <= 0 {
		limits.MaxContentChars = def.MaxContentChars
	}
	if limits.MaxMetadataBytes <= 0 {
		limits.MaxMetadataBytes = def.MaxMetadataBytes
	}
	if limits.MaxMetadataEntries <= 0 {
		limits.MaxMetadataEntries = def.MaxMetadataEntries
	}
	if limits.MaxMetadataKeyChars <= 0 {
		limits.MaxMetadataKeyChars = def.MaxMetadataKeyChars
	}
	if limits.MaxMetadataValue <= 0 {
		limits.MaxMetadataValue = def.MaxMetadataValue
	}
	if limits.MaxEmbeddingDims <= 0 {
		limits.MaxEmbeddingDims = def.MaxEmbeddingDims
	}
	if limits.Denylist == nil {
		limits.Denylist = def.Denylist
	}
	deny := make([]string, 0, len(limits.Denylist))
	for _, d := range limits.Denylist {
		if d = strings.ToLower(d); d != "" {
			deny = append(deny, d)
		}
	}
	limits.Denylist = deny

	v := &Validator{limits: limits}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Limits returns the effective limits.
func (v *Validator) Limits() Limits { return v.limits }

// MetadataKey reports whether k is a well-formed metadata key.
func (v *Validator) MetadataKey(k string) bool {
	return strings.TrimSpace(k) != "" &&
		utf8.RuneCountInString(k) <= v.limits.MaxMetadataKeyChars &&
		metadataKeyRe.MatchString(k)
}

// ValidateRecord checks every field of a create payload. Errors on different
// fields accumulate.
func (v *Validator) ValidateRecord(p model.CreateParams) *model.ValidationResult {
	res := model.NewValidationResult()
	v.checkProject(p.Project, res)
	v.checkContent(p.Content, res)
	v.checkType(p.Type, res)
	v.checkMetadata(p.Metadata, res)
	if p.Embedding != nil {
		v.checkEmbedding(p.Embedding, res)
	}
	return res
}

// ValidateUpdate checks only the fields present in a partial update.
func (v *Validator) ValidateUpdate(p model.UpdateParams) *model.ValidationResult {
	res := model.NewValidationResult()
	if !p.HasUpdates() {
		res.Add(FieldMemory, "no fields to update")
		return res
	}
	if p.Content != nil && *p.Content != "" {
		v.checkContent(*p.Content, res)
	}
	if p.Type != nil {
		v.checkType(*p.Type, res)
	}
	if p.Metadata != nil {
		v.checkMetadata(p.Metadata, res)
	}
	if p.Embedding != nil {
		v.checkEmbedding(p.Embedding, res)
	}
	return res
}

// ValidateEmbeddingBasic checks that vec is present, bounded in length and finite.
func (v *Validator) ValidateEmbeddingBasic(vec []float32) *model.ValidationResult {
	res := model.NewValidationResult()
	v.basicEmbedding(vec, res)
	return res
}

func (v *Validator) checkProject(project string, res *model.ValidationResult) {
	if strings.TrimSpace(project) == "" {
		res.Add(FieldProject, "Project is required")
		return
	}
	if n := utf8.RuneCountInString(project); n > v.limits.MaxProjectChars {
		res.Add(FieldProject, fmt.Sprintf("Project cannot exceed %d characters", v.limits.MaxProjectChars))
	}
	if !projectRe.MatchString(project) {
		res.Add(FieldProject, "Project contains invalid characters. Only letters, numbers, hyphens, underscores, and dots are allowed")
	}
}

func (v *Validator) checkContent(content string, res *model.ValidationResult) {
	if strings.TrimSpace(content) == "" {
		res.Add(FieldContent, "Content is required")
		return
	}
	if !utf8.ValidString(content) {
		res.Add(FieldContent, "Content must be valid UTF-8")
	}
	if n := len(content); n > v.limits.MaxContentBytes {
		res.Add(FieldContent, fmt.Sprintf("Content cannot exceed %dKB (%d bytes provided)", v.limits.MaxContentBytes/1024, n))
	} else if n := utf8.RuneCountInString(content); n > v.limits.MaxContentChars {
		res.Add(FieldContent, fmt.Sprintf("Content cannot exceed %d characters (%d provided)", v.limits.MaxContentChars, n))
	}
	lower := strings.ToLower(content)
	for _, pattern := range v.limits.Denylist {
		if strings.Contains(lower, pattern) {
			res.Add(FieldContent, "Content contains potentially harmful patterns")
			break
		}
	}
}

func (v *Validator) checkType(t model.MemoryType, res *model.ValidationResult) {
	if t == "" {
		res.Add(FieldType, "Type is required")
		return
	}
	if !t.Valid() {
		res.Add(FieldType, fmt.Sprintf("Invalid memory type: %s", t))
	}
}

func (v *Validator) checkMetadata(meta map[string]any, res *model.ValidationResult) {
	if meta == nil {
		return
	}
	if len(meta) > v.limits.MaxMetadataEntries {
		res.Add(FieldMetadata, fmt.Sprintf("Metadata cannot have more than %d entries (%d provided)", v.limits.MaxMetadataEntries, len(meta)))
	}

	serializable := true
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		switch {
		case strings.TrimSpace(k) == "":
			res.Add(FieldMetadata, "Metadata keys cannot be empty")
		case utf8.RuneCountInString(k) > v.limits.MaxMetadataKeyChars:
			res.Add(FieldMetadata, fmt.Sprintf("Metadata key '%s' exceeds %d character limit", k, v.limits.MaxMetadataKeyChars))
		case !metadataKeyRe.MatchString(k):
			res.Add(FieldMetadata, fmt.Sprintf("Metadata key '%s' contains invalid characters", k))
		}

		val := meta[k]
		if s, ok := val.(string); ok && utf8.RuneCountInString(s) > v.limits.MaxMetadataValue {
			res.Add(FieldMetadata, fmt.Sprintf("Metadata value for key '%s' exceeds %d character limit", k, v.limits.MaxMetadataValue))
		}
		if _, err := json.Marshal(val); err != nil {
			serializable = false
			res.Add(FieldMetadata, fmt.Sprintf("Metadata value for key '%s' is not JSON serializable", k))
		}
	}

	if !serializable {
		return
	}
	b, err := json.Marshal(meta)
	if err != nil {
		res.Add(FieldMetadata, fmt.Sprintf("Metadata is not valid JSON: %v", err))
		return
	}
	if len(b) > v.limits.MaxMetadataBytes {
		res.Add(FieldMetadata, fmt.Sprintf("Metadata cannot exceed %dKB (%d bytes provided)", v.limits.MaxMetadataBytes/1024, len(b)))
	}
}

func (v *Validator) checkEmbedding(vec []float32, res *model.ValidationResult) {
	if !v.basicEmbedding(vec, res) || !v.strict {
		return
	}
	res.Merge(v.analyzer.ValidateEmbedding(vec, v.model))
}

// basicEmbedding reports whether vec passed.
func (v *Validator) basicEmbedding(vec []float32, res *model.ValidationResult) bool {
	if len(vec) == 0 {
		res.Add(FieldEmbedding, "Embedding cannot be null or empty when provided")
		return false
	}
	ok := true
	if i := embedding.FirstNonFinite(vec); i >= 0 {
		res.Add(FieldEmbedding, fmt.Sprintf("Embedding contains invalid values (NaN or Infinity) at index %d", i))
		ok = false
	}
	if len(vec) > v.limits.MaxEmbeddingDims {
		res.Add(FieldEmbedding, fmt.Sprintf("Embedding dimension must be between 1 and %d (provided: %d)", v.limits.MaxEmbeddingDims, len(vec)))
		ok = false
	}
	return ok
}
