// Package model defines the core memory data types.
package model

import (
	"maps"
	"time"
)

// MemoryType categorizes a memory. The set of values is closed.
type MemoryType string

const (
	TypeArchitecturalDecision   MemoryType = "architectural_decision"
	TypeCodePattern             MemoryType = "code_pattern"
	TypeBugPattern              MemoryType = "bug_pattern"
	TypePerformanceOptimization MemoryType = "performance_optimization"
	TypeUserPreference          MemoryType = "user_preference"
)

// ValidTypes are the allowed memory types.
var ValidTypes = map[MemoryType]bool{
	TypeArchitecturalDecision:   true,
	TypeCodePattern:             true,
	TypeBugPattern:              true,
	TypePerformanceOptimization: true,
	TypeUserPreference:          true,
}

// Valid reports whether t is one of ValidTypes.
func (t MemoryType) Valid() bool { return ValidTypes[t] }

// Memory represents a stored memory record.
type Memory struct {
	ID             string         `json:"id"`
	Project        string         `json:"project"`
	Content        string         `json:"content"`
	Embedding      []float32      `json:"embedding,omitempty"`
	Type           MemoryType     `json:"type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	Deprecated     bool           `json:"deprecated"`
	Deleted        bool           `json:"deleted,omitempty"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
}

// CreateParams is the payload for creating a single memory.
type CreateParams struct {
	Project   string         `json:"project"`
	Content   string         `json:"content"`
	Embedding []float32      `json:"embedding,omitempty"`
	Type      MemoryType     `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// UpdateParams is a partial update. Nil fields are left untouched.
// Metadata, when present, replaces the stored metadata entirely.
type UpdateParams struct {
	Content    *string        `json:"content,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Type       *MemoryType    `json:"type,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Deprecated *bool          `json:"deprecated,omitempty"`
}

// HasUpdates reports whether at least one field is set.
func (p UpdateParams) HasUpdates() bool {
	return p.Content != nil || p.Embedding != nil || p.Type != nil ||
		p.Metadata != nil || p.Deprecated != nil
}

// Apply copies the fields present in p onto m.
func (p UpdateParams) Apply(m *Memory) {
	if p.Content != nil && *p.Content != "" {
		m.Content = *p.Content
	}
	if p.Embedding != nil {
		m.Embedding = append([]float32(nil), p.Embedding...)
	}
	if p.Type != nil {
		m.Type = *p.Type
	}
	if p.Metadata != nil {
		m.Metadata = maps.Clone(p.Metadata)
	}
	if p.Deprecated != nil {
		m.Deprecated = *p.Deprecated
	}
}
