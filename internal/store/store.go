// Package store provides the memory storage interface and SQLite implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/hippocamp/internal/model"
)

// Common store errors.
var (
	ErrNotFound          = errors.New("memory not found")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrTxDone            = errors.New("transaction already finished")
)

// Criteria selects records inside a transaction. All set fields are ANDed.
type Criteria struct {
	Project            string
	Type               model.MemoryType
	CreatedBefore      *time.Time
	LastAccessedBefore *time.Time
	Metadata           map[string]any // key must exist and equal the value
	IncludeDeprecated  bool
	Limit              int
}

// ListParams holds parameters for listing memories.
type ListParams struct {
	Project           string
	Type              model.MemoryType
	IncludeDeprecated bool
	Limit             int
}

// Tx is a unit of work. Reads inside a Tx observe its own uncommitted writes.
// A Tx is used by one goroutine at a time.
type Tx interface {
	// Insert stages a new record, assigning m.ID when empty.
	Insert(ctx context.Context, m *model.Memory) error

	// GetByIDs fetches the non-deleted records among ids in one lookup.
	GetByIDs(ctx context.Context, ids []string) (map[string]*model.Memory, error)

	// Update overwrites the stored record with m.
	Update(ctx context.Context, m *model.Memory) error

	// Find returns non-deleted records matching c, oldest first.
	Find(ctx context.Context, c Criteria) ([]model.Memory, error)

	Commit() error
	Rollback() error
}

// Store defines the memory storage interface.
type Store interface {
	// Begin opens a transaction.
	Begin(ctx context.Context) (Tx, error)

	// Get retrieves a non-deleted memory by id.
	Get(ctx context.Context, id string) (*model.Memory, error)

	// List lists memories matching the given filters, newest first.
	List(ctx context.Context, p ListParams) ([]model.Memory, error)

	// Close closes the store.
	Close() error
}
