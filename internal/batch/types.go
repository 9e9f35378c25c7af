package batch

import (
	"errors"
	"time"

	"github.com/rcliao/hippocamp/internal/model"
	"github.com/rcliao/hippocamp/internal/progress"
)

// Default batch policy.
const (
	// DefaultMaxItems bounds create and update batches.
	DefaultMaxItems = 100

	// DefaultMaxDeprecate is the bulk deprecation selection size when no max count is given.
	DefaultMaxDeprecate = 1000

	// DefaultDeprecateProgressEvery is the bulk deprecation progress interval.
	DefaultDeprecateProgressEvery = 10

	// DefaultExpectedDimensions is the embedding width ValidateBatch expects.
	DefaultExpectedDimensions = 1536

	// DefaultContentWarnChars is the content length ValidateBatch warns at.
	DefaultContentWarnChars = 8000
)

// Common batch errors.
var (
	ErrEmptyBatch      = errors.New("batch must contain at least one item")
	ErrBatchTooLarge   = errors.New("batch exceeds maximum size")
	ErrCanceled        = errors.New("batch canceled")
	ErrNotFound        = errors.New("batch not found")
	ErrInvalidBatchID  = errors.New("batch id cannot be empty")
	ErrInvalidCriteria = errors.New("invalid deprecation criteria")
)

// State is a batch lifecycle state.
type State string

const (
	StateValidating State = "validating"
	StateExecuting  State = "executing"
	StateCommitting State = "committing"
	StateCompleted  State = "completed"
	StateRolledBack State = "rolled_back"
	StateRejected   State = "rejected"
)

// Policy bounds batch operations. Zero fields take the defaults.
type Policy struct {
	MaxItems               int `yaml:"max_items"`
	MaxDeprecate           int `yaml:"max_deprecate"`
	DeprecateProgressEvery int `yaml:"deprecate_progress_every"`
	ExpectedDimensions     int `yaml:"expected_dimensions"`
	ContentWarnChars       int `yaml:"content_warn_chars"`
}

// DefaultPolicy returns the stock policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxItems:               DefaultMaxItems,
		MaxDeprecate:           DefaultMaxDeprecate,
		DeprecateProgressEvery: DefaultDeprecateProgressEvery,
		ExpectedDimensions:     DefaultExpectedDimensions,
		ContentWarnChars:       DefaultContentWarnChars,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxItems <= 0 {
		p.MaxItems = def.MaxItems
	}
	if p.MaxDeprecate <= 0 {
		p.MaxDeprecate = def.MaxDeprecate
	}
	if p.DeprecateProgressEvery <= 0 {
		p.DeprecateProgressEvery = def.DeprecateProgressEvery
	}
	if p.ExpectedDimensions <= 0 {
		p.ExpectedDimensions = def.ExpectedDimensions
	}
	if p.ContentWarnChars <= 0 {
		p.ContentWarnChars = def.ContentWarnChars
	}
	return p
}

// ProgressFunc receives progress snapshots as items are processed.
type ProgressFunc func(progress.Info)

// CreateRequest is an ordered batch of records to create.
type CreateRequest struct {
	Items []model.CreateParams `json:"memories"`

	// BatchID is generated when empty.
	BatchID string `json:"batch_id,omitempty"`

	// ContinueOnError isolates per-item failures instead of rolling back
	// the whole batch on the first one.
	ContinueOnError bool `json:"continue_on_error"`

	// ReportProgress registers the batch with the tracker so GetBatchStatus
	// can observe it while it runs.
	ReportProgress bool `json:"report_progress"`

	OnProgress ProgressFunc `json:"-"`
}

// UpdateItem is one partial update.
type UpdateItem struct {
	ID    string             `json:"id"`
	Patch model.UpdateParams `json:"patch"`
}

// UpdateRequest is an ordered batch of partial updates.
type UpdateRequest struct {
	Updates []UpdateItem `json:"updates"`
	BatchID string       `json:"batch_id,omitempty"`

	// AbortOnError rolls back the whole batch on the first per-item failure.
	// By default update batches always continue.
	AbortOnError bool `json:"abort_on_error"`

	ReportProgress bool         `json:"report_progress"`
	OnProgress     ProgressFunc `json:"-"`
}

// DeprecateCriteria selects records to deprecate. Set fields are ANDed.
type DeprecateCriteria struct {
	Project            string           `json:"project,omitempty"`
	Type               model.MemoryType `json:"type,omitempty"`
	CreatedBefore      *time.Time       `json:"created_before,omitempty"`
	LastAccessedBefore *time.Time       `json:"last_accessed_before,omitempty"`
	Metadata           map[string]any   `json:"metadata,omitempty"`
	IncludeDeprecated  bool             `json:"include_already_deprecated"`

	// MaxCount caps the selection; 0 means the policy default.
	MaxCount int `json:"max_count,omitempty"`
}

// DeprecateRequest wraps criteria with run options.
type DeprecateRequest struct {
	Criteria       DeprecateCriteria `json:"criteria"`
	BatchID        string            `json:"batch_id,omitempty"`
	ReportProgress bool              `json:"report_progress"`
	OnProgress     ProgressFunc      `json:"-"`
}

// ItemError describes one failed item. Index -1 marks a batch-level error.
type ItemError struct {
	Index   int                 `json:"index"`
	ID      string              `json:"id,omitempty"`
	Message string              `json:"message"`
	Fields  map[string][]string `json:"fields,omitempty"`
	Item    any                 `json:"item,omitempty"`

	// Err is the sentinel or store error behind a batch-level failure.
	Err error `json:"-"`
}

// Result is the outcome of a batch operation.
// Succeeded+Failed == Total holds for every result.
type Result struct {
	BatchID     string        `json:"batch_id"`
	Success     bool          `json:"success"`
	State       State         `json:"state"`
	Canceled    bool          `json:"canceled,omitempty"`
	Total       int           `json:"total_count"`
	Succeeded   int           `json:"success_count"`
	Failed      int           `json:"failure_count"`
	CreatedIDs  []string      `json:"created_ids,omitempty"`
	AffectedIDs []string      `json:"affected_ids,omitempty"`
	Errors      []ItemError   `json:"errors,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Validation is the outcome of a dry-run ValidateBatch.
type Validation struct {
	Valid        bool        `json:"is_valid"`
	Total        int         `json:"total_count"`
	ValidCount   int         `json:"valid_count"`
	InvalidCount int         `json:"invalid_count"`
	Errors       []ItemError `json:"validation_errors,omitempty"`
	Warnings     []string    `json:"warnings,omitempty"`
}
