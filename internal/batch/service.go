package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcliao/hippocamp/internal/progress"
	"github.com/rcliao/hippocamp/internal/store"
	"github.com/rcliao/hippocamp/internal/validate"
)

// Service orchestrates batch operations. It is safe for concurrent use;
// each call runs its items sequentially inside its own transaction.
type Service struct {
	store     store.Store
	validator *validate.Validator
	tracker   *progress.Tracker
	policy    Policy
	log       zerolog.Logger

	now   func() time.Time
	newID func() string
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy overrides the batch limits.
func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithTracker shares a progress tracker with other services.
func WithTracker(t *progress.Tracker) Option {
	return func(s *Service) { s.tracker = t }
}

// WithLogger sets the base logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New creates a Service over st. A nil validator uses default limits.
func New(st store.Store, v *validate.Validator, opts ...Option) *Service {
	s := &Service{
		store:     st,
		validator: v,
		policy:    DefaultPolicy(),
		log:       zerolog.Nop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		s.validator = validate.New(validate.Limits{})
	}
	if s.tracker == nil {
		s.tracker = progress.NewTracker()
	}
	s.policy = s.policy.withDefaults()
	return s
}

// Tracker returns the progress tracker.
func (s *Service) Tracker() *progress.Tracker { return s.tracker }

// Policy returns the effective policy.
func (s *Service) Policy() Policy { return s.policy }

// GetBatchStatus returns live progress for a running batch. Unknown and
// finished batches report ErrNotFound.
func (s *Service) GetBatchStatus(batchID string) (progress.Info, error) {
	if strings.TrimSpace(batchID) == "" {
		return progress.Info{}, ErrInvalidBatchID
	}
	info, ok := s.tracker.Get(batchID)
	if !ok {
		return progress.Info{}, fmt.Errorf("%w: %s", ErrNotFound, batchID)
	}
	return info, nil
}

// run holds the state of one batch call.
type run struct {
	s          *Service
	res        *Result
	log        zerolog.Logger
	started    time.Time
	tracked    bool
	onProgress ProgressFunc
}

func (s *Service) begin(op, batchID string, total int) *run {
	if batchID == "" {
		batchID = s.newID()
	}
	return &run{
		s:       s,
		res:     &Result{BatchID: batchID, Total: total, State: StateValidating},
		started: s.now(),
		log: s.log.With().
			Str("component", "batch").
			Str("operation", op).
			Str("batch_id", batchID).
			Logger(),
	}
}

// track registers the batch with the tracker when report is set.
func (r *run) track(report bool, onProgress ProgressFunc, status string) error {
	r.onProgress = onProgress
	if !report {
		return nil
	}
	if _, err := r.s.tracker.Start(r.res.BatchID, r.res.Total, status); err != nil {
		return err
	}
	r.tracked = true
	return nil
}

// step publishes progress after processed items.
func (r *run) step(processed int, status string) {
	var info progress.Info
	switch {
	case r.tracked:
		var err error
		info, err = r.s.tracker.Update(r.res.BatchID, processed, status)
		if err != nil {
			r.log.Debug().Err(err).Msg("progress update dropped")
			return
		}
	case r.onProgress != nil:
		info = progress.Info{
			BatchID:    r.res.BatchID,
			Processed:  processed,
			Total:      r.res.Total,
			Percentage: progress.Percent(processed, r.res.Total),
			Status:     status,
			StartedAt:  r.started,
			UpdatedAt:  r.s.now(),
		}
	default:
		return
	}
	if r.onProgress != nil {
		r.onProgress(info)
	}
}

// finish stamps the result and drops the tracker entry.
func (r *run) finish(state State) *Result {
	if r.tracked {
		r.s.tracker.Finish(r.res.BatchID)
		r.tracked = false
	}
	now := r.s.now()
	r.res.State = state
	r.res.CompletedAt = now.UTC()
	r.res.Elapsed = now.Sub(r.started)
	return r.res
}

func (r *run) addError(e ItemError) {
	r.res.Errors = append(r.res.Errors, e)
}

// failAll marks every item of the batch failed.
func (r *run) failAll() {
	r.res.Success = false
	r.res.Succeeded = 0
	r.res.Failed = r.res.Total
	r.res.CreatedIDs = nil
	r.res.AffectedIDs = nil
}

// reject ends a batch that never opened a transaction.
func (r *run) reject(msg string, err error) *Result {
	r.addError(ItemError{Index: -1, Message: msg, Err: err})
	r.failAll()
	r.log.Warn().Str("reason", msg).Msg("batch rejected")
	return r.finish(StateRejected)
}

func (r *run) rollback(tx store.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, store.ErrTxDone) {
		r.log.Error().Err(err).Msg("rollback failed")
	}
}

// abort rolls back after a batch-fatal item failure.
func (r *run) abort(tx store.Tx, cause error) *Result {
	r.rollback(tx)
	r.failAll()
	r.log.Error().Err(cause).Msg("item failed, transaction rolled back")
	return r.finish(StateRolledBack)
}

// fail rolls back after a store error or cancellation and returns the
// error the caller sees. tx may be nil when none is open.
func (r *run) fail(ctx context.Context, tx store.Tx, step string, err error) (*Result, error) {
	if tx != nil {
		r.rollback(tx)
	}
	r.failAll()
	if ctxErr := ctx.Err(); ctxErr != nil {
		r.res.Canceled = true
		r.log.Warn().Err(ctxErr).Msg("batch canceled, transaction rolled back")
		return r.finish(StateRolledBack), fmt.Errorf("%w: %w", ErrCanceled, ctxErr)
	}
	r.log.Error().Err(err).Str("step", step).Msg("batch failed, transaction rolled back")
	if len(r.res.Errors) == 0 {
		r.addError(ItemError{Index: -1, Message: "Batch operation failed: " + err.Error(), Err: err})
	}
	return r.finish(StateRolledBack), fmt.Errorf("%s batch %s: %w", step, r.res.BatchID, err)
}

// commit moves to committing and commits tx.
func (r *run) commit(ctx context.Context, tx store.Tx) error {
	r.res.State = StateCommitting
	if err := tx.Commit(); err != nil {
		_, err = r.fail(ctx, nil, "commit", err)
		return err
	}
	return nil
}

// complete logs and finishes a committed batch.
func (r *run) complete() *Result {
	r.log.Info().
		Int("succeeded", r.res.Succeeded).
		Int("failed", r.res.Failed).
		Dur("elapsed", r.s.now().Sub(r.started)).
		Msg("batch completed")
	return r.finish(StateCompleted)
}

// checkSize validates a batch length against the policy maximum.
func (s *Service) checkSize(n int, noun string) (string, error) {
	switch {
	case n == 0:
		return "At least one memory is required", ErrEmptyBatch
	case n > s.policy.MaxItems:
		return fmt.Sprintf("Maximum %d %s allowed per batch operation", s.policy.MaxItems, noun),
			fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, n, s.policy.MaxItems)
	}
	return "", nil
}
