package batch

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/rcliao/hippocamp/internal/model"
)

// CreateBatch creates every item in one transaction.
//
// Without ContinueOnError the first invalid or failing item fails the whole
// batch and nothing is written. With it, bad items are recorded and skipped
// and the rest are committed.
func (s *Service) CreateBatch(ctx context.Context, req CreateRequest) (*Result, error) {
	total := len(req.Items)
	r := s.begin("create_batch", req.BatchID, total)
	if msg, err := s.checkSize(total, "memories"); err != nil {
		return r.reject(msg, err), nil
	}
	r.log.Info().Int("count", total).Bool("continue_on_error", req.ContinueOnError).Msg("batch started")

	if err := r.track(req.ReportProgress, req.OnProgress, "Starting batch creation"); err != nil {
		return r.reject(err.Error(), err), fmt.Errorf("track batch %s: %w", r.res.BatchID, err)
	}

	invalid := map[int]bool{}
	for i, item := range req.Items {
		if e := s.validateItem(i, item); e != nil {
			r.addError(*e)
			invalid[i] = true
		}
	}
	if len(invalid) > 0 && !req.ContinueOnError {
		r.failAll()
		r.log.Warn().Int("invalid", len(invalid)).Msg("batch failed validation")
		return r.finish(StateRejected), nil
	}

	r.res.State = StateExecuting
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return r.fail(ctx, nil, "begin", err)
	}

	now := s.now().UTC()
	for i, item := range req.Items {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, tx, "create", err)
		}

		if invalid[i] {
			r.res.Failed++
		} else {
			m := newRecord(item, now)
			if err := tx.Insert(ctx, m); err != nil {
				if ctx.Err() != nil {
					return r.fail(ctx, tx, "create", err)
				}
				r.log.Warn().Err(err).Int("index", i).Msg("failed to create memory")
				r.addError(ItemError{Index: i, Message: err.Error(), Item: item})
				r.res.Failed++
				if !req.ContinueOnError {
					return r.abort(tx, err), nil
				}
			} else {
				r.res.Succeeded++
				r.res.CreatedIDs = append(r.res.CreatedIDs, m.ID)
			}
		}

		r.step(i+1, fmt.Sprintf("Created memory %d of %d", i+1, total))
	}

	if err := r.commit(ctx, tx); err != nil {
		return r.res, err
	}
	r.res.Success = r.res.Failed == 0 || req.ContinueOnError
	return r.complete(), nil
}

// validateItem runs record validation and converts a failure to an ItemError.
func (s *Service) validateItem(i int, item model.CreateParams) *ItemError {
	res := s.validator.ValidateRecord(item)
	if res.Valid() {
		return nil
	}
	return &ItemError{
		Index:   i,
		Message: "Validation failed: " + strings.Join(res.All(), "; "),
		Fields:  res.Errors(),
		Item:    item,
	}
}

func newRecord(p model.CreateParams, now time.Time) *model.Memory {
	m := &model.Memory{
		Project:        p.Project,
		Content:        p.Content,
		Type:           p.Type,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if p.Embedding != nil {
		m.Embedding = slices.Clone(p.Embedding)
	}
	if p.Metadata != nil {
		m.Metadata = maps.Clone(p.Metadata)
	}
	return m
}
