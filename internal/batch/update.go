package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/hippocamp/internal/model"
	"github.com/rcliao/hippocamp/internal/store"
)

// UpdateBatch applies partial updates in one transaction. Every referenced
// record is fetched in a single lookup. Missing ids, repeated ids and invalid
// patches are per-item failures; the batch continues past them unless
// AbortOnError is set. Each updated record has its last-accessed time refreshed.
func (s *Service) UpdateBatch(ctx context.Context, req UpdateRequest) (*Result, error) {
	total := len(req.Updates)
	r := s.begin("update_batch", req.BatchID, total)
	if total > s.policy.MaxItems {
		msg, err := s.checkSize(total, "updates")
		return r.reject(msg, err), nil
	}
	if total == 0 {
		r.res.Success = true
		return r.finish(StateCompleted), nil
	}
	r.log.Info().Int("count", total).Bool("abort_on_error", req.AbortOnError).Msg("batch started")

	if err := r.track(req.ReportProgress, req.OnProgress, "Starting batch update"); err != nil {
		return r.reject(err.Error(), err), fmt.Errorf("track batch %s: %w", r.res.BatchID, err)
	}

	r.res.State = StateExecuting
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return r.fail(ctx, nil, "begin", err)
	}

	ids := make([]string, 0, total)
	for _, u := range req.Updates {
		ids = append(ids, u.ID)
	}
	found, err := tx.GetByIDs(ctx, ids)
	if err != nil {
		return r.fail(ctx, tx, "lookup", err)
	}

	seen := make(map[string]bool, total)
	now := s.now().UTC()
	for i, u := range req.Updates {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, tx, "update", err)
		}

		itemErr, err := s.applyUpdate(ctx, tx, i, u, found, seen, now)
		if err != nil {
			return r.fail(ctx, tx, "update", err)
		}
		if itemErr != nil {
			r.log.Warn().Int("index", i).Str("id", u.ID).Str("reason", itemErr.Message).Msg("failed to update memory")
			r.addError(*itemErr)
			r.res.Failed++
			if req.AbortOnError {
				return r.abort(tx, errors.New(itemErr.Message)), nil
			}
		} else {
			r.res.Succeeded++
			r.res.AffectedIDs = append(r.res.AffectedIDs, u.ID)
		}

		r.step(i+1, fmt.Sprintf("Updated memory %d of %d", i+1, total))
	}

	if err := r.commit(ctx, tx); err != nil {
		return r.res, err
	}
	r.res.Success = r.res.Failed == 0
	return r.complete(), nil
}

// applyUpdate applies one patch. A non-nil ItemError is a per-item failure;
// a non-nil error means the context ended mid-write.
func (s *Service) applyUpdate(
	ctx context.Context,
	tx store.Tx,
	i int,
	u UpdateItem,
	found map[string]*model.Memory,
	seen map[string]bool,
	now time.Time,
) (*ItemError, error) {
	if strings.TrimSpace(u.ID) == "" {
		return &ItemError{Index: i, Message: "Memory ID is required", Item: u.Patch}, nil
	}
	if seen[u.ID] {
		return &ItemError{Index: i, ID: u.ID, Message: fmt.Sprintf("Duplicate memory ID %s in batch", u.ID), Item: u.Patch}, nil
	}
	seen[u.ID] = true

	m, ok := found[u.ID]
	if !ok {
		return &ItemError{Index: i, ID: u.ID, Message: fmt.Sprintf("Memory with ID %s not found", u.ID)}, nil
	}

	if res := s.validator.ValidateUpdate(u.Patch); !res.Valid() {
		return &ItemError{
			Index:   i,
			ID:      u.ID,
			Message: "Validation failed: " + strings.Join(res.All(), "; "),
			Fields:  res.Errors(),
			Item:    u.Patch,
		}, nil
	}

	next := *m
	u.Patch.Apply(&next)
	next.LastAccessedAt = now
	if err := tx.Update(ctx, &next); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return &ItemError{Index: i, ID: u.ID, Message: err.Error(), Item: u.Patch}, nil
	}
	return nil, nil
}
