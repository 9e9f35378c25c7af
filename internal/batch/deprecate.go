package batch

import (
	"context"
	"fmt"
	"slices"

	"github.com/rcliao/hippocamp/internal/store"
)

// BulkDeprecate marks every record matching req.Criteria deprecated, at most
// MaxCount of them, in one transaction. Zero matches is a successful no-op.
// Progress is published every DeprecateProgressEvery items and on the last.
func (s *Service) BulkDeprecate(ctx context.Context, req DeprecateRequest) (*Result, error) {
	c := req.Criteria
	r := s.begin("bulk_deprecate", req.BatchID, 0)
	if err := s.checkCriteria(c); err != nil {
		return r.reject(err.Error(), err), nil
	}
	limit := c.MaxCount
	if limit == 0 {
		limit = s.policy.MaxDeprecate
	}
	r.log.Info().
		Str("project", c.Project).
		Str("type", string(c.Type)).
		Int("max_count", limit).
		Msg("bulk deprecation started")

	r.res.State = StateExecuting
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return r.fail(ctx, nil, "begin", err)
	}

	records, err := tx.Find(ctx, store.Criteria{
		Project:            c.Project,
		Type:               c.Type,
		CreatedBefore:      c.CreatedBefore,
		LastAccessedBefore: c.LastAccessedBefore,
		Metadata:           c.Metadata,
		IncludeDeprecated:  c.IncludeDeprecated,
		Limit:              limit,
	})
	if err != nil {
		return r.fail(ctx, tx, "select", err)
	}
	total := len(records)
	r.res.Total = total

	if total == 0 {
		if err := r.commit(ctx, tx); err != nil {
			return r.res, err
		}
		r.res.Success = true
		r.log.Info().Msg("no memories found matching deprecation criteria")
		return r.finish(StateCompleted), nil
	}

	if err := r.track(req.ReportProgress, req.OnProgress, "Starting bulk deprecation"); err != nil {
		r.rollback(tx)
		return r.reject(err.Error(), err), fmt.Errorf("track batch %s: %w", r.res.BatchID, err)
	}

	every := s.policy.DeprecateProgressEvery
	for i := range records {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, tx, "deprecate", err)
		}

		m := &records[i]
		m.Deprecated = true
		if err := tx.Update(ctx, m); err != nil {
			return r.fail(ctx, tx, "deprecate", err)
		}
		r.res.Succeeded++
		r.res.AffectedIDs = append(r.res.AffectedIDs, m.ID)

		if (i+1)%every == 0 || i == total-1 {
			r.step(i+1, fmt.Sprintf("Deprecated %d of %d memories", i+1, total))
		}
	}

	if err := r.commit(ctx, tx); err != nil {
		return r.res, err
	}
	r.res.Success = true
	return r.complete(), nil
}

func (s *Service) checkCriteria(c DeprecateCriteria) error {
	if c.MaxCount < 0 {
		return fmt.Errorf("%w: max count must not be negative", ErrInvalidCriteria)
	}
	if c.Type != "" && !c.Type.Valid() {
		return fmt.Errorf("%w: invalid memory type: %s", ErrInvalidCriteria, c.Type)
	}
	keys := make([]string, 0, len(c.Metadata))
	for k := range c.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !s.validator.MetadataKey(k) {
			return fmt.Errorf("%w: invalid metadata key '%s'", ErrInvalidCriteria, k)
		}
	}
	return nil
}
