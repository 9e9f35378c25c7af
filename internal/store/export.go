package store

import (
	"context"

	"github.com/rcliao/hippocamp/internal/model"
)

// ExportAll returns all non-deleted memories, optionally filtered by project,
// deprecated ones included.
func (s *SQLiteStore) ExportAll(ctx context.Context, project string) ([]model.Memory, error) {
	where, args := criteriaClause(Criteria{Project: project, IncludeDeprecated: true})
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE ` + where + ` ORDER BY project, created_at, id`
	return queryMemories(ctx, s.db, query, args...)
}

// ToCreateParams converts exported memories back into create payloads, so an
// export can be replayed through a create batch.
func ToCreateParams(memories []model.Memory) []model.CreateParams {
	out := make([]model.CreateParams, len(memories))
	for i, m := range memories {
		out[i] = model.CreateParams{
			Project:   m.Project,
			Content:   m.Content,
			Embedding: m.Embedding,
			Type:      m.Type,
			Metadata:  m.Metadata,
		}
	}
	return out
}
