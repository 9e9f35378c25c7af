package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath          string         `json:"db_path"`
	DBSizeBytes     int64          `json:"db_size_bytes"`
	TotalMemories   int            `json:"total_memories"`
	ActiveMemories  int            `json:"active_memories"`
	DeprecatedCount int            `json:"deprecated_memories"`
	WithEmbeddings  int            `json:"with_embeddings"`
	Projects        []ProjectStats `json:"projects"`
}

// ProjectStats holds per-project counts.
type ProjectStats struct {
	Project    string `json:"project"`
	Count      int    `json:"count"`
	Deprecated int    `json:"deprecated"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN deleted = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN deleted = 0 AND deprecated = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN deleted = 0 AND embedding IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM memories`).Scan(&st.TotalMemories, &st.ActiveMemories, &st.DeprecatedCount, &st.WithEmbeddings)
	if err != nil {
		return st, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT project, COUNT(*) AS cnt, SUM(deprecated)
		FROM memories WHERE deleted = 0
		GROUP BY project ORDER BY cnt DESC, project`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var p ProjectStats
		if err := rows.Scan(&p.Project, &p.Count, &p.Deprecated); err != nil {
			return st, err
		}
		st.Projects = append(st.Projects, p)
	}

	return st, rows.Err()
}
