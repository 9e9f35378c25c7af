package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rcliao/hippocamp/internal/model"
)

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"), opts...)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newMemory(project, content string, typ model.MemoryType) *model.Memory {
	now := time.Now().UTC()
	return &model.Memory{
		Project: project, Content: content, Type: typ,
		CreatedAt: now, LastAccessedAt: now,
	}
}

func insertCommitted(t *testing.T, s *SQLiteStore, ms ...*model.Memory) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, m := range ms {
		if err := tx.Insert(ctx, m); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := newMemory("proj", "hello world", model.TypeCodePattern)
	m.Embedding = []float32{0.25, -0.5, 1}
	m.Metadata = map[string]any{"lang": "go", "stars": 3}
	insertCommitted(t, s, m)

	if m.ID == "" {
		t.Fatal("expected id to be assigned")
	}

	got, err := s.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "hello world" || got.Type != model.TypeCodePattern {
		t.Errorf("unexpected record: %+v", got)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != -0.5 {
		t.Errorf("embedding not round-tripped: %v", got.Embedding)
	}
	if got.Metadata["lang"] != "go" || got.Metadata["stars"] != float64(3) {
		t.Errorf("metadata not round-tripped: %v", got.Metadata)
	}
	if !got.CreatedAt.Equal(m.CreatedAt.Truncate(time.Microsecond)) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, m.CreatedAt)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRollbackDiscardsInserts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	m := newMemory("proj", "gone", model.TypeBugPattern)
	if err := tx.Insert(ctx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Visible inside the transaction before commit.
	found, err := tx.Find(ctx, Criteria{Project: "proj"})
	if err != nil || len(found) != 1 {
		t.Fatalf("expected 1 in-tx record, got %d (%v)", len(found), err)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := tx.Commit(); !errors.Is(err, ErrTxDone) {
		t.Errorf("expected ErrTxDone after rollback, got %v", err)
	}
	if _, err := s.Get(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected rolled back record to be absent, got %v", err)
	}
}

func TestVectorDims(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithVectorDims(3))

	tx, _ := s.Begin(ctx)
	defer tx.Rollback()

	m := newMemory("proj", "x", model.TypeCodePattern)
	m.Embedding = []float32{1, 2}
	if err := tx.Insert(ctx, m); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}

	m.Embedding = nil
	if err := tx.Insert(ctx, m); err != nil {
		t.Errorf("record without embedding should insert: %v", err)
	}
}

func TestGetByIDsAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := newMemory("proj", "a", model.TypeCodePattern)
	b := newMemory("proj", "b", model.TypeCodePattern)
	insertCommitted(t, s, a, b)

	tx, _ := s.Begin(ctx)
	found, err := tx.GetByIDs(ctx, []string{a.ID, b.ID, "nope"})
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2, got %d", len(found))
	}

	rec := found[a.ID]
	rec.Content = "a2"
	rec.Deprecated = true
	if err := tx.Update(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tx.Update(ctx, &model.Memory{ID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound updating missing id, got %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, _ := s.Get(ctx, a.ID)
	if got.Content != "a2" || !got.Deprecated {
		t.Errorf("update not persisted: %+v", got)
	}
}

func TestFindCriteria(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := time.Now().UTC().Add(-48 * time.Hour)
	m1 := newMemory("p1", "one", model.TypeCodePattern)
	m1.CreatedAt, m1.LastAccessedAt = old, old
	m1.Metadata = map[string]any{"env": "prod", "v": 2, "flag": 1}
	m2 := newMemory("p1", "two", model.TypeBugPattern)
	m2.Metadata = map[string]any{"env": "dev", "flag": true}
	m3 := newMemory("p2", "three", model.TypeCodePattern)
	m3.Deprecated = true
	m4 := newMemory("p1", "four", model.TypeCodePattern)
	m4.Deleted = true
	insertCommitted(t, s, m1, m2, m3, m4)

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	tests := []struct {
		name string
		c    Criteria
		want int
	}{
		{"all active", Criteria{}, 2},
		{"include deprecated", Criteria{IncludeDeprecated: true}, 3},
		{"project", Criteria{Project: "p1"}, 2},
		{"type", Criteria{Type: model.TypeCodePattern}, 1},
		{"created before", Criteria{CreatedBefore: &cutoff}, 1},
		{"accessed before", Criteria{LastAccessedBefore: &cutoff}, 1},
		{"metadata string", Criteria{Metadata: map[string]any{"env": "prod"}}, 1},
		{"metadata number", Criteria{Metadata: map[string]any{"v": 2}}, 1},
		{"metadata anded", Criteria{Metadata: map[string]any{"env": "prod", "v": 3}}, 0},
		{"metadata bool", Criteria{Metadata: map[string]any{"flag": true}}, 1},
		{"metadata int is not bool", Criteria{Metadata: map[string]any{"flag": 1}}, 1},
		{"metadata bool is not int", Criteria{Metadata: map[string]any{"flag": true, "v": 2}}, 0},
		{"metadata missing key", Criteria{Metadata: map[string]any{"absent": "x"}}, 0},
		{"limit", Criteria{IncludeDeprecated: true, Limit: 2}, 2},
	}

	tx, _ := s.Begin(ctx)
	defer tx.Rollback()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tx.Find(ctx, tt.c)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d, got %d", tt.want, len(got))
			}
		})
	}
}

func TestRollbackAfterDriverRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	// database/sql rolls back by itself when the Begin context is canceled.
	if err := tx.(*sqliteTx).tx.Rollback(); err != nil {
		t.Fatalf("driver rollback: %v", err)
	}
	if err := tx.Rollback(); !errors.Is(err, ErrTxDone) {
		t.Errorf("expected ErrTxDone, got %v", err)
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	insertCommitted(t, s,
		newMemory("ns", "alpha", model.TypeCodePattern),
		newMemory("ns", "beta", model.TypeUserPreference),
		newMemory("other", "gamma", model.TypeCodePattern),
	)

	all, _ := s.List(ctx, ListParams{})
	if len(all) != 3 {
		t.Errorf("expected 3, got %d", len(all))
	}

	nsOnly, _ := s.List(ctx, ListParams{Project: "ns"})
	if len(nsOnly) != 2 {
		t.Errorf("expected 2, got %d", len(nsOnly))
	}

	prefs, _ := s.List(ctx, ListParams{Type: model.TypeUserPreference})
	if len(prefs) != 1 || prefs[0].Content != "beta" {
		t.Errorf("expected only beta, got %+v", prefs)
	}
}

func TestStatsAndExport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "stats.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer s.Close()

	dep := newMemory("p", "b", model.TypeCodePattern)
	dep.Deprecated = true
	withVec := newMemory("p", "a", model.TypeCodePattern)
	withVec.Embedding = []float32{1}
	insertCommitted(t, s, withVec, dep, newMemory("q", "c", model.TypeCodePattern))

	st, err := s.Stats(ctx, dbPath)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.ActiveMemories != 3 || st.DeprecatedCount != 1 || st.WithEmbeddings != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if len(st.Projects) != 2 || st.Projects[0].Project != "p" || st.Projects[0].Deprecated != 1 {
		t.Errorf("unexpected project stats: %+v", st.Projects)
	}

	exported, err := s.ExportAll(ctx, "p")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(exported) != 2 {
		t.Errorf("expected 2 exported, got %d", len(exported))
	}
	params := ToCreateParams(exported)
	if params[0].Project != "p" || len(params) != 2 {
		t.Errorf("unexpected params: %+v", params)
	}
}

func TestDBPathCreation(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("expected db file to be created")
	}
}
