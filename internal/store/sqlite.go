package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/hippocamp/internal/model"
)

// timeFormat is fixed width so stored timestamps order lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z"

const memoryColumns = `id, project, content, embedding, type, metadata,
	created_at, last_accessed_at, deprecated, deleted, deleted_at`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	dims int

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithVectorDims fixes the embedding column width. Writes with a non-empty
// embedding of another length fail with ErrDimensionMismatch. 0 disables the check.
func WithVectorDims(n int) Option {
	return func(s *SQLiteStore) { s.dims = n }
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; concurrent batches queue for the connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:      db,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id               TEXT PRIMARY KEY,
		project          TEXT NOT NULL,
		content          TEXT NOT NULL,
		embedding        TEXT,
		type             TEXT NOT NULL,
		metadata         TEXT,
		created_at       TEXT NOT NULL,
		last_accessed_at TEXT NOT NULL,
		deprecated       INTEGER NOT NULL DEFAULT 0,
		deleted          INTEGER NOT NULL DEFAULT 0,
		deleted_at       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project);
	CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);
	CREATE INDEX IF NOT EXISTS idx_memories_accessed ON memories(last_accessed_at);
	CREATE INDEX IF NOT EXISTS idx_memories_deprecated ON memories(deprecated);
	CREATE INDEX IF NOT EXISTS idx_memories_deleted ON memories(deleted);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Begin opens a transaction.
func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &sqliteTx{s: s, tx: tx}, nil
}

// Get retrieves a non-deleted memory by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ? AND deleted = 0`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// List lists memories matching the given filters, newest first.
func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]model.Memory, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	where, args := criteriaClause(Criteria{
		Project:           p.Project,
		Type:              p.Type,
		IncludeDeprecated: p.IncludeDeprecated,
	})
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE ` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ?`
	return queryMemories(ctx, s.db, query, append(args, limit)...)
}

// Close closes the store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) checkDims(m *model.Memory) error {
	if s.dims > 0 && len(m.Embedding) > 0 && len(m.Embedding) != s.dims {
		return fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(m.Embedding), s.dims)
	}
	return nil
}

type sqliteTx struct {
	s    *SQLiteStore
	tx   *sql.Tx
	done bool
}

func (t *sqliteTx) Insert(ctx context.Context, m *model.Memory) error {
	if t.done {
		return ErrTxDone
	}
	if err := t.s.checkDims(m); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = t.s.newID()
	}
	args, err := rowArgs(m)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO memories (`+memoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{m.ID}, args...)...)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetByIDs(ctx context.Context, ids []string) (map[string]*model.Memory, error) {
	if t.done {
		return nil, ErrTxDone
	}
	out := make(map[string]*model.Memory, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	memories, err := queryMemories(ctx, t.tx,
		`SELECT `+memoryColumns+` FROM memories WHERE deleted = 0 AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	for i := range memories {
		out[memories[i].ID] = &memories[i]
	}
	return out, nil
}

func (t *sqliteTx) Update(ctx context.Context, m *model.Memory) error {
	if t.done {
		return ErrTxDone
	}
	if err := t.s.checkDims(m); err != nil {
		return err
	}
	args, err := rowArgs(m)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE memories SET project = ?, content = ?, embedding = ?, type = ?, metadata = ?,
		        created_at = ?, last_accessed_at = ?, deprecated = ?, deleted = ?, deleted_at = ?
		 WHERE id = ?`, append(args, m.ID)...)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, m.ID)
	}
	return nil
}

func (t *sqliteTx) Find(ctx context.Context, c Criteria) ([]model.Memory, error) {
	if t.done {
		return nil, ErrTxDone
	}
	where, args := criteriaClause(c)
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE ` + where + ` ORDER BY created_at, id`
	if c.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, c.Limit)
	}
	return queryMemories(ctx, t.tx, query, args...)
}

func (t *sqliteTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return txErr(t.tx.Commit())
}

func (t *sqliteTx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return txErr(t.tx.Rollback())
}

// txErr maps database/sql's finished-transaction error, returned after a
// context cancellation rolled the transaction back, onto ErrTxDone.
func txErr(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return ErrTxDone
	}
	return err
}

// criteriaClause builds the WHERE clause for c (without the LIMIT).
func criteriaClause(c Criteria) (string, []any) {
	where := []string{"deleted = 0"}
	var args []any

	if c.Project != "" {
		where = append(where, "project = ?")
		args = append(args, c.Project)
	}
	if c.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(c.Type))
	}
	if c.CreatedBefore != nil {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(*c.CreatedBefore))
	}
	if c.LastAccessedBefore != nil {
		where = append(where, "last_accessed_at < ?")
		args = append(args, formatTime(*c.LastAccessedBefore))
	}
	if !c.IncludeDeprecated {
		where = append(where, "deprecated = 0")
	}
	for _, key := range sortedKeys(c.Metadata) {
		path := jsonPath(key)
		b, err := json.Marshal(c.Metadata[key])
		if err != nil {
			// An unencodable filter value can never match a stored value.
			where = append(where, "0")
			continue
		}
		// json_extract decodes true as 1, so the JSON types must match too.
		where = append(where, "json_type(metadata, ?) = json_type(?, '$') AND json_extract(metadata, ?) IS json_extract(?, '$')")
		args = append(args, path, string(b), path, string(b))
	}
	return strings.Join(where, " AND "), args
}

// jsonPath quotes key as a single JSON path member.
func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryMemories(ctx context.Context, q querier, query string, args ...any) ([]model.Memory, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// rowArgs returns every column after id, in memoryColumns order.
func rowArgs(m *model.Memory) ([]any, error) {
	var embedding, metadata, deletedAt *string
	if len(m.Embedding) > 0 {
		b, err := json.Marshal(m.Embedding)
		if err != nil {
			return nil, fmt.Errorf("encode embedding: %w", err)
		}
		e := string(b)
		embedding = &e
	}
	if len(m.Metadata) > 0 {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		meta := string(b)
		metadata = &meta
	}
	if m.DeletedAt != nil {
		d := formatTime(*m.DeletedAt)
		deletedAt = &d
	}
	return []any{
		m.Project, m.Content, embedding, string(m.Type), metadata,
		formatTime(m.CreatedAt), formatTime(m.LastAccessedAt),
		boolInt(m.Deprecated), boolInt(m.Deleted), deletedAt,
	}, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row scanner) (model.Memory, error) {
	var m model.Memory
	var embedding, metadata, deletedAt sql.NullString
	var typ, createdAt, accessedAt string
	var deprecated, deleted int

	err := row.Scan(
		&m.ID, &m.Project, &m.Content, &embedding, &typ, &metadata,
		&createdAt, &accessedAt, &deprecated, &deleted, &deletedAt,
	)
	if err != nil {
		return m, err
	}

	m.Type = model.MemoryType(typ)
	m.CreatedAt = parseTime(createdAt)
	m.LastAccessedAt = parseTime(accessedAt)
	m.Deprecated = deprecated != 0
	m.Deleted = deleted != 0
	if deletedAt.Valid {
		t := parseTime(deletedAt.String)
		m.DeletedAt = &t
	}
	if embedding.Valid {
		if err := json.Unmarshal([]byte(embedding.String), &m.Embedding); err != nil {
			return m, fmt.Errorf("decode embedding for %s: %w", m.ID, err)
		}
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return m, fmt.Errorf("decode metadata for %s: %w", m.ID, err)
		}
	}

	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
