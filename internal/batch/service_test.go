package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/hippocamp/internal/model"
	"github.com/rcliao/hippocamp/internal/store"
	"github.com/rcliao/hippocamp/internal/validate"
)

// faultStore wraps a real store to count transactions and inject failures.
type faultStore struct {
	*store.SQLiteStore

	begins    atomic.Int32
	commitErr error
	lookupErr error
	onInsert  func(n int)
	inserts   atomic.Int32
}

func (f *faultStore) Begin(ctx context.Context) (store.Tx, error) {
	f.begins.Add(1)
	tx, err := f.SQLiteStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultTx{Tx: tx, f: f}, nil
}

type faultTx struct {
	store.Tx
	f *faultStore
}

func (t *faultTx) Insert(ctx context.Context, m *model.Memory) error {
	err := t.Tx.Insert(ctx, m)
	if t.f.onInsert != nil {
		t.f.onInsert(int(t.f.inserts.Add(1)))
	}
	return err
}

func (t *faultTx) GetByIDs(ctx context.Context, ids []string) (map[string]*model.Memory, error) {
	if t.f.lookupErr != nil {
		return nil, t.f.lookupErr
	}
	return t.Tx.GetByIDs(ctx, ids)
}

func (t *faultTx) Commit() error {
	if t.f.commitErr != nil {
		_ = t.Tx.Rollback()
		return t.f.commitErr
	}
	return t.Tx.Commit()
}

// newTestService builds a Service over a fresh SQLite store with 3-wide vectors.
func newTestService(t *testing.T, opts ...Option) (*Service, *faultStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "batch.db"), store.WithVectorDims(3))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fs := &faultStore{SQLiteStore: st}
	return New(fs, validate.New(validate.Limits{}), opts...), fs
}

func item(project, content string) model.CreateParams {
	return model.CreateParams{Project: project, Content: content, Type: model.TypeCodePattern}
}

func items(n int, project string) []model.CreateParams {
	out := make([]model.CreateParams, n)
	for i := range out {
		out[i] = item(project, fmt.Sprintf("memory %d", i))
	}
	return out
}

func countStored(t *testing.T, fs *faultStore, project string) int {
	t.Helper()
	got, err := fs.List(context.Background(), store.ListParams{Project: project, IncludeDeprecated: true, Limit: 10000})
	require.NoError(t, err)
	return len(got)
}

func assertCounts(t *testing.T, res *Result) {
	t.Helper()
	assert.Equal(t, res.Total, res.Succeeded+res.Failed, "succeeded + failed must equal total")
	if res.CreatedIDs != nil {
		assert.Len(t, res.CreatedIDs, res.Succeeded)
	}
}

func TestGetBatchStatus(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetBatchStatus("")
	assert.ErrorIs(t, err, ErrInvalidBatchID)

	_, err = svc.GetBatchStatus("unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Tracker().Start("live", 3, "running")
	require.NoError(t, err)
	info, err := svc.GetBatchStatus("live")
	require.NoError(t, err)
	assert.Equal(t, 3, info.Total)
}

func TestNew_Defaults(t *testing.T) {
	svc := New(nil, nil, WithPolicy(Policy{MaxItems: 5}))
	p := svc.Policy()
	assert.Equal(t, 5, p.MaxItems)
	assert.Equal(t, DefaultMaxDeprecate, p.MaxDeprecate)
	assert.Equal(t, DefaultDeprecateProgressEvery, p.DeprecateProgressEvery)
	assert.Equal(t, DefaultExpectedDimensions, p.ExpectedDimensions)
	assert.NotNil(t, svc.Tracker())
}

func TestConcurrentBatches(t *testing.T) {
	svc, fs := newTestService(t)
	ctx := context.Background()

	const batches, perBatch = 8, 5
	var wg sync.WaitGroup
	results := make([]*Result, batches)
	errs := make([]error, batches)
	for b := 0; b < batches; b++ {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[b], errs[b] = svc.CreateBatch(ctx, CreateRequest{
				Items:          items(perBatch, fmt.Sprintf("proj-%d", b)),
				ReportProgress: true,
			})
		}()
	}
	wg.Wait()

	ids := map[string]bool{}
	for b := 0; b < batches; b++ {
		require.NoError(t, errs[b])
		require.True(t, results[b].Success)
		assert.Equal(t, perBatch, results[b].Succeeded)
		assert.False(t, ids[results[b].BatchID], "batch ids must be unique")
		ids[results[b].BatchID] = true
		assert.Equal(t, perBatch, countStored(t, fs, fmt.Sprintf("proj-%d", b)))
	}
	assert.Equal(t, 0, svc.Tracker().Active())
}

func TestFail_WrapsStoreError(t *testing.T) {
	svc, fs := newTestService(t)
	boom := errors.New("disk full")
	fs.commitErr = boom

	res, err := svc.CreateBatch(context.Background(), CreateRequest{Items: items(2, "p")})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrCanceled)
	assert.False(t, res.Canceled)
}
