// Package progress tracks live progress of in-flight batches.
//
// Entries exist only while a batch runs: Start inserts one, Update mutates
// it, Finish removes it. A lookup after Finish reports not found. The
// Tracker is safe for concurrent use by many batches and external readers.
package progress

import (
	"errors"
	"sync"
	"time"
)

// Common tracker errors.
var (
	ErrInvalidID       = errors.New("batch id cannot be empty")
	ErrBatchInProgress = errors.New("batch id already in progress")
	ErrNotTracked      = errors.New("batch id is not tracked")
)

// percentMultiplier converts a ratio to a percentage (0-100).
const percentMultiplier = 100

// Info is an immutable snapshot of one batch's progress.
type Info struct {
	BatchID    string         `json:"batch_id"`
	Processed  int            `json:"processed_count"`
	Total      int            `json:"total_count"`
	Percentage int            `json:"progress_percentage"`
	Status     string         `json:"status"`
	ETA        *time.Duration `json:"estimated_time_remaining,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Percent returns floor(processed/total*100), or 0 when total is 0.
func Percent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return processed * percentMultiplier / total
}

// Listener receives every snapshot published by Update.
type Listener func(Info)

// Tracker maps batch ids to live progress.
type Tracker struct {
	mu        sync.RWMutex
	entries   map[string]*Info
	listeners map[int]Listener
	nextID    int
	now       func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		entries:   map[string]*Info{},
		listeners: map[int]Listener{},
		now:       time.Now,
	}
}

// Start registers a batch of total items.
func (t *Tracker) Start(batchID string, total int, status string) (Info, error) {
	if batchID == "" {
		return Info{}, ErrInvalidID
	}
	now := t.now()
	info := &Info{BatchID: batchID, Total: total, Status: status, StartedAt: now, UpdatedAt: now}

	t.mu.Lock()
	if _, ok := t.entries[batchID]; ok {
		t.mu.Unlock()
		return Info{}, ErrBatchInProgress
	}
	t.entries[batchID] = info
	snap := *info
	t.mu.Unlock()
	return snap, nil
}

// Update records processed items and publishes the new snapshot to listeners.
func (t *Tracker) Update(batchID string, processed int, status string) (Info, error) {
	t.mu.Lock()
	info, ok := t.entries[batchID]
	if !ok {
		t.mu.Unlock()
		return Info{}, ErrNotTracked
	}
	now := t.now()
	info.Processed = processed
	info.Percentage = Percent(processed, info.Total)
	info.Status = status
	info.UpdatedAt = now
	info.ETA = estimate(info, now)
	snap := *info
	listeners := make([]Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	return snap, nil
}

// estimate projects remaining time from the average time per processed item.
func estimate(info *Info, now time.Time) *time.Duration {
	if info.Processed <= 0 || info.Processed > info.Total {
		return nil
	}
	elapsed := now.Sub(info.StartedAt)
	perItem := elapsed / time.Duration(info.Processed)
	eta := perItem * time.Duration(info.Total-info.Processed)
	return &eta
}

// Get returns the current snapshot for batchID.
func (t *Tracker) Get(batchID string) (Info, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info, ok := t.entries[batchID]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// Finish removes batchID. Finishing an unknown id is a no-op.
func (t *Tracker) Finish(batchID string) {
	t.mu.Lock()
	delete(t.entries, batchID)
	t.mu.Unlock()
}

// Active returns the number of tracked batches.
func (t *Tracker) Active() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Subscribe registers l for every future update. The returned func removes it.
// Listeners run on the updating goroutine and must not block.
func (t *Tracker) Subscribe(l Listener) (cancel func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = l
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, id)
			t.mu.Unlock()
		})
	}
}
