package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"smart-care/internal/calls"
)

// MemoryRepo is an in-memory Repository for tests and local development.
type MemoryRepo struct {
	mu   sync.Mutex
	recs map[string]calls.CallRecord
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{recs: map[string]calls.CallRecord{}} }

func (r *MemoryRepo) Save(ctx context.Context, rec calls.CallRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.recs[rec.ID]; ok && !rec.Status.Supersedes(cur.Status) {
		return nil
	}
	r.recs[rec.ID] = rec
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (calls.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return calls.CallRecord{}, calls.ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) ListCalls(ctx context.Context, userID string, from, to time.Time) ([]calls.CallRecord, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.CallRecord, 0)
	for _, rec := range r.recs {
		if !rec.Involves(userID) {
			continue
		}
		if rec.StartTime.Before(from) || !rec.StartTime.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}
