package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps audit events in process. With a limit, the oldest events
// are dropped once it is reached.
type MemoryRepo struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

// NewBoundedMemoryRepo keeps at most limit events.
func NewBoundedMemoryRepo(limit int) *MemoryRepo { return &MemoryRepo{limit: limit} }

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = append(r.events[:0:0], r.events[len(r.events)-r.limit:]...)
	}
	return nil
}

// Events returns a copy of the retained events, oldest first.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
