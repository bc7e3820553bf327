package history

import (
	"context"
	"fmt"

	"smart-care/internal/calls"
)

// Recorder archives every call transition it observes.
type Recorder struct {
	repo Repository
}

func NewRecorder(repo Repository) *Recorder { return &Recorder{repo: repo} }

func (r *Recorder) OnTransition(ctx context.Context, t calls.Transition) error {
	if err := r.repo.Save(ctx, t.Record); err != nil {
		return fmt.Errorf("history: archive %s (%s): %w", t.Record.ID, t.Record.Status, err)
	}
	return nil
}
