// Package history archives call records for reporting and the call log.
package history

import (
	"context"
	"errors"
	"time"

	"smart-care/internal/calls"
)

var ErrInvalidArgument = errors.New("history: invalid argument")

// Repository stores the latest known version of each call record.
//
// Save must never move a record backwards: a stale version (same or earlier
// status) is ignored without error.
type Repository interface {
	Save(ctx context.Context, rec calls.CallRecord) error
	Get(ctx context.Context, id string) (calls.CallRecord, error)
	// ListCalls returns the calls userID took part in that started in [from, to),
	// newest first.
	ListCalls(ctx context.Context, userID string, from, to time.Time) ([]calls.CallRecord, error)
}

func validate(rec calls.CallRecord) error {
	if rec.ID == "" || rec.CallerID == "" || rec.ReceiverID == "" || !rec.Status.Valid() {
		return ErrInvalidArgument
	}
	return nil
}
