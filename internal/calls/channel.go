package calls

import "context"

// Channel is the signal channel the state machine writes call records through and
// observes remote changes from. Implementations live outside this package
// (Redis, in-memory).
type Channel interface {
	// Write durably stores rec if the stored status still equals expect.
	// expect == "" means the record must not exist yet.
	// It returns ErrConflict when the precondition fails.
	Write(ctx context.Context, rec CallRecord, expect Status) error

	// Read returns the stored record or ErrNotFound.
	Read(ctx context.Context, id string) (CallRecord, error)

	// Subscribe delivers every change of a record where userID is caller or receiver.
	// The stream is infinite until the subscription is closed or ctx is done.
	Subscribe(ctx context.Context, userID string) (Subscription, error)
}

// Subscription is a cancellable stream of CallRecord changes.
type Subscription interface {
	// Events is closed once the subscription ends.
	Events() <-chan CallRecord
	Close() error
}

// Limiter caps concurrent calls per participant. A slot belongs to a call id,
// not to the process that took it, so whichever node settles the call can give
// it back. Both operations must be idempotent per (userID, callID).
type Limiter interface {
	Acquire(ctx context.Context, userID, callID string) (bool, error)
	Release(ctx context.Context, userID, callID string) error
}
