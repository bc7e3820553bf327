package calls

import "errors"

var (
	// ErrInvalidParticipant is returned by Initiate for empty or equal participant ids.
	ErrInvalidParticipant = errors.New("calls: invalid participant")
	ErrInvalidCallType    = errors.New("calls: invalid call type")

	// ErrInvalidTransition is returned when the current status does not permit the
	// operation, including the loser of an accept/decline/timeout race.
	ErrInvalidTransition = errors.New("calls: invalid transition")

	// ErrConflict is returned by a Channel when the stored status no longer matches
	// the expected one. The service surfaces it wrapped in ErrInvalidTransition.
	ErrConflict = errors.New("calls: write conflict")

	// ErrChannelWrite means the signal channel did not durably accept a write.
	ErrChannelWrite = errors.New("calls: channel write failed")

	ErrNotFound = errors.New("calls: not found")
	ErrBusy     = errors.New("calls: participant busy")
	ErrClosed   = errors.New("calls: service closed")
)
