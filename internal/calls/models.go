package calls

import (
	"fmt"
	"time"
)

// CallRecord is the single durable entity of a call attempt.
//
// Invariant: exactly one record exists per attempt and it is mutated in place.
// ConnectedTime is set if and only if the call reached StatusActive.
type CallRecord struct {
	ID         string   `json:"id" db:"id"`
	CallerID   string   `json:"caller_id" db:"caller_id"`
	ReceiverID string   `json:"receiver_id" db:"receiver_id"`
	Type       CallType `json:"type" db:"type"`
	Status     Status   `json:"status" db:"status"`

	StartTime     time.Time  `json:"start_time" db:"start_time"`
	ConnectedTime *time.Time `json:"connected_time,omitempty" db:"connected_time"`
	EndTime       *time.Time `json:"end_time,omitempty" db:"end_time"`
}

// Duration is endTime - connectedTime, zero if the call never connected or has not ended.
func (r CallRecord) Duration() time.Duration {
	if r.ConnectedTime == nil || r.EndTime == nil {
		return 0
	}
	d := r.EndTime.Sub(*r.ConnectedTime)
	if d < 0 {
		return 0
	}
	return d
}

// Involves reports whether userID is the caller or the receiver.
func (r CallRecord) Involves(userID string) bool {
	return userID != "" && (r.CallerID == userID || r.ReceiverID == userID)
}

// Peer returns the other participant.
func (r CallRecord) Peer(userID string) string {
	if r.CallerID == userID {
		return r.ReceiverID
	}
	return r.CallerID
}

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	switch t {
	case CallTypeVoice, CallTypeVideo:
		return true
	default:
		return false
	}
}

// Status is the closed set of lifecycle states a CallRecord can be in.
type Status string

const (
	StatusRinging  Status = "ringing"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusMissed   Status = "missed"
	StatusActive   Status = "active"
	StatusEnded    Status = "ended"
)

// ParseStatus converts a wire value into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("calls: unknown status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusRinging, StatusAccepted, StatusDeclined, StatusMissed, StatusActive, StatusEnded:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDeclined, StatusMissed, StatusEnded:
		return true
	default:
		return false
	}
}

// CanTransition reports whether next is reachable from s in a single step.
//
// accepted is never written by this package; records observed in it behave like
// a call that is about to become active.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusRinging:
		switch next {
		case StatusActive, StatusDeclined, StatusMissed, StatusEnded:
			return true
		}
		return false
	case StatusAccepted:
		return next == StatusActive || next == StatusEnded
	case StatusActive:
		return next == StatusEnded
	case StatusDeclined, StatusMissed, StatusEnded:
		return false
	default:
		return false
	}
}

// Supersedes reports whether s is further along the lifecycle than prev.
// Merges and archives only ever move a record forward.
func (s Status) Supersedes(prev Status) bool {
	return s.rank() > prev.rank()
}

// rank orders statuses along the lifecycle; used to keep merged views monotonic.
func (s Status) rank() int {
	switch s {
	case StatusRinging:
		return 1
	case StatusAccepted:
		return 2
	case StatusActive:
		return 3
	case StatusDeclined, StatusMissed, StatusEnded:
		return 4
	default:
		return 0
	}
}
