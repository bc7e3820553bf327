package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Events are never updated or deleted. Actor and IP capture are best-effort;
// audit failures never block a call.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event, empty for
	// system actions such as a ring timeout.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	CallID     string `json:"call_id,omitempty" db:"call_id"`
	CallerID   string `json:"caller_id,omitempty" db:"caller_id"`
	ReceiverID string `json:"receiver_id,omitempty" db:"receiver_id"`
	FromStatus string `json:"from_status,omitempty" db:"from_status"`
	ToStatus   string `json:"to_status,omitempty" db:"to_status"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallTransition EventType = "call_transition"
	EventTypeAccessDenied   EventType = "access_denied"
)
