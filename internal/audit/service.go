package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"smart-care/internal/auth"
	"smart-care/internal/calls"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information. Records are not exposed to
// patients or doctors.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || (e.CallID == "" && e.ActorUserID == "") {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	return s.repo.Append(ctx, e)
}

// OnTransition records a call status change. The actor is taken from the
// request identity when there is one; remote and timer-driven changes have none.
func (s *Service) OnTransition(ctx context.Context, t calls.Transition) error {
	e := Event{
		Type:       EventTypeCallTransition,
		CallID:     t.Record.ID,
		CallerID:   t.Record.CallerID,
		ReceiverID: t.Record.ReceiverID,
		FromStatus: string(t.Prev),
		ToStatus:   string(t.Record.Status),
		Message:    transitionMessage(t),
	}
	if !t.Remote {
		e.ActorUserID, _ = auth.UserID(ctx)
		e.ActorRole, _ = auth.Role(ctx)
	}
	meta, err := json.Marshal(map[string]any{
		"type":             t.Record.Type,
		"remote":           t.Remote,
		"duration_seconds": int(t.Record.Duration().Seconds()),
	})
	if err == nil {
		e.Metadata = string(meta)
	}
	return s.Append(ctx, e)
}

// LogAccessDenied records a user touching a call they are not part of.
func (s *Service) LogAccessDenied(ctx context.Context, actorUserID, actorRole, callID, action string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeAccessDenied,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		CallID:      callID,
		Message:     fmt.Sprintf("%s denied: not a participant", action),
	})
}

func transitionMessage(t calls.Transition) string {
	if t.Prev == "" {
		return "call " + string(t.Record.Status)
	}
	return fmt.Sprintf("call %s -> %s", t.Prev, t.Record.Status)
}
