package calls

import (
	"context"
	"fmt"
)

// Listen subscribes to the calls of userID and merges every event into the
// local view until ctx is cancelled, the service closes, or the stream ends.
// Ringing calls seen here get a ring timer; terminal ones are released.
func (s *Service) Listen(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidParticipant
	}
	if s.isClosed() {
		return ErrClosed
	}
	sub, err := s.ch.Subscribe(ctx, userID)
	if err != nil {
		return fmt.Errorf("calls: subscribe %s: %w", userID, err)
	}
	defer sub.Close()

	s.log.Info("call listener started", "user_id", userID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.base.Done():
			return nil
		case rec, ok := <-sub.Events():
			if !ok {
				return nil
			}
			s.merge(ctx, rec)
		}
	}
}

func (s *Service) merge(ctx context.Context, rec CallRecord) {
	if rec.ID == "" || !rec.Status.Valid() {
		s.log.Warn("discarding malformed call event", "call_id", rec.ID, "status", rec.Status)
		return
	}
	prev, changed := s.apply(rec)
	if !changed {
		return
	}
	s.log.Debug("call event merged", "call_id", rec.ID, "from", prev, "to", rec.Status)
	s.notify(ctx, Transition{Prev: prev, Record: rec, Remote: true})
}
