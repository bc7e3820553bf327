package reporting

import (
	"context"
	"errors"
	"time"

	"smart-care/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

const defaultMissedLimit = 50

// Repository is the read side reporting needs; history.Repository satisfies it.
type Repository interface {
	ListCalls(ctx context.Context, userID string, from, to time.Time) ([]calls.CallRecord, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func validRange(r TimeRange) bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.UserID == "" || !validRange(req.Range) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{UserID: req.UserID, Range: req.Range}
	for _, c := range rows {
		out.TotalCalls++
		if c.CallerID == req.UserID {
			out.OutgoingCalls++
		} else {
			out.IncomingCalls++
		}
		if c.Type == calls.CallTypeVideo {
			out.VideoCalls++
		} else {
			out.VoiceCalls++
		}

		switch c.Status {
		case calls.StatusEnded:
			if c.ConnectedTime != nil {
				out.CompletedCalls++
				out.TotalTalkSeconds += int(c.Duration().Seconds())
			} else {
				out.CancelledCalls++
			}
		case calls.StatusDeclined:
			out.DeclinedCalls++
		case calls.StatusMissed:
			out.MissedCalls++
		case calls.StatusRinging, calls.StatusAccepted, calls.StatusActive:
			out.InProgressCalls++
		}
	}
	if out.CompletedCalls > 0 {
		out.AverageTalkSeconds = out.TotalTalkSeconds / out.CompletedCalls
	}
	if settled := out.TotalCalls - out.InProgressCalls; settled > 0 {
		out.ConnectionRate = float64(out.CompletedCalls) / float64(settled)
	}
	return out, nil
}

// MissedCalls returns unanswered incoming calls, newest first.
func (s *Service) MissedCalls(ctx context.Context, req MissedCallsRequest) ([]MissedCall, error) {
	if req.UserID == "" || !validRange(req.Range) {
		return nil, ErrInvalidRequest
	}
	if s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultMissedLimit
	}

	rows, err := s.repo.ListCalls(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return nil, err
	}
	out := make([]MissedCall, 0)
	for _, c := range rows {
		if c.Status != calls.StatusMissed || c.ReceiverID != req.UserID {
			continue
		}
		out = append(out, MissedCall{CallID: c.ID, CallerID: c.CallerID, Type: string(c.Type), StartTime: c.StartTime})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
