package audit

import (
	"context"
	"log/slog"
)

// LogRepo writes each event as one structured log line so the audit trail
// leaves the process with the regular log stream.
type LogRepo struct {
	log *slog.Logger
}

func NewLogRepo(log *slog.Logger) *LogRepo {
	if log == nil {
		log = slog.Default()
	}
	return &LogRepo{log: log.With("audit", true)}
}

func (r *LogRepo) Append(ctx context.Context, e Event) error {
	r.log.LogAttrs(ctx, slog.LevelInfo, "audit event",
		slog.String("event_id", e.ID),
		slog.String("event_type", string(e.Type)),
		slog.String("actor_user_id", e.ActorUserID),
		slog.String("actor_role", e.ActorRole),
		slog.String("ip_address", e.IPAddress),
		slog.String("call_id", e.CallID),
		slog.String("from_status", e.FromStatus),
		slog.String("to_status", e.ToStatus),
		slog.String("message", e.Message),
		slog.String("metadata", e.Metadata),
		slog.Time("created_at", e.CreatedAt),
	)
	return nil
}

// MultiRepo appends to every repository and reports the first failure.
type MultiRepo []Repository

func (m MultiRepo) Append(ctx context.Context, e Event) error {
	var first error
	for _, r := range m {
		if err := r.Append(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
