package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"smart-care/internal/calls"
	"smart-care/pkg/utils"
)

// Schema creates the call_history table. It is safe to run on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS call_history (
  id             TEXT PRIMARY KEY,
  caller_id      TEXT NOT NULL,
  receiver_id    TEXT NOT NULL,
  type           TEXT NOT NULL,
  status         TEXT NOT NULL,
  start_time     TIMESTAMPTZ NOT NULL,
  connected_time TIMESTAMPTZ,
  end_time       TIMESTAMPTZ,
  updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS call_history_caller_idx ON call_history (caller_id, start_time DESC);
CREATE INDEX IF NOT EXISTS call_history_receiver_idx ON call_history (receiver_id, start_time DESC);
`

type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("history: ensure schema: %w", err)
	}
	return nil
}

// Save upserts rec while holding the row lock so concurrent archivers of the
// same call cannot regress its status.
func (r *PostgresRepo) Save(ctx context.Context, rec calls.CallRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		cur, found, err := lockStatus(ctx, tx, rec.ID)
		if err != nil {
			return err
		}
		if found && !rec.Status.Supersedes(cur) {
			return nil
		}
		return upsert(ctx, tx, rec, r.clock().UTC())
	})
}

func lockStatus(ctx context.Context, tx *sql.Tx, id string) (calls.Status, bool, error) {
	const q = `
SELECT status
FROM call_history
WHERE id = $1
FOR UPDATE
`
	var status string
	if err := tx.QueryRowContext(ctx, q, id).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return calls.Status(status), true, nil
}

func upsert(ctx context.Context, tx *sql.Tx, rec calls.CallRecord, now time.Time) error {
	const q = `
INSERT INTO call_history (
  id, caller_id, receiver_id, type, status, start_time, connected_time, end_time, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (id)
DO UPDATE SET status = EXCLUDED.status,
              connected_time = EXCLUDED.connected_time,
              end_time = EXCLUDED.end_time,
              updated_at = EXCLUDED.updated_at
`
	_, err := tx.ExecContext(ctx, q,
		rec.ID,
		rec.CallerID,
		rec.ReceiverID,
		string(rec.Type),
		string(rec.Status),
		rec.StartTime,
		nullTime(rec.ConnectedTime),
		nullTime(rec.EndTime),
		now,
	)
	return err
}

const selectColumns = `id, caller_id, receiver_id, type, status, start_time, connected_time, end_time`

func (r *PostgresRepo) Get(ctx context.Context, id string) (calls.CallRecord, error) {
	q := `SELECT ` + selectColumns + ` FROM call_history WHERE id = $1`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return calls.CallRecord{}, calls.ErrNotFound
	}
	return rec, err
}

func (r *PostgresRepo) ListCalls(ctx context.Context, userID string, from, to time.Time) ([]calls.CallRecord, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	q := `SELECT ` + selectColumns + `
FROM call_history
WHERE (caller_id = $1 OR receiver_id = $1)
  AND start_time >= $2 AND start_time < $3
ORDER BY start_time DESC`
	rows, err := r.db.QueryContext(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]calls.CallRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (calls.CallRecord, error) {
	var (
		rec              calls.CallRecord
		typ, status      string
		connected, ended sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.CallerID, &rec.ReceiverID, &typ, &status, &rec.StartTime, &connected, &ended); err != nil {
		return calls.CallRecord{}, err
	}
	rec.Type = calls.CallType(typ)
	rec.Status = calls.Status(status)
	if connected.Valid {
		t := connected.Time
		rec.ConnectedTime = &t
	}
	if ended.Valid {
		t := ended.Time
		rec.EndTime = &t
	}
	return rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
