package history

import (
	"context"
	"testing"
	"time"

	"smart-care/internal/calls"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := NewPostgresRepo(db)
	repo.clock = func() time.Time { return base }
	return repo, mock
}

func TestPostgresRepo_SaveInsertsNewRecord(t *testing.T) {
	repo, mock := newMockRepo(t)
	rec := record("c1", "p1", "d1", calls.StatusRinging, base)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM call_history").WithArgs("c1").WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectExec("INSERT INTO call_history").
		WithArgs("c1", "p1", "d1", "voice", "ringing", base, sqlmock.AnyArg(), sqlmock.AnyArg(), base).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_SaveSkipsStaleStatus(t *testing.T) {
	repo, mock := newMockRepo(t)
	rec := record("c1", "p1", "d1", calls.StatusRinging, base)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM call_history").WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("declined"))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_SaveRollsBackOnError(t *testing.T) {
	repo, mock := newMockRepo(t)
	rec := record("c1", "p1", "d1", calls.StatusEnded, base)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM call_history").WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
	mock.ExpectExec("INSERT INTO call_history").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.Save(context.Background(), rec)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_GetScansNullableTimes(t *testing.T) {
	repo, mock := newMockRepo(t)
	connected := base.Add(5 * time.Second)
	cols := []string{"id", "caller_id", "receiver_id", "type", "status", "start_time", "connected_time", "end_time"}

	mock.ExpectQuery("FROM call_history WHERE id").WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("c1", "p1", "d1", "video", "active", base, connected, nil))

	got, err := repo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, calls.StatusActive, got.Status)
	assert.Equal(t, calls.CallTypeVideo, got.Type)
	require.NotNil(t, got.ConnectedTime)
	assert.True(t, got.ConnectedTime.Equal(connected))
	assert.Nil(t, got.EndTime)
}

func TestPostgresRepo_GetMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM call_history WHERE id").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, calls.ErrNotFound)
}

func TestPostgresRepo_ListCalls(t *testing.T) {
	repo, mock := newMockRepo(t)
	cols := []string{"id", "caller_id", "receiver_id", "type", "status", "start_time", "connected_time", "end_time"}
	end := base.Add(time.Minute)

	mock.ExpectQuery("FROM call_history").WithArgs("p1", base, base.Add(time.Hour)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("c2", "d1", "p1", "voice", "missed", base.Add(time.Minute), nil, nil).
			AddRow("c1", "p1", "d1", "voice", "ended", base, nil, end))

	got, err := repo.ListCalls(context.Background(), "p1", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[0].ID)
	require.NotNil(t, got[1].EndTime)
	assert.Nil(t, got[1].ConnectedTime)
}
