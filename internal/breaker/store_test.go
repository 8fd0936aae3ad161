package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresStore(mock), mock
}

func TestPostgresStore_GetUnknownProcessorIsClosed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT state").
		WithArgs("player_summary").
		WillReturnError(pgx.ErrNoRows)

	rec, err := store.Get(context.Background(), "player_summary")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, rec.State)
	assert.Zero(t, rec.ConsecutiveFailures)
}

func TestPostgresStore_GetScansRecord(t *testing.T) {
	store, mock := newMockStore(t)

	failedAt := time.Now().Add(-time.Hour)
	mock.ExpectQuery("SELECT state").
		WithArgs("player_summary").
		WillReturnRows(pgxmock.NewRows([]string{
			"state", "consecutive_failures", "consecutive_successes", "last_failure_at", "last_probe_at",
		}).AddRow("open", 5, 0, &failedAt, (*time.Time)(nil)))

	rec, err := store.Get(context.Background(), "player_summary")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, rec.State)
	assert.Equal(t, 5, rec.ConsecutiveFailures)
	require.NotNil(t, rec.LastFailureAt)
}

func TestPostgresStore_IncrementFailureReturnsUpdated(t *testing.T) {
	store, mock := newMockStore(t)

	failedAt := time.Now()
	mock.ExpectQuery("INSERT INTO flowgate.breaker_state").
		WithArgs("player_summary").
		WillReturnRows(pgxmock.NewRows([]string{
			"state", "consecutive_failures", "consecutive_successes", "last_failure_at", "last_probe_at",
		}).AddRow("closed", 3, 0, &failedAt, (*time.Time)(nil)))

	rec, err := store.IncrementFailure(context.Background(), "player_summary")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.ConsecutiveFailures)
	assert.Equal(t, StateClosed, rec.State)
}

func TestPostgresStore_ClaimProbe(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE flowgate.breaker_state").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE flowgate.breaker_state").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	claimed, err := store.ClaimProbe(context.Background(), "player_summary", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.ClaimProbe(context.Background(), "player_summary", 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim inside the window loses")
}

func TestPostgresStore_ClaimProbeCoversAbandonedHalfOpen(t *testing.T) {
	store, mock := newMockStore(t)

	// The claim must target half-open rows too, so a probe whose claimant
	// never reported is reclaimable after the cool-down.
	mock.ExpectExec(`state IN \('open', 'half_open'\)`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	claimed, err := store.ClaimProbe(context.Background(), "player_summary", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetStateClosedResetsCounters(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO flowgate.breaker_state").
		WithArgs("player_summary", "closed").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.SetState(context.Background(), "player_summary", StateClosed)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
