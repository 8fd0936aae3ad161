package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/flowgate/internal/model"
)

func newTestRunLog(t *testing.T) (*RunLog, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRunLog(mock), mock
}

func TestRunLog_Append(t *testing.T) {
	l, mock := newTestRunLog(t)

	mock.ExpectExec("INSERT INTO flowgate.run_log").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := l.Append(context.Background(), RunRecord{
		RunID:             "run-1",
		Processor:         "player_summary",
		Scope:             "player_summary:2024-11-07:2024-11-14",
		Action:            model.ActionProceed,
		DependencyMissing: []string{"raw.game_logs"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_SetOutcomeUnknownRun(t *testing.T) {
	l, mock := newTestRunLog(t)

	mock.ExpectExec("UPDATE flowgate.run_log").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := l.SetOutcome(context.Background(), "run-x", model.OutcomeSuccess, time.Second)
	assert.Error(t, err)
}

func TestRunLog_Recent(t *testing.T) {
	l, mock := newTestRunLog(t)

	rows := pgxmock.NewRows([]string{
		"run_id", "processor", "scope", "action", "dependency_missing",
		"dependency_stale", "duration_ms", "outcome", "created_at",
	}).AddRow("run-1", "player_summary", "player_summary:2024-11-07:2024-11-14",
		"PROCEED", []string{}, []string{}, int64(42), "success", time.Now())

	mock.ExpectQuery("SELECT run_id").
		WithArgs("player_summary", 10).
		WillReturnRows(rows)

	recs, err := l.Recent(context.Background(), "player_summary", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.ActionProceed, recs[0].Action)
	assert.Equal(t, model.OutcomeSuccess, recs[0].Outcome)
}

func TestRunLog_BlockRate(t *testing.T) {
	l, mock := newTestRunLog(t)

	mock.ExpectQuery("SELECT count").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count", "count"}).AddRow(20, 5))

	rate, err := l.BlockRate(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.25, rate, 1e-9)
}

func TestRunLog_BlockRateNoDecisions(t *testing.T) {
	l, mock := newTestRunLog(t)

	mock.ExpectQuery("SELECT count").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count", "count"}).AddRow(0, 0))

	rate, err := l.BlockRate(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, rate)
}
