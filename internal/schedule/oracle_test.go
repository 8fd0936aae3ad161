package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCalendarOracle_ExpectedDates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"expected_date"}).
		AddRow(date("2024-11-10")).
		AddRow(date("2024-11-11")).
		AddRow(date("2024-11-12"))

	mock.ExpectQuery("SELECT expected_date FROM flowgate.schedule_calendar").
		WithArgs("player_summary", date("2024-11-01"), date("2024-11-30")).
		WillReturnRows(rows)

	o := NewCalendarOracle(mock)
	dates, err := o.ExpectedDates(context.Background(), "player_summary", date("2024-11-01"), date("2024-11-30"))
	require.NoError(t, err)
	assert.Len(t, dates, 3)
	assert.Equal(t, date("2024-11-10"), dates[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCalendarOracle_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT expected_date").
		WillReturnError(assert.AnError)

	o := NewCalendarOracle(mock)
	_, err = o.ExpectedDates(context.Background(), "p", date("2024-11-01"), date("2024-11-30"))
	assert.Error(t, err)
}

func TestStaticOracle_FiltersRange(t *testing.T) {
	o := &StaticOracle{Dates: map[string][]time.Time{
		"p": {date("2024-11-01"), date("2024-11-15"), date("2024-12-01")},
	}}

	dates, err := o.ExpectedDates(context.Background(), "p", date("2024-11-10"), date("2024-11-30"))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date("2024-11-15")}, dates)

	none, err := o.ExpectedDates(context.Background(), "other", date("2024-11-01"), date("2024-11-30"))
	require.NoError(t, err)
	assert.Empty(t, none)
}
