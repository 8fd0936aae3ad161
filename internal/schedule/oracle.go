// Package schedule answers "which dates should this processor have produced
// output for" from an externally maintained publication calendar.
package schedule

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/flowgate/internal/db"
)

// Oracle reports the dates a processor is expected to have output for.
type Oracle interface {
	ExpectedDates(ctx context.Context, processor string, from, to time.Time) ([]time.Time, error)
}

// CalendarOracle reads expected dates from the flowgate.schedule_calendar
// table, populated by the scheduling layer.
type CalendarOracle struct {
	pool db.Pool
}

// NewCalendarOracle creates a table-backed Oracle.
func NewCalendarOracle(pool db.Pool) *CalendarOracle {
	return &CalendarOracle{pool: pool}
}

// ExpectedDates returns the calendar dates in [from, to], ascending.
func (o *CalendarOracle) ExpectedDates(ctx context.Context, processor string, from, to time.Time) ([]time.Time, error) {
	rows, err := o.pool.Query(ctx,
		`SELECT expected_date FROM flowgate.schedule_calendar
		 WHERE processor = $1 AND expected_date >= $2 AND expected_date <= $3
		 ORDER BY expected_date`,
		processor, from, to,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "schedule: expected dates for %s", processor)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, eris.Wrap(err, "schedule: scan expected date")
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// StaticOracle serves a fixed calendar, keyed by processor. Used in tests
// and for processors whose cadence is strictly daily.
type StaticOracle struct {
	Dates map[string][]time.Time
}

// ExpectedDates filters the static calendar to [from, to].
func (o *StaticOracle) ExpectedDates(_ context.Context, processor string, from, to time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, d := range o.Dates[processor] {
		if d.Before(from) || d.After(to) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
