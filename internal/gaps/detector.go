// Package gaps finds missing output dates for a processor by diffing the
// publication calendar against the dates that actually have sufficient rows
// in the processor's output table.
package gaps

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/flowgate/internal/db"
	"github.com/sells-group/flowgate/internal/registry"
	"github.com/sells-group/flowgate/internal/schedule"
)

// recentCriticalDays marks how far back a missing date is still considered
// critical: recent holes distort current rolling windows, old holes only
// historical ones.
const recentCriticalDays = 7

// Report lists the dates a processor should have produced but didn't.
type Report struct {
	Missing         []time.Time `json:"missing_dates"`
	CriticalMissing []time.Time `json:"critical_missing"`
}

// Detector scans a lookback window for missing expected dates.
type Detector struct {
	pool    db.Pool
	oracle  schedule.Oracle
	timeout time.Duration
}

// NewDetector creates a Detector.
func NewDetector(pool db.Pool, oracle schedule.Oracle, timeout time.Duration) *Detector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Detector{pool: pool, oracle: oracle, timeout: timeout}
}

// DetectGaps compares expected dates (strictly before asOf, within the
// descriptor's lookback) against dates with at least GapMinRows rows in the
// output table. Errors are returned rather than swallowed: an unanswerable
// gap question must block, not silently pass.
func (d *Detector) DetectGaps(ctx context.Context, desc registry.Descriptor, asOf time.Time) (Report, error) {
	var report Report

	qctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	from := asOf.AddDate(0, 0, -desc.GapLookbackDays)

	expected, err := d.oracle.ExpectedDates(qctx, desc.Name, from, asOf.AddDate(0, 0, -1))
	if err != nil {
		return report, eris.Wrapf(err, "gaps: expected dates for %s", desc.Name)
	}
	if len(expected) == 0 {
		return report, nil
	}

	present, err := d.presentDates(qctx, desc, from, asOf)
	if err != nil {
		return report, err
	}

	criticalCutoff := asOf.AddDate(0, 0, -recentCriticalDays)
	for _, exp := range expected {
		if present[exp.Format("2006-01-02")] {
			continue
		}
		report.Missing = append(report.Missing, exp)
		if !exp.Before(criticalCutoff) {
			report.CriticalMissing = append(report.CriticalMissing, exp)
		}
	}
	return report, nil
}

// presentDates returns the set of dates having at least GapMinRows rows.
// Aggregate group-by only, never a row scan.
func (d *Detector) presentDates(ctx context.Context, desc registry.Descriptor, from, to time.Time) (map[string]bool, error) {
	col := db.QuoteIdent(desc.OutputDateColumn)
	sql := `SELECT ` + col + ` FROM ` + db.QuoteTable(desc.OutputTable) +
		` WHERE ` + col + ` >= $1 AND ` + col + ` < $2
		 GROUP BY ` + col + ` HAVING count(*) >= $3`

	rows, err := d.pool.Query(ctx, sql, from, to, desc.GapMinRows)
	if err != nil {
		return nil, eris.Wrapf(err, "gaps: present dates for %s", desc.Name)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var dt time.Time
		if err := rows.Scan(&dt); err != nil {
			return nil, eris.Wrap(err, "gaps: scan present date")
		}
		present[dt.Format("2006-01-02")] = true
	}
	return present, rows.Err()
}
