// Package completeness tracks how much rolling-window history was actually
// available when a processor computed an aggregate, and distinguishes
// "genuine gap" from "bootstrap": an entity early in its timeline cannot
// have a full window yet, and must never be reported as a data-quality gap.
package completeness

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/flowgate/internal/db"
	"github.com/sells-group/flowgate/internal/model"
	"github.com/sells-group/flowgate/internal/registry"
)

// Tracker evaluates and persists completeness records.
type Tracker struct {
	pool    db.Pool
	timeout time.Duration
}

// NewTracker creates a Tracker. timeout bounds each query.
func NewTracker(pool db.Pool, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Tracker{pool: pool, timeout: timeout}
}

// Evaluate counts the historical points available for entityID strictly
// before asOf within the descriptor's lookback window.
//
// is_bootstrap is true when fewer points than the expected window could
// exist at all: the entity's first observed date is too recent, as opposed
// to history existing-but-missing.
func (t *Tracker) Evaluate(ctx context.Context, d registry.Descriptor, entityID string, asOf time.Time) (model.CompletenessRecord, error) {
	rec := model.CompletenessRecord{
		Processor:      d.Name,
		EntityID:       entityID,
		AsOfDate:       asOf,
		PointsExpected: d.ExpectedWindow,
	}

	qctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	windowStart := asOf.AddDate(0, 0, -d.GapLookbackDays)

	dates, err := t.contributingDates(qctx, d, entityID, windowStart, asOf)
	if err != nil {
		return rec, err
	}
	rec.ContributingDates = dates
	rec.PointsFound = len(dates)

	firstSeen, err := t.firstSeen(qctx, d, entityID)
	if err != nil {
		return rec, err
	}

	maxPossible := 0
	if firstSeen != nil && firstSeen.Before(asOf) {
		// Days of history that could exist, capped at the lookback window.
		possible := int(asOf.Sub(*firstSeen).Hours() / 24)
		maxPossible = min(possible, d.GapLookbackDays)
	}

	rec.IsBootstrap = maxPossible < d.ExpectedWindow
	rec.IsComplete = rec.PointsFound >= min(d.ExpectedWindow, maxPossible)
	return rec, nil
}

// Record upserts a completeness record, clearing any stale flag: a rewrite
// means the aggregate was recomputed against current history.
func (t *Tracker) Record(ctx context.Context, rec model.CompletenessRecord) error {
	qctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	_, err := t.pool.Exec(qctx,
		`INSERT INTO flowgate.completeness_records
		 (processor, entity_id, as_of_date, points_found, points_expected, is_complete, is_bootstrap, contributing_dates, stale, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, now())
		 ON CONFLICT (processor, entity_id, as_of_date) DO UPDATE SET
		   points_found = EXCLUDED.points_found,
		   points_expected = EXCLUDED.points_expected,
		   is_complete = EXCLUDED.is_complete,
		   is_bootstrap = EXCLUDED.is_bootstrap,
		   contributing_dates = EXCLUDED.contributing_dates,
		   stale = false,
		   updated_at = now()`,
		rec.Processor, rec.EntityID, rec.AsOfDate,
		rec.PointsFound, rec.PointsExpected, rec.IsComplete, rec.IsBootstrap,
		rec.ContributingDates,
	)
	if err != nil {
		return eris.Wrapf(err, "completeness: record %s/%s", rec.Processor, rec.EntityID)
	}
	return nil
}

// FlagStaleForDate marks every record whose contributing_dates includes the
// corrected date. Flagged records must be recomputed before their rolling
// aggregates can be trusted again.
func (t *Tracker) FlagStaleForDate(ctx context.Context, corrected time.Time) (int64, error) {
	qctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	tag, err := t.pool.Exec(qctx,
		`UPDATE flowgate.completeness_records
		 SET stale = true, updated_at = now()
		 WHERE $1 = ANY(contributing_dates) AND NOT stale`,
		corrected,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "completeness: flag stale for %s", corrected.Format("2006-01-02"))
	}
	n := tag.RowsAffected()
	if n > 0 {
		zap.L().Info("flagged stale completeness records",
			zap.String("component", "completeness"),
			zap.String("corrected_date", corrected.Format("2006-01-02")),
			zap.Int64("count", n),
		)
	}
	return n, nil
}

// ListStale returns flagged records needing recomputation, oldest first. A
// non-positive limit returns every flagged record: cascade recovery must see
// the full set, however wide the correction reached.
func (t *Tracker) ListStale(ctx context.Context, limit int) ([]model.CompletenessRecord, error) {
	qctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	sql := `SELECT processor, entity_id, as_of_date, points_found, points_expected, is_complete, is_bootstrap, contributing_dates
	 FROM flowgate.completeness_records
	 WHERE stale ORDER BY as_of_date`
	args := []any{}
	if limit > 0 {
		sql += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := t.pool.Query(qctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "completeness: list stale")
	}
	defer rows.Close()

	var recs []model.CompletenessRecord
	for rows.Next() {
		rec := model.CompletenessRecord{Stale: true}
		if err := rows.Scan(
			&rec.Processor, &rec.EntityID, &rec.AsOfDate,
			&rec.PointsFound, &rec.PointsExpected, &rec.IsComplete, &rec.IsBootstrap,
			&rec.ContributingDates,
		); err != nil {
			return nil, eris.Wrap(err, "completeness: scan stale record")
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// StaleEntities returns the entity ids flagged stale for one processor and
// as-of date, sorted. Recovery runs carry these so the recomputation covers
// exactly the flagged records and their flags clear.
func (t *Tracker) StaleEntities(ctx context.Context, processor string, asOf time.Time) ([]string, error) {
	qctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	rows, err := t.pool.Query(qctx,
		`SELECT entity_id FROM flowgate.completeness_records
		 WHERE processor = $1 AND as_of_date = $2 AND stale
		 ORDER BY entity_id`,
		processor, asOf,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "completeness: stale entities for %s", processor)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "completeness: scan entity id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *Tracker) contributingDates(ctx context.Context, d registry.Descriptor, entityID string, from, to time.Time) ([]time.Time, error) {
	sql := `SELECT DISTINCT ` + db.QuoteIdent(d.OutputDateColumn) + ` FROM ` + db.QuoteTable(d.OutputTable) +
		` WHERE ` + db.QuoteIdent(d.EntityColumn) + ` = $1
		 AND ` + db.QuoteIdent(d.OutputDateColumn) + ` >= $2
		 AND ` + db.QuoteIdent(d.OutputDateColumn) + ` < $3
		 ORDER BY ` + db.QuoteIdent(d.OutputDateColumn)

	rows, err := t.pool.Query(ctx, sql, entityID, from, to)
	if err != nil {
		return nil, eris.Wrapf(err, "completeness: contributing dates for %s", entityID)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var dt time.Time
		if err := rows.Scan(&dt); err != nil {
			return nil, eris.Wrap(err, "completeness: scan date")
		}
		dates = append(dates, dt)
	}
	return dates, rows.Err()
}

func (t *Tracker) firstSeen(ctx context.Context, d registry.Descriptor, entityID string) (*time.Time, error) {
	sql := `SELECT min(` + db.QuoteIdent(d.OutputDateColumn) + `) FROM ` + db.QuoteTable(d.OutputTable) +
		` WHERE ` + db.QuoteIdent(d.EntityColumn) + ` = $1`

	var first *time.Time
	if err := t.pool.QueryRow(ctx, sql, entityID).Scan(&first); err != nil {
		return nil, eris.Wrapf(err, "completeness: first seen for %s", entityID)
	}
	return first, nil
}
