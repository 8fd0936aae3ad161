package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/flowgate/internal/db"
	"github.com/sells-group/flowgate/internal/model"
)

// RunRecord is one append-only audit row: what was asked, what the engine
// decided, and what the caller reported back.
type RunRecord struct {
	RunID             string           `json:"run_id"`
	Processor         string           `json:"processor_name"`
	Scope             string           `json:"scope"`
	Action            model.Action     `json:"action_taken"`
	DependencyMissing []string         `json:"dependency_missing"`
	DependencyStale   []string         `json:"dependency_stale"`
	DurationMS        int64            `json:"duration_ms"`
	Outcome           model.RunOutcome `json:"outcome"`
	CreatedAt         time.Time        `json:"created_at"`
}

// RunLog appends and queries audit rows.
type RunLog struct {
	pool db.Pool
}

// NewRunLog creates a RunLog.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// Append writes the decision row. Rows are never updated except to attach
// the caller's outcome.
func (l *RunLog) Append(ctx context.Context, rec RunRecord) error {
	if rec.DependencyMissing == nil {
		rec.DependencyMissing = []string{}
	}
	if rec.DependencyStale == nil {
		rec.DependencyStale = []string{}
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO flowgate.run_log
		 (run_id, processor, scope, action, dependency_missing, dependency_stale, duration_ms, outcome)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.RunID, rec.Processor, rec.Scope, string(rec.Action),
		rec.DependencyMissing, rec.DependencyStale, rec.DurationMS, string(rec.Outcome),
	)
	if err != nil {
		return eris.Wrapf(err, "engine: append run log %s", rec.RunID)
	}
	return nil
}

// SetOutcome attaches the caller-reported outcome to an existing row.
func (l *RunLog) SetOutcome(ctx context.Context, runID string, outcome model.RunOutcome, duration time.Duration) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE flowgate.run_log SET outcome = $2, duration_ms = $3 WHERE run_id = $1`,
		runID, string(outcome), duration.Milliseconds(),
	)
	if err != nil {
		return eris.Wrapf(err, "engine: set outcome %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("engine: run %s not found", runID)
	}
	return nil
}

// Recent returns the latest rows for a processor, newest first. An empty
// processor returns rows across all processors.
func (l *RunLog) Recent(ctx context.Context, processor string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		sql  string
		args []any
	)
	if processor == "" {
		sql = `SELECT run_id, processor, scope, action, dependency_missing, dependency_stale, duration_ms, outcome, created_at
		       FROM flowgate.run_log ORDER BY created_at DESC LIMIT $1`
		args = []any{limit}
	} else {
		sql = `SELECT run_id, processor, scope, action, dependency_missing, dependency_stale, duration_ms, outcome, created_at
		       FROM flowgate.run_log WHERE processor = $1 ORDER BY created_at DESC LIMIT $2`
		args = []any{processor, limit}
	}

	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "engine: query run log")
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var action, outcome string
		if err := rows.Scan(&rec.RunID, &rec.Processor, &rec.Scope, &action,
			&rec.DependencyMissing, &rec.DependencyStale, &rec.DurationMS, &outcome, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "engine: scan run log row")
		}
		rec.Action = model.Action(action)
		rec.Outcome = model.RunOutcome(outcome)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// BlockRate returns the fraction of decisions since the cutoff that blocked,
// for the monitoring checker. Returns 0 when there were no decisions.
func (l *RunLog) BlockRate(ctx context.Context, since time.Time) (float64, error) {
	var total, blocked int
	err := l.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE action IN ('BLOCK_MISSING', 'BLOCK_STALE', 'BLOCK_CIRCUIT_OPEN'))
		 FROM flowgate.run_log WHERE created_at >= $1`,
		since,
	).Scan(&total, &blocked)
	if err != nil {
		return 0, eris.Wrap(err, "engine: block rate")
	}
	if total == 0 {
		return 0, nil
	}
	return float64(blocked) / float64(total), nil
}
