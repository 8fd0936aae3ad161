// Package depcheck evaluates a processor's declared upstream dependencies:
// presence, row-count sufficiency, and staleness. Checks are pure reads,
// one aggregate query per source, never full scans.
package depcheck

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/flowgate/internal/db"
	"github.com/sells-group/flowgate/internal/model"
)

// Outcome is the aggregate result of checking all specs for one unit.
type Outcome struct {
	Blocked bool
	Reasons []string
	Results []model.DependencyCheckResult
}

// Resolver checks dependency specs against the warehouse.
type Resolver struct {
	pool    db.Pool
	timeout time.Duration

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewResolver creates a Resolver. timeout bounds each per-source query.
func NewResolver(pool db.Pool, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{pool: pool, timeout: timeout, nowFunc: time.Now}
}

// Check evaluates every spec for the unit's date range. Any critical spec at
// MISSING or STALE_FAIL blocks; optional specs only annotate. A query that
// fails or times out is treated as MISSING for that source (fail closed) and
// logged distinctly from a data-level miss.
func (r *Resolver) Check(ctx context.Context, unit model.ProcessingUnit, specs []model.DependencySpec) Outcome {
	log := zap.L().With(
		zap.String("component", "depcheck"),
		zap.String("processor", unit.Processor),
	)

	out := Outcome{Results: make([]model.DependencyCheckResult, 0, len(specs))}

	for _, spec := range specs {
		res := r.checkOne(ctx, unit, spec)
		out.Results = append(out.Results, res)

		if !spec.Critical {
			continue
		}
		switch res.Status {
		case model.DepMissing:
			out.Blocked = true
			out.Reasons = append(out.Reasons, fmt.Sprintf(
				"critical dependency %s missing: %d rows found, %d required%s",
				spec.Source, res.RowCount, spec.MinRows, detailSuffix(res)))
		case model.DepStaleFail:
			out.Blocked = true
			out.Reasons = append(out.Reasons, fmt.Sprintf(
				"critical dependency %s stale: data age %s exceeds fail threshold %s",
				spec.Source, res.DataAge.Round(time.Minute), spec.StalenessFail))
		}
	}

	if out.Blocked {
		log.Warn("dependency check blocked", zap.Strings("reasons", out.Reasons))
	}
	return out
}

func (r *Resolver) checkOne(ctx context.Context, unit model.ProcessingUnit, spec model.DependencySpec) model.DependencyCheckResult {
	res := model.DependencyCheckResult{
		Source: spec.Source,
		Ref:    spec.Source,
	}

	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Aggregate count + max-freshness only; the date column is indexed on
	// every warehouse source table. Entity-scoped units check only their own
	// slice of the upstream when the spec names an entity column.
	sql := fmt.Sprintf(
		"SELECT count(*), max(%s) FROM %s WHERE %s >= $1 AND %s <= $2",
		db.QuoteIdent(spec.DateField), db.QuoteTable(spec.Source),
		db.QuoteIdent(spec.DateField), db.QuoteIdent(spec.DateField),
	)
	args := []any{unit.Start, unit.End}
	if spec.EntityField != "" && len(unit.EntityIDs) > 0 {
		sql += fmt.Sprintf(" AND %s = ANY($3)", db.QuoteIdent(spec.EntityField))
		args = append(args, unit.EntityIDs)
	}

	var rowCount int64
	var maxTS *time.Time
	err := r.pool.QueryRow(qctx, sql, args...).Scan(&rowCount, &maxTS)
	if err != nil {
		// Fail closed: an unreadable dependency is treated as absent, but
		// logged as a transient check failure, not a data miss.
		zap.L().Error("dependency check query failed",
			zap.String("component", "depcheck"),
			zap.String("source", spec.Source),
			zap.Error(err),
		)
		res.Status = model.DepMissing
		res.Detail = "transient check failure: " + err.Error()
		return res
	}

	res.RowCount = rowCount
	res.LatestAt = maxTS
	if rowCount < spec.MinRows || maxTS == nil {
		res.Status = model.DepMissing
		return res
	}

	res.DataAge = r.nowFunc().Sub(*maxTS)
	switch {
	case spec.StalenessFail > 0 && res.DataAge >= spec.StalenessFail:
		res.Status = model.DepStaleFail
	case spec.StalenessWarn > 0 && res.DataAge >= spec.StalenessWarn:
		res.Status = model.DepStaleWarn
	default:
		res.Status = model.DepOK
	}
	return res
}

func detailSuffix(res model.DependencyCheckResult) string {
	if res.Detail == "" {
		return ""
	}
	return " (" + res.Detail + ")"
}
