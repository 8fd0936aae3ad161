// Package engine composes the gate checks into one decision path. The order
// is fixed: circuit breaker, gap detection, dependency resolution, change
// detection, completeness annotation, priority classification. The first
// blocking or deferring check short-circuits the rest.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/flowgate/internal/breaker"
	"github.com/sells-group/flowgate/internal/depcheck"
	"github.com/sells-group/flowgate/internal/gaps"
	"github.com/sells-group/flowgate/internal/metrics"
	"github.com/sells-group/flowgate/internal/model"
	"github.com/sells-group/flowgate/internal/registry"
	"github.com/sells-group/flowgate/internal/signature"
)

// Request is one invocation to evaluate. ChangeKind and Deadline are
// optional hints from the scheduler or event layer; absent values classify
// conservatively.
type Request struct {
	Unit     model.ProcessingUnit `json:"unit"`
	Kind     model.ChangeKind     `json:"change_kind,omitempty"`
	Deadline *time.Time           `json:"deadline,omitempty"`
}

// CircuitGate is the breaker slice the engine consumes.
type CircuitGate interface {
	Allow(ctx context.Context, processor string) (breaker.Decision, error)
	RecordSuccess(ctx context.Context, processor string) error
	RecordFailure(ctx context.Context, processor string) error
}

// GapScanner finds missing expected dates.
type GapScanner interface {
	DetectGaps(ctx context.Context, desc registry.Descriptor, asOf time.Time) (gaps.Report, error)
}

// DependencyChecker evaluates declared upstream specs.
type DependencyChecker interface {
	Check(ctx context.Context, unit model.ProcessingUnit, specs []model.DependencySpec) depcheck.Outcome
}

// ChangeDetector compares content signatures.
type ChangeDetector interface {
	Compare(ctx context.Context, source, scopeKey, newSig string) (signature.Result, error)
}

// CompletenessEvaluator computes and persists window sufficiency.
type CompletenessEvaluator interface {
	Evaluate(ctx context.Context, d registry.Descriptor, entityID string, asOf time.Time) (model.CompletenessRecord, error)
	Record(ctx context.Context, rec model.CompletenessRecord) error
}

// Classifier assigns a priority tier.
type Classifier interface {
	Classify(unit model.ProcessingUnit, kind model.ChangeKind, deadline *time.Time, now time.Time) model.Priority
}

// Enqueuer queues recovery work for missing dates.
type Enqueuer interface {
	Enqueue(ctx context.Context, processor string, targetDate time.Time, priority model.Priority, reason string) (model.BackfillRequest, bool, error)
}

// AuditLog appends decision rows.
type AuditLog interface {
	Append(ctx context.Context, rec RunRecord) error
	SetOutcome(ctx context.Context, runID string, outcome model.RunOutcome, duration time.Duration) error
}

// Engine is the decision orchestrator.
type Engine struct {
	registry   *registry.Registry
	circuit    CircuitGate
	gaps       GapScanner
	deps       DependencyChecker
	signatures ChangeDetector
	complete   CompletenessEvaluator
	classifier Classifier
	queue      Enqueuer
	audit      AuditLog

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New wires an Engine from its parts.
func New(
	reg *registry.Registry,
	circuit CircuitGate,
	gapScanner GapScanner,
	deps DependencyChecker,
	signatures ChangeDetector,
	complete CompletenessEvaluator,
	classifier Classifier,
	queue Enqueuer,
	audit AuditLog,
) *Engine {
	return &Engine{
		registry:   reg,
		circuit:    circuit,
		gaps:       gapScanner,
		deps:       deps,
		signatures: signatures,
		complete:   complete,
		classifier: classifier,
		queue:      queue,
		audit:      audit,
		nowFunc:    time.Now,
	}
}

// Evaluate runs the fixed check order and returns the verdict with its
// evidence. The verdict is always audited, whatever the outcome.
func (e *Engine) Evaluate(ctx context.Context, req Request) (model.Verdict, error) {
	started := e.nowFunc()
	unit := req.Unit

	verdict := model.Verdict{
		RunID:    uuid.NewString(),
		Priority: model.PriorityNormal,
	}

	if err := unit.Validate(); err != nil {
		return verdict, eris.Wrap(err, "engine: invalid unit")
	}
	desc, err := e.registry.Get(unit.Processor)
	if err != nil {
		return verdict, eris.Wrap(err, "engine: resolve processor")
	}

	defer func() {
		metrics.EvaluationSeconds.WithLabelValues(unit.Processor).Observe(e.nowFunc().Sub(started).Seconds())
		metrics.Verdicts.WithLabelValues(unit.Processor, string(verdict.Action)).Inc()
	}()

	log := zap.L().With(
		zap.String("component", "engine"),
		zap.String("run_id", verdict.RunID),
		zap.String("processor", unit.Processor),
		zap.String("scope", unit.ScopeKey()),
	)

	// 1. Circuit breaker. A store failure denies: fail closed.
	decision, err := e.circuit.Allow(ctx, unit.Processor)
	if err != nil {
		log.Error("breaker check failed", zap.Error(err))
		verdict.Action = model.ActionBlockCircuit
		verdict.Reasons = []string{"circuit state unavailable: " + err.Error()}
		e.record(ctx, unit, verdict, model.OutcomeSkipped, started)
		return verdict, nil
	}
	if !decision.Allowed {
		verdict.Action = model.ActionBlockCircuit
		verdict.Reasons = []string{fmt.Sprintf(
			"circuit %s for %s, retry in %s",
			decision.State, unit.Processor, decision.RetryAfter.Round(time.Second))}
		e.record(ctx, unit, verdict, model.OutcomeSkipped, started)
		return verdict, nil
	}
	verdict.Probe = decision.Probe

	// 2. Gap detection. Skipped for backfill units: a recovery run targets
	// the very gap this check would find.
	if !unit.IsBackfill {
		if done := e.checkGaps(ctx, desc, unit, &verdict, log); done {
			e.record(ctx, unit, verdict, model.OutcomeSkipped, started)
			return verdict, nil
		}
	}

	// 3. Dependency resolution.
	depStart := e.nowFunc()
	outcome := e.deps.Check(ctx, unit, desc.Dependencies)
	metrics.DependencyCheckSeconds.WithLabelValues(unit.Processor).Observe(e.nowFunc().Sub(depStart).Seconds())
	verdict.Dependencies = outcome.Results
	if outcome.Blocked {
		verdict.Action = blockActionFor(outcome.Results)
		verdict.Reasons = outcome.Reasons
		e.record(ctx, unit, verdict, model.OutcomeSkipped, started)
		return verdict, nil
	}

	// 4. Change detection. The fingerprint is derived from the upstream
	// aggregates the dependency check already fetched, so an identical
	// upstream state short-circuits to SKIP_UNCHANGED. Backfill units always
	// rerun.
	if !unit.IsBackfill && len(outcome.Results) > 0 {
		res, err := e.signatures.Compare(ctx, unit.Processor, unit.ScopeKey(), fingerprint(outcome.Results))
		if err != nil {
			log.Warn("signature comparison errored, proceeding", zap.Error(err))
		} else if res == signature.Unchanged {
			verdict.Action = model.ActionSkipUnchanged
			verdict.Reasons = []string{"upstream content unchanged since last run"}
			verdict.Priority = e.classifier.Classify(unit, req.Kind, req.Deadline, e.nowFunc())
			e.record(ctx, unit, verdict, model.OutcomeSkipped, started)
			return verdict, nil
		}
	}

	// 5. Completeness annotation. Advisory only: evaluation failures are
	// logged, never block.
	e.annotateCompleteness(ctx, desc, unit, &verdict, log)

	// 6. Priority classification.
	verdict.Priority = e.classifier.Classify(unit, req.Kind, req.Deadline, e.nowFunc())

	verdict.Action = model.ActionProceed
	e.record(ctx, unit, verdict, "", started)
	log.Info("verdict",
		zap.String("action", string(verdict.Action)),
		zap.String("priority", string(verdict.Priority)),
	)
	return verdict, nil
}

// ReportOutcome closes the loop after the caller ran (or failed) the
// business logic: the audit row gets the outcome and the breaker counts it.
func (e *Engine) ReportOutcome(ctx context.Context, runID, processor string, outcome model.RunOutcome, duration time.Duration) error {
	if err := e.audit.SetOutcome(ctx, runID, outcome, duration); err != nil {
		return err
	}

	switch outcome {
	case model.OutcomeSuccess:
		return e.circuit.RecordSuccess(ctx, processor)
	case model.OutcomeFailed:
		return e.circuit.RecordFailure(ctx, processor)
	}
	// Skipped runs do not move the breaker either way.
	return nil
}

// checkGaps applies the auto-backfill threshold policy. Returns true when
// the verdict is final.
func (e *Engine) checkGaps(ctx context.Context, desc registry.Descriptor, unit model.ProcessingUnit, verdict *model.Verdict, log *zap.Logger) bool {
	report, err := e.gaps.DetectGaps(ctx, desc, unit.End)
	if err != nil {
		// Fail closed: an unanswerable gap question blocks.
		log.Error("gap detection failed", zap.Error(err))
		verdict.Action = model.ActionBlockMissing
		verdict.Reasons = []string{"gap detection failed: " + err.Error()}
		return true
	}
	if len(report.Missing) == 0 {
		return false
	}

	metrics.GapsDetected.WithLabelValues(unit.Processor).Add(float64(len(report.Missing)))
	verdict.MissingDates = report.Missing

	if len(report.Missing) > desc.GapAutoThreshold {
		// Too large to recover automatically. Surface it for a human.
		verdict.Action = model.ActionBlockMissing
		verdict.Reasons = []string{fmt.Sprintf(
			"%d missing dates exceeds auto-backfill threshold %d, manual recovery required",
			len(report.Missing), desc.GapAutoThreshold)}
		if n := len(report.CriticalMissing); n > 0 {
			verdict.Reasons = append(verdict.Reasons, fmt.Sprintf(
				"%d missing dates fall inside the recent window and distort current rolling aggregates", n))
		}
		log.Error("oversized gap requires manual recovery",
			zap.Int("missing", len(report.Missing)),
			zap.Int("critical", len(report.CriticalMissing)),
			zap.Int("threshold", desc.GapAutoThreshold),
		)
		return true
	}

	// Recent gaps recover ahead of older ones: they still distort current
	// rolling windows.
	critical := make(map[time.Time]bool, len(report.CriticalMissing))
	for _, d := range report.CriticalMissing {
		critical[d] = true
	}
	for _, missing := range report.Missing {
		prio := model.PriorityNormal
		if critical[missing] {
			prio = model.PriorityHigh
		}
		reason := fmt.Sprintf("gap detected by %s run over %s", unit.Processor, unit.ScopeKey())
		if _, _, err := e.queue.Enqueue(ctx, unit.Processor, missing, prio, reason); err != nil {
			log.Error("backfill enqueue failed", zap.Error(err),
				zap.String("target_date", missing.Format("2006-01-02")))
		}
	}
	verdict.Action = model.ActionDefer
	verdict.Reasons = []string{fmt.Sprintf(
		"%d missing dates queued for backfill, deferring until recovery completes", len(report.Missing))}
	if n := len(report.CriticalMissing); n > 0 {
		verdict.Reasons = append(verdict.Reasons, fmt.Sprintf(
			"%d missing dates fall inside the recent window and distort current rolling aggregates", n))
	}
	return true
}

func (e *Engine) annotateCompleteness(ctx context.Context, desc registry.Descriptor, unit model.ProcessingUnit, verdict *model.Verdict, log *zap.Logger) {
	if desc.EntityColumn == "" || len(unit.EntityIDs) == 0 {
		return
	}

	for _, entityID := range unit.EntityIDs {
		rec, err := e.complete.Evaluate(ctx, desc, entityID, unit.End)
		if err != nil {
			log.Warn("completeness evaluation failed",
				zap.String("entity_id", entityID), zap.Error(err))
			continue
		}
		if err := e.complete.Record(ctx, rec); err != nil {
			log.Warn("completeness record failed",
				zap.String("entity_id", entityID), zap.Error(err))
		}
		// Attach the most informative record: prefer a genuine gap over a
		// complete or bootstrap one.
		if verdict.Completeness == nil || (!rec.IsComplete && !rec.IsBootstrap) {
			r := rec
			verdict.Completeness = &r
		}
	}
}

func (e *Engine) record(ctx context.Context, unit model.ProcessingUnit, verdict model.Verdict, outcome model.RunOutcome, started time.Time) {
	rec := RunRecord{
		RunID:      verdict.RunID,
		Processor:  unit.Processor,
		Scope:      unit.ScopeKey(),
		Action:     verdict.Action,
		DurationMS: e.nowFunc().Sub(started).Milliseconds(),
		Outcome:    outcome,
	}
	for _, res := range verdict.Dependencies {
		switch res.Status {
		case model.DepMissing:
			rec.DependencyMissing = append(rec.DependencyMissing, res.Source)
		case model.DepStaleWarn, model.DepStaleFail:
			rec.DependencyStale = append(rec.DependencyStale, res.Source)
		}
	}
	if err := e.audit.Append(ctx, rec); err != nil {
		zap.L().Error("run log append failed",
			zap.String("component", "engine"),
			zap.String("run_id", verdict.RunID),
			zap.Error(err),
		)
	}
}

// blockActionFor picks BLOCK_MISSING over BLOCK_STALE when both apply:
// absence is the stronger finding.
func blockActionFor(results []model.DependencyCheckResult) model.Action {
	for _, res := range results {
		if res.Status == model.DepMissing {
			return model.ActionBlockMissing
		}
	}
	return model.ActionBlockStale
}

// fingerprint derives the unit's content signature from upstream aggregates.
// Row count and latest timestamp per source change exactly when the
// upstream contribution changes.
func fingerprint(results []model.DependencyCheckResult) string {
	parts := make([]string, 0, len(results)*3)
	for _, res := range results {
		latest := ""
		if res.LatestAt != nil {
			latest = res.LatestAt.UTC().Format(time.RFC3339Nano)
		}
		parts = append(parts, res.Source, strconv.FormatInt(res.RowCount, 10), latest)
	}
	return signature.Digest(parts...)
}
