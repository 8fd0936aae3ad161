// Package backfill owns the recovery queue: Postgres is the source of truth
// for BackfillRequest state, and JetStream carries the work signal to the
// worker pool. Enqueuing is synchronous and fast; recovery runs
// asynchronously, decoupled from the triggering invocation's lifetime.
package backfill

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/flowgate/internal/db"
	"github.com/sells-group/flowgate/internal/model"
)

// Publisher delivers the work signal for a freshly queued request.
type Publisher interface {
	PublishBackfill(ctx context.Context, req model.BackfillRequest) error
}

// Queue manages BackfillRequest rows. State transitions are monotonic and
// enforced in SQL with a state guard, so a racing worker can never regress a
// terminal row.
type Queue struct {
	pool        db.Pool
	publisher   Publisher
	maxAttempts int
}

// NewQueue creates a Queue. publisher may be nil (enqueue-only contexts,
// e.g. the migrate CLI), in which case rows are queued without a signal and
// picked up by the worker's sweep.
func NewQueue(pool db.Pool, publisher Publisher, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Queue{pool: pool, publisher: publisher, maxAttempts: maxAttempts}
}

// Enqueue inserts a queued request for (processor, targetDate) unless one is
// already open, then publishes the work signal. Returns the request and
// whether a new row was created.
func (q *Queue) Enqueue(ctx context.Context, processor string, targetDate time.Time, priority model.Priority, reason string) (model.BackfillRequest, bool, error) {
	req := model.BackfillRequest{
		ID:            uuid.NewString(),
		Processor:     processor,
		TargetDate:    targetDate,
		Priority:      priority,
		State:         model.BackfillQueued,
		MaxAttempts:   q.maxAttempts,
		TriggerReason: reason,
		RequestedAt:   time.Now().UTC(),
	}

	tag, err := q.pool.Exec(ctx,
		`INSERT INTO flowgate.backfill_queue
		 (id, processor, target_date, priority, state, attempts, max_attempts, trigger_reason, requested_at)
		 VALUES ($1, $2, $3, $4, 'queued', 0, $5, $6, $7)
		 ON CONFLICT (processor, target_date) WHERE state IN ('queued', 'processing') DO NOTHING`,
		req.ID, req.Processor, req.TargetDate, string(req.Priority), req.MaxAttempts, req.TriggerReason, req.RequestedAt,
	)
	if err != nil {
		return req, false, eris.Wrapf(err, "backfill: enqueue %s %s", processor, targetDate.Format("2006-01-02"))
	}
	if tag.RowsAffected() == 0 {
		// An open request for this date already exists.
		return req, false, nil
	}

	if q.publisher != nil {
		if err := q.publisher.PublishBackfill(ctx, req); err != nil {
			// Row is durable; the worker sweep will find it.
			zap.L().Warn("backfill signal publish failed, relying on sweep",
				zap.String("component", "backfill"),
				zap.String("processor", processor),
				zap.Error(err),
			)
		}
	}

	zap.L().Info("backfill request queued",
		zap.String("component", "backfill"),
		zap.String("processor", processor),
		zap.String("target_date", targetDate.Format("2006-01-02")),
		zap.String("priority", string(priority)),
	)
	return req, true, nil
}

// Claim moves a queued request to processing and increments its attempt
// counter. Returns false if another worker already claimed it.
func (q *Queue) Claim(ctx context.Context, id string) (bool, error) {
	tag, err := q.pool.Exec(ctx,
		`UPDATE flowgate.backfill_queue
		 SET state = 'processing', attempts = attempts + 1
		 WHERE id = $1 AND state = 'queued'`,
		id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "backfill: claim %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete marks a processing request completed.
func (q *Queue) Complete(ctx context.Context, id string) error {
	tag, err := q.pool.Exec(ctx,
		`UPDATE flowgate.backfill_queue
		 SET state = 'completed', completed_at = now()
		 WHERE id = $1 AND state = 'processing'`,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "backfill: complete %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("backfill: complete %s: not in processing state", id)
	}
	return nil
}

// Fail marks a processing request failed with the error message.
func (q *Queue) Fail(ctx context.Context, id, errMsg string) error {
	tag, err := q.pool.Exec(ctx,
		`UPDATE flowgate.backfill_queue
		 SET state = 'failed', last_error = $2, completed_at = now()
		 WHERE id = $1 AND state = 'processing'`,
		id, errMsg,
	)
	if err != nil {
		return eris.Wrapf(err, "backfill: fail %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("backfill: fail %s: not in processing state", id)
	}
	return nil
}

// Requeue moves a failed request back to queued if its attempt budget
// allows, republishing the work signal. Returns false when exhausted, in
// which case the caller escalates.
func (q *Queue) Requeue(ctx context.Context, id string) (bool, error) {
	tag, err := q.pool.Exec(ctx,
		`UPDATE flowgate.backfill_queue
		 SET state = 'queued', completed_at = NULL
		 WHERE id = $1 AND state = 'failed' AND attempts < max_attempts`,
		id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "backfill: requeue %s", id)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	req, err := q.Get(ctx, id)
	if err != nil {
		return true, err
	}
	if q.publisher != nil {
		if err := q.publisher.PublishBackfill(ctx, req); err != nil {
			zap.L().Warn("backfill requeue signal publish failed",
				zap.String("component", "backfill"),
				zap.String("id", id),
				zap.Error(err),
			)
		}
	}
	return true, nil
}

// Get loads one request by id.
func (q *Queue) Get(ctx context.Context, id string) (model.BackfillRequest, error) {
	var req model.BackfillRequest
	var priority, state string
	err := q.pool.QueryRow(ctx,
		`SELECT id, processor, target_date, priority, state, attempts, max_attempts, trigger_reason, COALESCE(last_error, ''), requested_at, completed_at
		 FROM flowgate.backfill_queue WHERE id = $1`,
		id,
	).Scan(&req.ID, &req.Processor, &req.TargetDate, &priority, &state,
		&req.Attempts, &req.MaxAttempts, &req.TriggerReason, &req.LastError,
		&req.RequestedAt, &req.CompletedAt)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return req, eris.Errorf("backfill: request %s not found", id)
		}
		return req, eris.Wrapf(err, "backfill: get %s", id)
	}
	req.Priority = model.Priority(priority)
	req.State = model.BackfillState(state)
	return req, nil
}

// List returns requests in the given state, oldest first.
func (q *Queue) List(ctx context.Context, state model.BackfillState, limit int) ([]model.BackfillRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.pool.Query(ctx,
		`SELECT id, processor, target_date, priority, state, attempts, max_attempts, trigger_reason, COALESCE(last_error, ''), requested_at, completed_at
		 FROM flowgate.backfill_queue WHERE state = $1 ORDER BY requested_at LIMIT $2`,
		string(state), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "backfill: list")
	}
	defer rows.Close()

	var reqs []model.BackfillRequest
	for rows.Next() {
		var req model.BackfillRequest
		var priority, st string
		if err := rows.Scan(&req.ID, &req.Processor, &req.TargetDate, &priority, &st,
			&req.Attempts, &req.MaxAttempts, &req.TriggerReason, &req.LastError,
			&req.RequestedAt, &req.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "backfill: scan request")
		}
		req.Priority = model.Priority(priority)
		req.State = model.BackfillState(st)
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// Depth returns the number of open (queued or processing) requests.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.pool.QueryRow(ctx,
		`SELECT count(*) FROM flowgate.backfill_queue WHERE state IN ('queued', 'processing')`,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "backfill: depth")
	}
	return n, nil
}

// CountFailed returns terminal failures within the lookback window, for the
// monitoring collector.
func (q *Queue) CountFailed(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := q.pool.QueryRow(ctx,
		`SELECT count(*) FROM flowgate.backfill_queue
		 WHERE state = 'failed' AND attempts >= max_attempts AND requested_at >= $1`,
		since,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "backfill: count failed")
	}
	return n, nil
}
