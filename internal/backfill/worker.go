package backfill

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/flowgate/internal/model"
)

// Runner executes one recovery job: re-run the processor for the target
// date. Implementations live with the host; the worker only manages state
// transitions and pacing.
type Runner interface {
	RunBackfill(ctx context.Context, req model.BackfillRequest) error
}

// Worker drains the backfill queue. Signals arrive over JetStream; a
// periodic sweep catches rows whose signal was lost. Execution is paced with
// a rate limiter so recovery work never starves live traffic.
type Worker struct {
	queue   *Queue
	runner  Runner
	limiter *rate.Limiter

	sweepInterval time.Duration
}

// NewWorker creates a Worker. ratePerSec bounds job starts per second.
func NewWorker(queue *Queue, runner Runner, ratePerSec float64, burst int) *Worker {
	if ratePerSec <= 0 {
		ratePerSec = 2
	}
	if burst <= 0 {
		burst = 1
	}
	return &Worker{
		queue:         queue,
		runner:        runner,
		limiter:       rate.NewLimiter(rate.Limit(ratePerSec), burst),
		sweepInterval: time.Minute,
	}
}

// HandleSignal processes one JetStream message carrying a BackfillRequest.
// Returning an error naks the message for redelivery.
func (w *Worker) HandleSignal(ctx context.Context, data []byte) error {
	var req model.BackfillRequest
	if err := json.Unmarshal(data, &req); err != nil {
		// Unparseable payloads would redeliver forever. Ack and move on.
		zap.L().Error("dropping malformed backfill signal",
			zap.String("component", "backfill"),
			zap.Error(err),
		)
		return nil
	}
	return w.process(ctx, req.ID)
}

// Sweep runs until the context is cancelled, periodically draining queued
// rows. This is the recovery path for lost signals and the only path when no
// broker is configured.
func (w *Worker) Sweep(ctx context.Context) error {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drainQueued(ctx); err != nil {
				zap.L().Warn("backfill sweep failed",
					zap.String("component", "backfill"),
					zap.Error(err),
				)
			}
		}
	}
}

func (w *Worker) drainQueued(ctx context.Context) error {
	reqs, err := w.queue.List(ctx, model.BackfillQueued, 100)
	if err != nil {
		return err
	}
	for _, req := range reqs {
		if err := w.process(ctx, req.ID); err != nil {
			if eris.Is(err, context.Canceled) || eris.Is(err, context.DeadlineExceeded) {
				return err
			}
			// Per-job failures are recorded on the row; keep draining.
		}
	}
	return nil
}

// process claims and executes one request end to end.
func (w *Worker) process(ctx context.Context, id string) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "backfill: limiter wait")
	}

	claimed, err := w.queue.Claim(ctx, id)
	if err != nil {
		return err
	}
	if !claimed {
		// Another worker got it, or the row already reached a terminal state.
		return nil
	}

	req, err := w.queue.Get(ctx, id)
	if err != nil {
		return err
	}

	log := zap.L().With(
		zap.String("component", "backfill"),
		zap.String("id", req.ID),
		zap.String("processor", req.Processor),
		zap.String("target_date", req.TargetDate.Format("2006-01-02")),
		zap.Int("attempt", req.Attempts),
	)
	log.Info("running backfill")

	runErr := w.runner.RunBackfill(ctx, req)
	if runErr == nil {
		if err := w.queue.Complete(ctx, id); err != nil {
			return err
		}
		log.Info("backfill completed")
		return nil
	}

	if err := w.queue.Fail(ctx, id, runErr.Error()); err != nil {
		return err
	}

	requeued, err := w.queue.Requeue(ctx, id)
	if err != nil {
		return err
	}
	if requeued {
		log.Warn("backfill failed, requeued", zap.Error(runErr))
		return nil
	}

	// Attempt budget exhausted. The row stays failed for the monitoring
	// checker to alert on.
	log.Error("backfill exhausted attempt budget", zap.Error(runErr))
	return nil
}
