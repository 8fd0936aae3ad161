package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/flowgate/internal/backfill"
	"github.com/sells-group/flowgate/internal/cascade"
	"github.com/sells-group/flowgate/internal/engine"
	"github.com/sells-group/flowgate/internal/metrics"
	"github.com/sells-group/flowgate/internal/model"
	"github.com/sells-group/flowgate/internal/monitoring"
	"github.com/sells-group/flowgate/internal/resilience"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the backfill worker, correction consumer, and alert checker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Backfill.RunnerURL == "" {
			return eris.New("backfill.runner_url is required for the worker")
		}

		env, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.conn.EnsureStream(ctx, cascade.StreamName, cfg.NATS.CorrectionPref); err != nil {
			return err
		}

		runner := &dispatchRunner{
			engine: env.engine,
			stale:  env.tracker,
			url:    cfg.Backfill.RunnerURL,
			client: &http.Client{Timeout: 30 * time.Second},
		}
		worker := backfill.NewWorker(env.queue, runner, cfg.Backfill.WorkerRate, cfg.Backfill.WorkerBurst)

		if err := env.conn.Consume(ctx, cfg.NATS.BackfillStream, cfg.NATS.Durable,
			"flowgate.backfill.>", worker.HandleSignal); err != nil {
			return err
		}

		corrections := cascade.NewConsumer(env.tracker, env.queue)
		if err := env.conn.Consume(ctx, cascade.StreamName, cfg.NATS.Durable+"-corrections",
			cfg.NATS.CorrectionPref+".>", corrections.HandleCorrection); err != nil {
			return err
		}

		collector := monitoring.NewCollector(env.runlog, env.queue, env.breaker)
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return worker.Sweep(gctx)
		})
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})

		zap.L().Info("worker started",
			zap.String("backfill_stream", cfg.NATS.BackfillStream),
			zap.Float64("rate", cfg.Backfill.WorkerRate),
		)

		err = g.Wait()
		if err != nil && !eris.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// verdictSource is the engine slice the runner consumes.
type verdictSource interface {
	Evaluate(ctx context.Context, req engine.Request) (model.Verdict, error)
}

// staleLookup resolves which entities a recovery run must recompute.
type staleLookup interface {
	StaleEntities(ctx context.Context, processor string, asOf time.Time) ([]string, error)
}

// dispatchRunner executes one recovery job: it re-evaluates the unit with
// is_backfill=true and hands a PROCEED verdict to the execution layer's
// webhook. Any blocking verdict is an error so the attempt budget applies.
type dispatchRunner struct {
	engine verdictSource
	stale  staleLookup
	url    string
	client *http.Client
}

func (r *dispatchRunner) RunBackfill(ctx context.Context, req model.BackfillRequest) error {
	unit := model.ProcessingUnit{
		Processor:  req.Processor,
		Start:      req.TargetDate,
		End:        req.TargetDate,
		IsBackfill: true,
		Trigger:    model.TriggerEvent,
	}

	// A correction-driven recovery must recompute the flagged entities so
	// their stale marks clear. Gap recoveries usually have none flagged and
	// run unscoped.
	entities, err := r.stale.StaleEntities(ctx, req.Processor, req.TargetDate)
	if err != nil {
		zap.L().Warn("stale entity lookup failed, running unscoped",
			zap.String("component", "worker"),
			zap.String("processor", req.Processor),
			zap.Error(err),
		)
	}
	unit.EntityIDs = entities

	verdict, err := r.engine.Evaluate(ctx, engine.Request{Unit: unit})
	if err != nil {
		metrics.BackfillRuns.WithLabelValues(req.Processor, "failed").Inc()
		return err
	}
	if verdict.Action != model.ActionProceed {
		metrics.BackfillRuns.WithLabelValues(req.Processor, "blocked").Inc()
		return eris.Errorf("recovery unit blocked: %s", verdict.Action)
	}

	if err := r.dispatch(ctx, unit, verdict); err != nil {
		metrics.BackfillRuns.WithLabelValues(req.Processor, "failed").Inc()
		return err
	}
	metrics.BackfillRuns.WithLabelValues(req.Processor, "dispatched").Inc()
	return nil
}

func (r *dispatchRunner) dispatch(ctx context.Context, unit model.ProcessingUnit, verdict model.Verdict) error {
	payload, err := json.Marshal(struct {
		Unit    model.ProcessingUnit `json:"unit"`
		Verdict model.Verdict        `json:"verdict"`
	}{unit, verdict})
	if err != nil {
		return eris.Wrap(err, "marshal dispatch payload")
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("runner", "dispatch")
	return resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "create dispatch request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "dispatch request"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(
				eris.Errorf("runner returned status %d", resp.StatusCode), resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return eris.Errorf("runner returned status %d", resp.StatusCode)
		}
		return nil
	})
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
