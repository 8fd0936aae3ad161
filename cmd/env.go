package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/flowgate/internal/backfill"
	"github.com/sells-group/flowgate/internal/breaker"
	"github.com/sells-group/flowgate/internal/completeness"
	"github.com/sells-group/flowgate/internal/depcheck"
	"github.com/sells-group/flowgate/internal/engine"
	"github.com/sells-group/flowgate/internal/gaps"
	"github.com/sells-group/flowgate/internal/priority"
	"github.com/sells-group/flowgate/internal/registry"
	"github.com/sells-group/flowgate/internal/schedule"
	"github.com/sells-group/flowgate/internal/signature"
	"github.com/sells-group/flowgate/internal/store"
	"github.com/sells-group/flowgate/internal/stream"
)

// appEnv holds the wired components shared by commands.
type appEnv struct {
	pool     *pgxpool.Pool
	conn     *stream.Conn
	registry *registry.Registry
	queue    *backfill.Queue
	breaker  *breaker.Breaker
	tracker  *completeness.Tracker
	runlog   *engine.RunLog
	engine   *engine.Engine
}

// initEnv wires the full decision stack. withStream controls whether a NATS
// connection is established; commands that only read Postgres skip it, and
// enqueues then rely on the worker's sweep.
func initEnv(ctx context.Context, withStream bool) (*appEnv, error) {
	pool, err := store.NewPool(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Build(cfg.Engine, cfg.Processors)
	if err != nil {
		pool.Close()
		return nil, err
	}

	env := &appEnv{pool: pool, registry: reg}

	var publisher backfill.Publisher
	if withStream {
		conn, err := stream.Connect(cfg.NATS)
		if err != nil {
			pool.Close()
			return nil, eris.Wrap(err, "connect stream")
		}
		if err := conn.EnsureStream(ctx, cfg.NATS.BackfillStream, "flowgate.backfill"); err != nil {
			conn.Close()
			pool.Close()
			return nil, err
		}
		env.conn = conn
		publisher = backfill.NewStreamPublisher(conn)
	}

	timeout := cfg.Engine.CheckTimeout()

	env.queue = backfill.NewQueue(pool, publisher, cfg.Backfill.MaxAttempts)
	env.breaker = breaker.New(breaker.NewPostgresStore(pool), cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown())
	env.tracker = completeness.NewTracker(pool, timeout)
	env.runlog = engine.NewRunLog(pool)

	env.engine = engine.New(
		reg,
		env.breaker,
		gaps.NewDetector(pool, schedule.NewCalendarOracle(pool), timeout),
		depcheck.NewResolver(pool, timeout),
		signature.NewStore(pool, timeout),
		env.tracker,
		priority.NewClassifier(cfg.Priority),
		env.queue,
		env.runlog,
	)
	return env, nil
}

// Close releases the environment's connections.
func (e *appEnv) Close() {
	if e.conn != nil {
		e.conn.Close()
	}
	e.pool.Close()
}
