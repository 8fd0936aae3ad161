package breaker

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/flowgate/internal/db"
)

// PostgresStore persists breaker records in flowgate.breaker_state. All
// mutations are single atomic statements so concurrent replicas serialize on
// the row.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, processor string) (Record, error) {
	rec := Record{Processor: processor, State: StateClosed}
	var state string
	err := s.pool.QueryRow(ctx,
		`SELECT state, consecutive_failures, consecutive_successes, last_failure_at, last_probe_at
		 FROM flowgate.breaker_state WHERE processor = $1`,
		processor,
	).Scan(&state, &rec.ConsecutiveFailures, &rec.ConsecutiveSuccesses, &rec.LastFailureAt, &rec.LastProbeAt)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return rec, nil
		}
		return rec, eris.Wrapf(err, "breaker: get %s", processor)
	}
	rec.State = State(state)
	return rec, nil
}

func (s *PostgresStore) IncrementFailure(ctx context.Context, processor string) (Record, error) {
	rec := Record{Processor: processor}
	var state string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO flowgate.breaker_state (processor, state, consecutive_failures, consecutive_successes, last_failure_at, updated_at)
		 VALUES ($1, 'closed', 1, 0, now(), now())
		 ON CONFLICT (processor) DO UPDATE SET
		   consecutive_failures = breaker_state.consecutive_failures + 1,
		   consecutive_successes = 0,
		   last_failure_at = now(),
		   updated_at = now()
		 RETURNING state, consecutive_failures, consecutive_successes, last_failure_at, last_probe_at`,
		processor,
	).Scan(&state, &rec.ConsecutiveFailures, &rec.ConsecutiveSuccesses, &rec.LastFailureAt, &rec.LastProbeAt)
	if err != nil {
		return rec, eris.Wrapf(err, "breaker: increment failure %s", processor)
	}
	rec.State = State(state)
	return rec, nil
}

func (s *PostgresStore) SetState(ctx context.Context, processor string, state State) error {
	var sql string
	if state == StateClosed {
		sql = `INSERT INTO flowgate.breaker_state (processor, state, consecutive_failures, consecutive_successes, updated_at)
		       VALUES ($1, $2, 0, 0, now())
		       ON CONFLICT (processor) DO UPDATE SET
		         state = $2, consecutive_failures = 0, consecutive_successes = 0, updated_at = now()`
	} else {
		sql = `INSERT INTO flowgate.breaker_state (processor, state, updated_at)
		       VALUES ($1, $2, now())
		       ON CONFLICT (processor) DO UPDATE SET state = $2, updated_at = now()`
	}
	if _, err := s.pool.Exec(ctx, sql, processor, string(state)); err != nil {
		return eris.Wrapf(err, "breaker: set state %s=%s", processor, state)
	}
	return nil
}

// ClaimProbe transitions open → half-open only when the cool-down elapsed
// and no other probe was claimed inside it. A half-open row also qualifies
// once its probe is a full cool-down old: the claimant never reported, and
// the circuit must not stay half-open forever. The WHERE clause makes the
// claim exclusive across replicas.
func (s *PostgresStore) ClaimProbe(ctx context.Context, processor string, cooldown time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE flowgate.breaker_state
		 SET state = 'half_open', last_probe_at = now(), updated_at = now()
		 WHERE processor = $1 AND state IN ('open', 'half_open')
		   AND (last_failure_at IS NULL OR last_failure_at <= now() - $2::interval)
		   AND (last_probe_at IS NULL OR last_probe_at <= now() - $2::interval)`,
		processor, cooldown.String(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "breaker: claim probe %s", processor)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) All(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT processor, state, consecutive_failures, consecutive_successes, last_failure_at, last_probe_at
		 FROM flowgate.breaker_state ORDER BY processor`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "breaker: list")
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		var state string
		if err := rows.Scan(&rec.Processor, &state, &rec.ConsecutiveFailures,
			&rec.ConsecutiveSuccesses, &rec.LastFailureAt, &rec.LastProbeAt); err != nil {
			return nil, eris.Wrap(err, "breaker: scan record")
		}
		rec.State = State(state)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
