// Package breaker implements per-processor circuit breakers with durable
// state, so every engine replica sees the same trip decisions. The state
// machine is closed → open → half-open: consecutive failures trip the
// breaker, a cool-down gates a single half-open probe, and the probe's
// outcome either closes or reopens the circuit.
package breaker

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State is a circuit state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Record is the durable state of one processor's breaker.
type Record struct {
	Processor            string     `json:"processor"`
	State                State      `json:"state"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	LastFailureAt        *time.Time `json:"last_failure_at,omitempty"`
	LastProbeAt          *time.Time `json:"last_probe_at,omitempty"`
}

// StateStore persists breaker records. Mutations must be atomic so racing
// replicas converge on one state.
type StateStore interface {
	// Get loads one record; an unknown processor returns a closed zero record.
	Get(ctx context.Context, processor string) (Record, error)
	// IncrementFailure bumps the failure streak, clears the success streak,
	// stamps the failure time, and returns the updated record.
	IncrementFailure(ctx context.Context, processor string) (Record, error)
	// SetState transitions the record to the given state, resetting streaks
	// when it closes.
	SetState(ctx context.Context, processor string, state State) error
	// ClaimProbe atomically moves an open record to half-open when the
	// cool-down has elapsed, or re-claims a half-open probe whose claimant
	// has not reported for a full cool-down. Exactly one claimant wins.
	ClaimProbe(ctx context.Context, processor string, cooldown time.Duration) (bool, error)
	// All returns every known record.
	All(ctx context.Context) ([]Record, error)
}

// Decision is the outcome of asking whether a processor may run.
type Decision struct {
	Allowed bool
	State   State
	// Probe marks the single allowed half-open trial.
	Probe bool
	// RetryAfter hints when an open circuit is worth retrying.
	RetryAfter time.Duration
}

// Breaker evaluates and mutates circuit state for all processors.
type Breaker struct {
	store     StateStore
	threshold int
	cooldown  time.Duration

	// loadGroup collapses concurrent state reads for the same processor
	// into one store hit.
	loadGroup singleflight.Group

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a Breaker. threshold is the consecutive-failure trip point,
// cooldown the open-state wait before a probe.
func New(store StateStore, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 10 * time.Minute
	}
	return &Breaker{store: store, threshold: threshold, cooldown: cooldown, nowFunc: time.Now}
}

// Allow decides whether the processor may run now. A store read failure
// denies (fail closed): guessing at an unknown circuit defeats its purpose.
func (b *Breaker) Allow(ctx context.Context, processor string) (Decision, error) {
	loaded, err, _ := b.loadGroup.Do(processor, func() (interface{}, error) {
		return b.store.Get(ctx, processor)
	})
	if err != nil {
		return Decision{State: StateOpen}, eris.Wrapf(err, "breaker: load state for %s", processor)
	}
	rec := loaded.(Record)

	switch rec.State {
	case StateClosed, "":
		return Decision{Allowed: true, State: StateClosed}, nil

	case StateHalfOpen:
		// A probe is in flight. If its claimant never reported back, the
		// claim expires after a full cool-down and the next caller takes over.
		if rec.LastProbeAt != nil {
			if elapsed := b.nowFunc().Sub(*rec.LastProbeAt); elapsed < b.cooldown {
				return Decision{State: StateHalfOpen, RetryAfter: b.cooldown - elapsed}, nil
			}
		}
		return b.tryProbe(ctx, processor, StateHalfOpen)

	case StateOpen:
		if rec.LastFailureAt != nil {
			elapsed := b.nowFunc().Sub(*rec.LastFailureAt)
			if elapsed < b.cooldown {
				return Decision{State: StateOpen, RetryAfter: b.cooldown - elapsed}, nil
			}
		}
		return b.tryProbe(ctx, processor, StateOpen)

	default:
		return Decision{State: rec.State}, eris.Errorf("breaker: unknown state %q for %s", rec.State, processor)
	}
}

// tryProbe claims the single half-open trial. The claim is exclusive in the
// store, so at most one caller (across all replicas) wins the probe.
func (b *Breaker) tryProbe(ctx context.Context, processor string, prev State) (Decision, error) {
	claimed, err := b.store.ClaimProbe(ctx, processor, b.cooldown)
	if err != nil {
		return Decision{State: prev}, eris.Wrapf(err, "breaker: claim probe for %s", processor)
	}
	if claimed {
		zap.L().Info("circuit half-open, granting probe",
			zap.String("component", "breaker"),
			zap.String("processor", processor),
		)
		return Decision{Allowed: true, State: StateHalfOpen, Probe: true}, nil
	}
	return Decision{State: prev, RetryAfter: b.cooldown}, nil
}

// RecordSuccess notes a successful run. A half-open success closes the
// circuit.
func (b *Breaker) RecordSuccess(ctx context.Context, processor string) error {
	rec, err := b.store.Get(ctx, processor)
	if err != nil {
		return eris.Wrapf(err, "breaker: load state for %s", processor)
	}

	if rec.State == StateHalfOpen || rec.State == StateOpen {
		zap.L().Info("circuit closed after successful probe",
			zap.String("component", "breaker"),
			zap.String("processor", processor),
		)
	}
	return b.store.SetState(ctx, processor, StateClosed)
}

// RecordFailure notes a failed run. Trips the circuit at the threshold; any
// half-open failure reopens immediately.
func (b *Breaker) RecordFailure(ctx context.Context, processor string) error {
	rec, err := b.store.IncrementFailure(ctx, processor)
	if err != nil {
		return eris.Wrapf(err, "breaker: record failure for %s", processor)
	}

	if rec.State == StateHalfOpen || (rec.State != StateOpen && rec.ConsecutiveFailures >= b.threshold) {
		if err := b.store.SetState(ctx, processor, StateOpen); err != nil {
			return eris.Wrapf(err, "breaker: open circuit for %s", processor)
		}
		zap.L().Warn("circuit opened",
			zap.String("component", "breaker"),
			zap.String("processor", processor),
			zap.Int("consecutive_failures", rec.ConsecutiveFailures),
		)
	}
	return nil
}

// ForceReset closes the circuit by operator action.
func (b *Breaker) ForceReset(ctx context.Context, processor string) error {
	if err := b.store.SetState(ctx, processor, StateClosed); err != nil {
		return eris.Wrapf(err, "breaker: force reset %s", processor)
	}
	zap.L().Info("circuit force-reset",
		zap.String("component", "breaker"),
		zap.String("processor", processor),
	)
	return nil
}

// States returns a snapshot of every known breaker.
func (b *Breaker) States(ctx context.Context) ([]Record, error) {
	recs, err := b.store.All(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "breaker: list states")
	}
	return recs, nil
}
