// Package monitoring watches the decision engine's health signals: block
// rate, backfill queue depth, exhausted recovery jobs, and open circuit
// breakers. A background checker evaluates thresholds and raises webhook
// alerts.
package monitoring

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/flowgate/internal/breaker"
	"github.com/sells-group/flowgate/internal/metrics"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Decision metrics (within lookback window).
	BlockRate float64 `json:"block_rate"`

	// Backfill queue.
	QueueDepth        int `json:"queue_depth"`
	ExhaustedBackfill int `json:"exhausted_backfill"`

	// Circuit breakers.
	OpenBreakers     []string `json:"open_breakers"`
	HalfOpenBreakers []string `json:"half_open_breakers"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// AuditStats abstracts the run log queries the collector needs.
type AuditStats interface {
	BlockRate(ctx context.Context, since time.Time) (float64, error)
}

// QueueStats abstracts the backfill queue queries the collector needs.
type QueueStats interface {
	Depth(ctx context.Context) (int, error)
	CountFailed(ctx context.Context, since time.Time) (int, error)
}

// BreakerStats abstracts breaker inspection.
type BreakerStats interface {
	States(ctx context.Context) ([]breaker.Record, error)
}

// Collector gathers metrics from the run log, queue, and breaker store.
type Collector struct {
	audit    AuditStats
	queue    QueueStats
	breakers BreakerStats
}

// NewCollector creates a metrics collector.
func NewCollector(audit AuditStats, queue QueueStats, breakers BreakerStats) *Collector {
	return &Collector{audit: audit, queue: queue, breakers: breakers}
}

// Collect gathers a snapshot over the given lookback window and refreshes
// the Prometheus gauges along the way.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	rate, err := c.audit.BlockRate(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: block rate")
	}
	snap.BlockRate = rate

	depth, err := c.queue.Depth(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: queue depth")
	}
	snap.QueueDepth = depth
	metrics.BackfillQueueDepth.Set(float64(depth))

	exhausted, err := c.queue.CountFailed(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count exhausted backfills")
	}
	snap.ExhaustedBackfill = exhausted

	states, err := c.breakers.States(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: breaker states")
	}
	for _, rec := range states {
		metrics.SetBreakerState(rec.Processor, string(rec.State))
		switch rec.State {
		case breaker.StateOpen:
			snap.OpenBreakers = append(snap.OpenBreakers, rec.Processor)
		case breaker.StateHalfOpen:
			snap.HalfOpenBreakers = append(snap.HalfOpenBreakers, rec.Processor)
		}
	}

	return snap, nil
}

// blockRatePercent formats a rate for alert messages.
func blockRatePercent(rate float64) string {
	return strconv.FormatFloat(rate*100, 'f', 1, 64) + "%"
}
