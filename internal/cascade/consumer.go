// Package cascade reacts to upstream data corrections: when history for
// date D is rewritten, every completeness record whose window contributed D
// is flagged stale and recomputation work is queued.
package cascade

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/flowgate/internal/metrics"
	"github.com/sells-group/flowgate/internal/model"
)

// StreamName is the JetStream stream carrying correction events.
const StreamName = "FLOWGATE_CORRECTIONS"

// Flagger is the completeness slice the consumer needs.
type Flagger interface {
	FlagStaleForDate(ctx context.Context, corrected time.Time) (int64, error)
	ListStale(ctx context.Context, limit int) ([]model.CompletenessRecord, error)
}

// Enqueuer queues recomputation work.
type Enqueuer interface {
	Enqueue(ctx context.Context, processor string, targetDate time.Time, priority model.Priority, reason string) (model.BackfillRequest, bool, error)
}

// Consumer applies correction events.
type Consumer struct {
	flagger Flagger
	queue   Enqueuer
}

// NewConsumer creates a Consumer.
func NewConsumer(flagger Flagger, queue Enqueuer) *Consumer {
	return &Consumer{flagger: flagger, queue: queue}
}

// HandleCorrection processes one correction event. Returning an error naks
// the message for redelivery; flagging must not be lost.
func (c *Consumer) HandleCorrection(ctx context.Context, data []byte) error {
	var ev model.CorrectionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		zap.L().Error("dropping malformed correction event",
			zap.String("component", "cascade"),
			zap.Error(err),
		)
		return nil
	}
	if ev.Source == "" || ev.CorrectedDate.IsZero() {
		zap.L().Error("dropping incomplete correction event",
			zap.String("component", "cascade"),
			zap.String("source", ev.Source),
		)
		return nil
	}

	log := zap.L().With(
		zap.String("component", "cascade"),
		zap.String("source", ev.Source),
		zap.String("corrected_date", ev.CorrectedDate.Format("2006-01-02")),
	)

	flagged, err := c.flagger.FlagStaleForDate(ctx, ev.CorrectedDate)
	if err != nil {
		return eris.Wrap(err, "cascade: flag stale records")
	}
	if flagged == 0 {
		log.Info("correction touched no completeness records")
		metrics.CorrectionsProcessed.Inc()
		return nil
	}
	log.Info("correction invalidated completeness records", zap.Int64("flagged", flagged))

	// Queue recomputation for every stale record. The queue deduplicates
	// open requests per (processor, date), so records flagged by earlier
	// corrections cost nothing to re-enqueue.
	stale, err := c.flagger.ListStale(ctx, 0)
	if err != nil {
		return eris.Wrap(err, "cascade: list stale records")
	}
	reason := fmt.Sprintf("correction of %s data for %s", ev.Source, ev.CorrectedDate.Format("2006-01-02"))
	for _, rec := range stale {
		if _, _, err := c.queue.Enqueue(ctx, rec.Processor, rec.AsOfDate, model.PriorityNormal, reason); err != nil {
			return eris.Wrapf(err, "cascade: enqueue recomputation for %s", rec.Processor)
		}
	}

	metrics.CorrectionsProcessed.Inc()
	return nil
}

// Sender is the transport slice used to emit correction events.
type Sender interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Publish serializes a correction event for the stream. The CLI and upstream
// loaders use this to announce rewrites.
func Publish(ctx context.Context, sender Sender, prefix string, ev model.CorrectionEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "cascade: marshal correction event")
	}
	return sender.Publish(ctx, prefix+"."+ev.Source, data)
}
