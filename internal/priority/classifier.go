// Package priority assigns urgency tiers to invocations. The tier orders and
// weights concurrent work only; it never changes a correctness verdict.
package priority

import (
	"time"

	"github.com/sells-group/flowgate/internal/config"
	"github.com/sells-group/flowgate/internal/model"
)

// Classifier maps deadline proximity and change category to a tier.
type Classifier struct {
	criticalHorizon time.Duration
	highHorizon     time.Duration
	lowHorizon      time.Duration
}

// NewClassifier creates a Classifier from config horizons.
func NewClassifier(cfg config.PriorityConfig) *Classifier {
	c := &Classifier{
		criticalHorizon: time.Duration(cfg.CriticalHorizonMins) * time.Minute,
		highHorizon:     time.Duration(cfg.HighHorizonMins) * time.Minute,
		lowHorizon:      time.Duration(cfg.LowHorizonMins) * time.Minute,
	}
	if c.criticalHorizon <= 0 {
		c.criticalHorizon = 2 * time.Hour
	}
	if c.highHorizon <= 0 {
		c.highHorizon = 24 * time.Hour
	}
	if c.lowHorizon <= 0 {
		c.lowHorizon = 7 * 24 * time.Hour
	}
	return c
}

// Classify assigns the tier for one invocation. deadline is the next
// real-world deadline the unit feeds (nil when none is known). Backfill
// units always land in the lowest tier regardless of deadline.
func (c *Classifier) Classify(unit model.ProcessingUnit, kind model.ChangeKind, deadline *time.Time, now time.Time) model.Priority {
	if unit.IsBackfill {
		return model.PriorityBackfill
	}

	if deadline == nil {
		if kind == model.ChangeRoutine {
			return model.PriorityLow
		}
		return model.PriorityNormal
	}

	until := deadline.Sub(now)
	switch {
	case until <= c.criticalHorizon:
		// An urgent change right before the deadline outranks everything.
		if kind == model.ChangeStatusFlip {
			return model.PriorityCritical
		}
		return model.PriorityHigh
	case until <= c.highHorizon:
		return model.PriorityHigh
	case until <= c.lowHorizon:
		return model.PriorityNormal
	default:
		if kind == model.ChangeRoutine {
			return model.PriorityLow
		}
		return model.PriorityNormal
	}
}
