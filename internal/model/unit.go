// Package model defines the core types shared by the orchestration engine.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TriggerSource identifies what initiated an invocation.
type TriggerSource string

const (
	TriggerSchedule TriggerSource = "schedule"
	TriggerEvent    TriggerSource = "event"
	TriggerManual   TriggerSource = "manual"
)

// ProcessingUnit is one schedulable invocation: a processor over a date
// range, optionally restricted to a set of entities.
type ProcessingUnit struct {
	Processor  string        `json:"processor_name"`
	Start      time.Time     `json:"start_date"`
	End        time.Time     `json:"end_date"`
	EntityIDs  []string      `json:"entity_ids,omitempty"`
	IsBackfill bool          `json:"is_backfill"`
	Trigger    TriggerSource `json:"trigger_source"`
}

// ScopeKey returns a stable key identifying the unit's scope, used for
// signature lookups and audit rows. Entity order is not significant to the
// caller, so the ids are sorted before they enter the key. Large sets fold
// into a digest of the sorted ids: the key stays bounded but still changes
// whenever the set does.
func (u ProcessingUnit) ScopeKey() string {
	base := fmt.Sprintf("%s:%s:%s", u.Processor, u.Start.Format("2006-01-02"), u.End.Format("2006-01-02"))
	if len(u.EntityIDs) == 0 {
		return base
	}
	ids := make([]string, len(u.EntityIDs))
	copy(ids, u.EntityIDs)
	sort.Strings(ids)
	if len(ids) <= 5 {
		return base + ":" + strings.Join(ids, ":")
	}
	sum := sha256.Sum256([]byte(strings.Join(ids, "\x00")))
	return fmt.Sprintf("%s:entities=%s", base, hex.EncodeToString(sum[:8]))
}

// Validate checks the unit is well-formed before evaluation.
func (u ProcessingUnit) Validate() error {
	if u.Processor == "" {
		return fmt.Errorf("processing unit: processor name is required")
	}
	if u.Start.IsZero() || u.End.IsZero() {
		return fmt.Errorf("processing unit: start and end dates are required")
	}
	if u.End.Before(u.Start) {
		return fmt.Errorf("processing unit: end date %s before start date %s",
			u.End.Format("2006-01-02"), u.Start.Format("2006-01-02"))
	}
	return nil
}
