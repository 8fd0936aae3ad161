package model

import "time"

// CompletenessRecord captures historical-window sufficiency for one rolling
// computation. Written once per (entity, as_of_date) by the computing
// processor; consumed by cascade detection when historical data is
// corrected.
type CompletenessRecord struct {
	Processor         string      `json:"processor_name"`
	EntityID          string      `json:"entity_id"`
	AsOfDate          time.Time   `json:"as_of_date"`
	PointsFound       int         `json:"points_found"`
	PointsExpected    int         `json:"points_expected"`
	IsComplete        bool        `json:"is_complete"`
	IsBootstrap       bool        `json:"is_bootstrap"`
	ContributingDates []time.Time `json:"contributing_dates"`
	Stale             bool        `json:"stale"`
}

// ContentSignature fingerprints a source's contribution to a unit of work.
// Signatures are derived, advisory state: last-writer-wins on races.
type ContentSignature struct {
	Source     string    `json:"source_name"`
	ScopeKey   string    `json:"scope_key"`
	Value      string    `json:"signature_value"`
	ComputedAt time.Time `json:"computed_at"`
}
