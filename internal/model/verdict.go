package model

import "time"

// Action is the engine's final answer for one invocation.
type Action string

const (
	ActionProceed       Action = "PROCEED"
	ActionSkipUnchanged Action = "SKIP_UNCHANGED"
	ActionDefer         Action = "DEFER"
	ActionBlockMissing  Action = "BLOCK_MISSING"
	ActionBlockStale    Action = "BLOCK_STALE"
	ActionBlockCircuit  Action = "BLOCK_CIRCUIT_OPEN"
)

// Blocks reports whether the action prevents business logic from running.
func (a Action) Blocks() bool {
	return a == ActionBlockMissing || a == ActionBlockStale || a == ActionBlockCircuit
}

// Verdict is the structured result of evaluating one ProcessingUnit,
// including the evidence of which check fired.
type Verdict struct {
	RunID        string                  `json:"run_id"`
	Action       Action                  `json:"action"`
	Reasons      []string                `json:"reasons,omitempty"`
	Dependencies []DependencyCheckResult `json:"dependency_results,omitempty"`
	Completeness *CompletenessRecord     `json:"completeness,omitempty"`
	Priority     Priority                `json:"priority"`
	MissingDates []time.Time             `json:"missing_dates,omitempty"`
	Probe        bool                    `json:"probe,omitempty"`
}

// RunOutcome is reported back by the caller after executing (or skipping)
// the business logic, closing the audit and breaker loop.
type RunOutcome string

const (
	OutcomeSuccess RunOutcome = "success"
	OutcomeFailed  RunOutcome = "failed"
	OutcomeSkipped RunOutcome = "skipped"
)
