package model

// Priority orders concurrent work. It never changes correctness verdicts.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
	PriorityBackfill Priority = "backfill"
)

// Weight returns a numeric ordering for schedulers (higher runs first).
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 40
	case PriorityHigh:
		return 30
	case PriorityNormal:
		return 20
	case PriorityLow:
		return 10
	case PriorityBackfill:
		return 0
	default:
		return 20
	}
}

// ChangeKind categorizes what kind of upstream change triggered an
// invocation, used by the priority classifier.
type ChangeKind string

const (
	ChangeStatusFlip ChangeKind = "status_flip"
	ChangeRoutine    ChangeKind = "routine"
	ChangeCorrection ChangeKind = "correction"
)
