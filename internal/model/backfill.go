package model

import "time"

// BackfillState is the lifecycle state of a queued recovery job. Transitions
// are monotonic: queued → processing → completed | failed. Terminal states
// are final; a retry creates a fresh attempt on the same row by moving
// failed → queued only through explicit requeue with an attempt budget.
type BackfillState string

const (
	BackfillQueued     BackfillState = "queued"
	BackfillProcessing BackfillState = "processing"
	BackfillCompleted  BackfillState = "completed"
	BackfillFailed     BackfillState = "failed"
)

// BackfillRequest is a queued recovery job for one missing date.
type BackfillRequest struct {
	ID            string        `json:"id"`
	Processor     string        `json:"processor_name"`
	TargetDate    time.Time     `json:"target_date"`
	Priority      Priority      `json:"priority"`
	State         BackfillState `json:"state"`
	Attempts      int           `json:"attempts"`
	MaxAttempts   int           `json:"max_attempts"`
	TriggerReason string        `json:"trigger_reason"`
	LastError     string        `json:"last_error,omitempty"`
	RequestedAt   time.Time     `json:"requested_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// Exhausted reports whether the request has used its full attempt budget.
func (r BackfillRequest) Exhausted() bool {
	return r.Attempts >= r.MaxAttempts
}

// CorrectionEvent announces that historical data for a source was corrected.
// Consumers flag dependent completeness records and emit recomputation work.
type CorrectionEvent struct {
	Source        string    `json:"source_name"`
	CorrectedDate time.Time `json:"corrected_date"`
	OccurredAt    time.Time `json:"occurred_at"`
}
