package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestProcessingUnit_Validate(t *testing.T) {
	tests := []struct {
		name    string
		unit    ProcessingUnit
		wantErr bool
	}{
		{
			name: "valid",
			unit: ProcessingUnit{Processor: "player_summary", Start: date("2024-11-01"), End: date("2024-11-14")},
		},
		{
			name:    "missing processor",
			unit:    ProcessingUnit{Start: date("2024-11-01"), End: date("2024-11-14")},
			wantErr: true,
		},
		{
			name:    "zero dates",
			unit:    ProcessingUnit{Processor: "player_summary"},
			wantErr: true,
		},
		{
			name:    "end before start",
			unit:    ProcessingUnit{Processor: "player_summary", Start: date("2024-11-14"), End: date("2024-11-01")},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.unit.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProcessingUnit_ScopeKey(t *testing.T) {
	u := ProcessingUnit{Processor: "player_summary", Start: date("2024-11-01"), End: date("2024-11-14")}
	assert.Equal(t, "player_summary:2024-11-01:2024-11-14", u.ScopeKey())

	u.EntityIDs = []string{"p2", "p1"}
	assert.Equal(t, "player_summary:2024-11-01:2024-11-14:p1:p2", u.ScopeKey(),
		"entity order never changes the key")

	u.EntityIDs = []string{"a", "b", "c", "d", "e", "f"}
	large := u.ScopeKey()

	reordered := u
	reordered.EntityIDs = []string{"f", "e", "d", "c", "b", "a"}
	assert.Equal(t, large, reordered.ScopeKey())

	disjoint := u
	disjoint.EntityIDs = []string{"u", "v", "w", "x", "y", "z"}
	assert.NotEqual(t, large, disjoint.ScopeKey(),
		"same-size entity sets must not collide")
}

func TestDependencySpec_Validate(t *testing.T) {
	valid := DependencySpec{
		Source:        "raw_events",
		DateField:     "event_date",
		Critical:      true,
		StalenessWarn: 6 * time.Hour,
		StalenessFail: 24 * time.Hour,
		MinRows:       1,
	}
	assert.NoError(t, valid.Validate())

	noSource := valid
	noSource.Source = ""
	assert.Error(t, noSource.Validate())

	noField := valid
	noField.DateField = ""
	assert.Error(t, noField.Validate())

	inverted := valid
	inverted.StalenessWarn = 48 * time.Hour
	assert.Error(t, inverted.Validate())

	negRows := valid
	negRows.MinRows = -1
	assert.Error(t, negRows.Validate())
}

func TestAction_Blocks(t *testing.T) {
	assert.True(t, ActionBlockMissing.Blocks())
	assert.True(t, ActionBlockStale.Blocks())
	assert.True(t, ActionBlockCircuit.Blocks())
	assert.False(t, ActionProceed.Blocks())
	assert.False(t, ActionSkipUnchanged.Blocks())
	assert.False(t, ActionDefer.Blocks())
}

func TestPriority_Weight(t *testing.T) {
	assert.Greater(t, PriorityCritical.Weight(), PriorityHigh.Weight())
	assert.Greater(t, PriorityHigh.Weight(), PriorityNormal.Weight())
	assert.Greater(t, PriorityNormal.Weight(), PriorityLow.Weight())
	assert.Greater(t, PriorityLow.Weight(), PriorityBackfill.Weight())
}

func TestBackfillRequest_Exhausted(t *testing.T) {
	r := BackfillRequest{Attempts: 2, MaxAttempts: 3}
	assert.False(t, r.Exhausted())
	r.Attempts = 3
	assert.True(t, r.Exhausted())
}
