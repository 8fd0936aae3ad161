package model

import (
	"fmt"
	"time"
)

// DepStatus classifies the health of one upstream dependency.
type DepStatus string

const (
	DepOK        DepStatus = "ok"
	DepMissing   DepStatus = "missing"
	DepStaleWarn DepStatus = "stale_warn"
	DepStaleFail DepStatus = "stale_fail"
)

// DependencySpec declares one upstream requirement of a processor. Specs are
// static per processor and validated at registration time.
type DependencySpec struct {
	Source    string `json:"source_name" yaml:"source" mapstructure:"source"`
	DateField string `json:"date_field" yaml:"date_field" mapstructure:"date_field"`
	// EntityField, when set, restricts checks to the unit's entities so an
	// entity-scoped unit sees its own slice of the upstream, not the whole
	// table's aggregates.
	EntityField   string        `json:"entity_field,omitempty" yaml:"entity_field" mapstructure:"entity_field"`
	Critical      bool          `json:"critical" yaml:"critical" mapstructure:"critical"`
	StalenessWarn time.Duration `json:"staleness_warn" yaml:"staleness_warn" mapstructure:"staleness_warn"`
	StalenessFail time.Duration `json:"staleness_fail" yaml:"staleness_fail" mapstructure:"staleness_fail"`
	MinRows       int64         `json:"min_rows" yaml:"min_rows" mapstructure:"min_rows"`
}

// Validate checks spec consistency. Called once at registration, never per
// invocation.
func (s DependencySpec) Validate() error {
	if s.Source == "" {
		return fmt.Errorf("dependency spec: source name is required")
	}
	if s.DateField == "" {
		return fmt.Errorf("dependency spec %s: date field is required", s.Source)
	}
	if s.MinRows < 0 {
		return fmt.Errorf("dependency spec %s: min_rows must be >= 0", s.Source)
	}
	if s.StalenessWarn > 0 && s.StalenessFail > 0 && s.StalenessWarn >= s.StalenessFail {
		return fmt.Errorf("dependency spec %s: staleness_warn %s must be below staleness_fail %s",
			s.Source, s.StalenessWarn, s.StalenessFail)
	}
	return nil
}

// DependencyCheckResult is the outcome of evaluating one DependencySpec for
// one ProcessingUnit. Computed fresh each invocation.
type DependencyCheckResult struct {
	Source   string        `json:"source_name"`
	Status   DepStatus     `json:"status"`
	RowCount int64         `json:"row_count"`
	DataAge  time.Duration `json:"data_age"`
	LatestAt *time.Time    `json:"latest_at,omitempty"`
	Ref      string        `json:"source_of_truth_ref,omitempty"`
	Detail   string        `json:"detail,omitempty"`
}

// Blocking reports whether this result forces a BLOCK verdict when the
// underlying spec is critical.
func (r DependencyCheckResult) Blocking() bool {
	return r.Status == DepMissing || r.Status == DepStaleFail
}
