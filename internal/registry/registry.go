// Package registry holds validated processor descriptors: which upstream
// sources each processor depends on, where it writes, and its gap and
// rolling-window parameters. Descriptors are built once from config and are
// read-only at runtime.
package registry

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/flowgate/internal/config"
	"github.com/sells-group/flowgate/internal/model"
)

// Descriptor describes one processor to the decision engine.
type Descriptor struct {
	Name             string
	OutputTable      string
	OutputDateColumn string
	EntityColumn     string
	ExpectedWindow   int
	GapAutoThreshold int
	GapLookbackDays  int
	GapMinRows       int
	Dependencies     []model.DependencySpec
}

// Registry maps processor names to descriptors.
type Registry struct {
	descriptors map[string]Descriptor
}

// Build constructs a Registry from config, merging per-processor overrides
// onto engine-wide defaults and validating every dependency spec. All
// validation happens here, never at call time.
func Build(engineCfg config.EngineConfig, processors map[string]config.ProcessorConfig) (*Registry, error) {
	r := &Registry{descriptors: make(map[string]Descriptor, len(processors))}

	for name, pc := range processors {
		if name == "" {
			return nil, eris.New("registry: processor name must not be empty")
		}
		if pc.OutputTable == "" {
			return nil, eris.Errorf("registry: processor %s: output_table is required", name)
		}
		if pc.OutputDateColumn == "" {
			return nil, eris.Errorf("registry: processor %s: output_date_column is required", name)
		}

		d := Descriptor{
			Name:             name,
			OutputTable:      pc.OutputTable,
			OutputDateColumn: pc.OutputDateColumn,
			EntityColumn:     pc.EntityColumn,
			ExpectedWindow:   coalesce(pc.ExpectedWindow, engineCfg.ExpectedWindow),
			GapAutoThreshold: coalesce(pc.GapAutoThreshold, engineCfg.GapAutoThreshold),
			GapLookbackDays:  coalesce(pc.GapLookbackDays, engineCfg.GapLookbackDays),
			GapMinRows:       coalesce(pc.GapMinRows, engineCfg.GapMinRows),
		}

		seen := make(map[string]bool, len(pc.Dependencies))
		for _, dc := range pc.Dependencies {
			spec := model.DependencySpec{
				Source:        dc.Source,
				DateField:     dc.DateField,
				EntityField:   dc.EntityField,
				Critical:      dc.Critical,
				StalenessWarn: hoursOr(dc.StalenessWarnHours, engineCfg.StalenessWarnHrs),
				StalenessFail: hoursOr(dc.StalenessFailHours, engineCfg.StalenessFailHrs),
				MinRows:       dc.MinRows,
			}
			if spec.MinRows == 0 {
				spec.MinRows = engineCfg.DependencyMinRows
			}
			if err := spec.Validate(); err != nil {
				return nil, eris.Wrapf(err, "registry: processor %s", name)
			}
			if seen[spec.Source] {
				return nil, eris.Errorf("registry: processor %s: duplicate dependency source %s", name, spec.Source)
			}
			seen[spec.Source] = true
			d.Dependencies = append(d.Dependencies, spec)
		}

		r.descriptors[name] = d
	}

	return r, nil
}

// Get returns the descriptor for a processor, or an error if unregistered.
func (r *Registry) Get(name string) (Descriptor, error) {
	d, ok := r.descriptors[name]
	if !ok {
		return Descriptor{}, eris.Errorf("registry: unknown processor %q", name)
	}
	return d, nil
}

// Names returns the registered processor names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func coalesce(override, fallback int) int {
	if override > 0 {
		return override
	}
	return fallback
}

func hoursOr(override, fallback int) time.Duration {
	if override > 0 {
		return time.Duration(override) * time.Hour
	}
	return time.Duration(fallback) * time.Hour
}
