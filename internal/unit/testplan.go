package unit

import (
	"fmt"

	"github.com/canonical/checkbox-sub003/internal/jobid"
)

// TestPlan selects and orders a working subset of the catalog for one
// session. Patterns are anchored regular expressions over fully
// qualified job ids.
type TestPlan struct {
	ID      jobid.ID
	Summary string

	// Bootstrap patterns select jobs, typically resource producers,
	// that always run before everything else.
	Bootstrap []string
	// Include patterns select the jobs to run. Their order is
	// meaningful: it imposes ordering groups on the resolved schedule.
	Include []string
	// Exclude patterns remove jobs; exclusion wins over inclusion.
	Exclude []string
}

// TestPlanSpec is the raw form of a test plan from catalog definitions.
type TestPlanSpec struct {
	ID        string
	Summary   string
	Bootstrap []string
	Include   []string
	Exclude   []string
}

// NewTestPlan validates a TestPlanSpec.
func NewTestPlan(spec TestPlanSpec, implicitNamespace string) (*TestPlan, error) {
	id, err := jobid.Parse(spec.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid test plan id: %w", err)
	}
	if len(spec.Include) == 0 && len(spec.Bootstrap) == 0 {
		return nil, fmt.Errorf("test plan %s selects nothing", spec.ID)
	}
	return &TestPlan{
		ID:        id.Resolve(implicitNamespace),
		Summary:   spec.Summary,
		Bootstrap: spec.Bootstrap,
		Include:   spec.Include,
		Exclude:   spec.Exclude,
	}, nil
}
