// Package selection applies a test plan to the job catalog, choosing the
// working subset for one session and the coarse ordering the plan's
// include patterns impose.
package selection

import (
	"fmt"
	"regexp"

	"github.com/hashicorp/go-multierror"

	"github.com/canonical/checkbox-sub003/internal/unit"
)

// Selection is a compiled test plan ready to match job ids.
type Selection struct {
	plan      *unit.TestPlan
	bootstrap []*regexp.Regexp
	include   []*regexp.Regexp
	exclude   []*regexp.Regexp
}

// Compile anchors and compiles every pattern of the plan. All broken
// patterns are reported together.
func Compile(plan *unit.TestPlan) (*Selection, error) {
	s := &Selection{plan: plan}
	var errs *multierror.Error

	compile := func(patterns []string, field string) []*regexp.Regexp {
		out := make([]*regexp.Regexp, 0, len(patterns))
		for _, pattern := range patterns {
			re, err := regexp.Compile("^(?:" + pattern + ")$")
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("test plan %s: %s pattern %q: %w",
					plan.ID, field, pattern, err))
				continue
			}
			out = append(out, re)
		}
		return out
	}

	s.bootstrap = compile(plan.Bootstrap, "bootstrap")
	s.include = compile(plan.Include, "include")
	s.exclude = compile(plan.Exclude, "exclude")
	return s, errs.ErrorOrNil()
}

// Result is the selected working set. Bootstrap jobs always run before
// Jobs. Within Jobs, jobs matched by an earlier include pattern precede
// jobs matched by a later one; catalog declaration order breaks ties.
type Result struct {
	Bootstrap []*unit.Job
	Jobs      []*unit.Job
}

// All returns bootstrap and selected jobs in their run order.
func (r *Result) All() []*unit.Job {
	out := make([]*unit.Job, 0, len(r.Bootstrap)+len(r.Jobs))
	out = append(out, r.Bootstrap...)
	out = append(out, r.Jobs...)
	return out
}

// Select filters the catalog's jobs. Exclusion wins over inclusion but
// never over bootstrap: a plan that bootstraps a resource job gets it
// even when a broad exclude pattern also matches.
func (s *Selection) Select(jobs []*unit.Job) *Result {
	result := &Result{}
	taken := make(map[string]struct{})

	for _, job := range jobs {
		if matchAny(s.bootstrap, job.ID.String()) {
			result.Bootstrap = append(result.Bootstrap, job)
			taken[job.ID.String()] = struct{}{}
		}
	}

	// One pass per include pattern keeps the plan's ordering groups; a
	// job matching several patterns joins the first group that matched.
	for _, re := range s.include {
		for _, job := range jobs {
			id := job.ID.String()
			if _, ok := taken[id]; ok {
				continue
			}
			if !re.MatchString(id) {
				continue
			}
			if matchAny(s.exclude, id) {
				continue
			}
			result.Jobs = append(result.Jobs, job)
			taken[id] = struct{}{}
		}
	}

	return result
}

func matchAny(patterns []*regexp.Regexp, id string) bool {
	for _, re := range patterns {
		if re.MatchString(id) {
			return true
		}
	}
	return false
}
