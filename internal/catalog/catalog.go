// Package catalog assembles and validates the full set of jobs,
// templates, and test plans available to a session. Load-time problems
// exclude the offending unit, never the whole catalog; every exclusion
// is kept and reportable.
package catalog

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/hashicorp/go-multierror"

	"github.com/canonical/checkbox-sub003/internal/ctxlog"
	"github.com/canonical/checkbox-sub003/internal/jobid"
	"github.com/canonical/checkbox-sub003/internal/resource"
	"github.com/canonical/checkbox-sub003/internal/unit"
)

// Catalog is the validated unit set. It is append-only during load and
// read-only afterwards.
type Catalog struct {
	// Namespace is the implicit namespace bare ids resolve against.
	Namespace string

	jobs      map[string]*unit.Job
	order     []string
	templates []*unit.Template
	plans     map[string]*unit.TestPlan

	// problems holds every per-unit exclusion recorded during load.
	problems *multierror.Error
}

// New creates an empty catalog with the given implicit namespace.
func New(namespace string) *Catalog {
	return &Catalog{
		Namespace: namespace,
		jobs:      make(map[string]*unit.Job),
		plans:     make(map[string]*unit.TestPlan),
	}
}

// AddJob registers a job. Duplicate ids are a hard error: two jobs with
// one id would make every relation referencing it ambiguous.
func (c *Catalog) AddJob(job *unit.Job) error {
	key := job.ID.String()
	if _, ok := c.jobs[key]; ok {
		return fmt.Errorf("duplicate job id %s", key)
	}
	c.jobs[key] = job
	c.order = append(c.order, key)
	return nil
}

// AddTemplate registers a template.
func (c *Catalog) AddTemplate(tmpl *unit.Template) {
	c.templates = append(c.templates, tmpl)
}

// AddTestPlan registers a test plan.
func (c *Catalog) AddTestPlan(plan *unit.TestPlan) error {
	key := plan.ID.String()
	if _, ok := c.plans[key]; ok {
		return fmt.Errorf("duplicate test plan id %s", key)
	}
	c.plans[key] = plan
	return nil
}

// Job looks up a job, resolving a bare id against the catalog namespace.
func (c *Catalog) Job(id jobid.ID) (*unit.Job, bool) {
	job, ok := c.jobs[id.Resolve(c.Namespace).String()]
	return job, ok
}

// Jobs returns all jobs in declaration order.
func (c *Catalog) Jobs() []*unit.Job {
	out := make([]*unit.Job, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.jobs[key])
	}
	return out
}

// Index returns a job's declaration position, used as the deterministic
// tie-break when ordering the schedule. Unknown ids sort last.
func (c *Catalog) Index(id jobid.ID) int {
	key := id.Resolve(c.Namespace).String()
	for i, k := range c.order {
		if k == key {
			return i
		}
	}
	return len(c.order)
}

// Templates returns all templates in declaration order.
func (c *Catalog) Templates() []*unit.Template {
	out := make([]*unit.Template, len(c.templates))
	copy(out, c.templates)
	return out
}

// TestPlan looks up a test plan by id, resolving bare ids.
func (c *Catalog) TestPlan(id jobid.ID) (*unit.TestPlan, bool) {
	plan, ok := c.plans[id.Resolve(c.Namespace).String()]
	return plan, ok
}

// TestPlans returns all test plans, in no particular order.
func (c *Catalog) TestPlans() []*unit.TestPlan {
	out := make([]*unit.TestPlan, 0, len(c.plans))
	for _, plan := range c.plans {
		out = append(out, plan)
	}
	return out
}

// Problems returns every per-unit exclusion recorded during load, nil
// when the whole catalog loaded clean.
func (c *Catalog) Problems() error {
	return c.problems.ErrorOrNil()
}

func (c *Catalog) recordProblem(err error) {
	c.problems = multierror.Append(c.problems, err)
}

// Fingerprint identifies the catalog's job set for snapshot generation
// checks: same ids in the same order, same fingerprint.
func (c *Catalog) Fingerprint() string {
	h := fnv.New64a()
	for _, key := range c.order {
		h.Write([]byte(key))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Validate resolves every relation and requires reference of every job.
// A job with a dangling reference is removed and the problem recorded.
// Jobs are checked against the full set, so removal order cannot mask a
// dangling edge. Returns the ids that were removed.
func (c *Catalog) Validate(ctx context.Context) []jobid.ID {
	logger := ctxlog.FromContext(ctx)
	var removed []jobid.ID

	for _, key := range append([]string(nil), c.order...) {
		job := c.jobs[key]
		if err := c.checkJob(job); err != nil {
			c.recordProblem(fmt.Errorf("job %s: %w", key, err))
			logger.Warn("Job excluded from catalog.", "job", key, "error", err)
			c.removeJob(key)
			removed = append(removed, job.ID)
			continue
		}
		if job.Requires != nil {
			for _, warning := range job.Requires.Lint() {
				logger.Warn("Suspicious requires expression.",
					"job", key, "line", warning.Line, "source", warning.Source,
					"detail", warning.Detail)
			}
		}
	}

	for _, tmpl := range append([]*unit.Template(nil), c.templates...) {
		if _, ok := c.resourceJob(tmpl.ResourceID); !ok {
			err := fmt.Errorf("template %s: source group %s is not a resource job in this catalog",
				tmpl.ID, tmpl.ResourceID)
			c.recordProblem(err)
			logger.Warn("Template excluded from catalog.", "template", tmpl.ID.String(), "error", err)
			c.removeTemplate(tmpl)
		}
	}

	return removed
}

// checkJob verifies that every id the job's relations and requires
// program reference resolves inside this catalog, and binds the requires
// variables to their producing jobs.
func (c *Catalog) checkJob(job *unit.Job) error {
	for _, rel := range [][]jobid.ID{job.Depends, job.After, job.Salvages} {
		for _, id := range rel {
			if _, ok := c.Job(id); !ok {
				return fmt.Errorf("relation references unknown job %s", id)
			}
		}
	}

	if job.Requires != nil {
		for _, variable := range job.Requires.Variables() {
			if variable == resource.ManifestGroup {
				job.Requires.Bind(variable, resource.ManifestGroup)
				continue
			}
			id, err := jobid.Parse(variable)
			if err != nil {
				return fmt.Errorf("requires references invalid group %q: %w", variable, err)
			}
			producer, ok := c.resourceJob(id)
			if !ok {
				return fmt.Errorf("requires references %q which is not a resource job in this catalog", variable)
			}
			job.Requires.Bind(variable, producer.ID.String())
		}
	}
	return nil
}

// resourceJob resolves an id to a job of kind resource.
func (c *Catalog) resourceJob(id jobid.ID) (*unit.Job, bool) {
	job, ok := c.Job(id)
	if !ok || job.Kind != unit.KindResource {
		return nil, false
	}
	return job, true
}

// ResourceProducers returns the resource jobs a requires program needs,
// in catalog declaration order. The scheduler runs them before the
// program is ever evaluated.
func (c *Catalog) ResourceProducers(job *unit.Job) []*unit.Job {
	if job.Requires == nil {
		return nil
	}
	var out []*unit.Job
	for _, group := range job.Requires.Groups() {
		if group == resource.ManifestGroup {
			continue
		}
		if producer, ok := c.jobs[group]; ok && producer.Kind == unit.KindResource {
			out = append(out, producer)
		}
	}
	return out
}

func (c *Catalog) removeJob(key string) {
	delete(c.jobs, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Catalog) removeTemplate(tmpl *unit.Template) {
	for i, t := range c.templates {
		if t == tmpl {
			c.templates = append(c.templates[:i], c.templates[i+1:]...)
			break
		}
	}
}
