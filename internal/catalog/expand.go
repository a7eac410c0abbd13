package catalog

import (
	"context"
	"fmt"

	"github.com/canonical/checkbox-sub003/internal/ctxlog"
	"github.com/canonical/checkbox-sub003/internal/resource"
	"github.com/canonical/checkbox-sub003/internal/template"
)

// Expand instantiates every template against the current store contents
// and returns a new catalog containing the static jobs plus the rendered
// ones, validated as a whole. The receiver is not modified: templates
// are re-expanded whenever resource content changes, and each expansion
// starts from the same static base.
func Expand(ctx context.Context, base *Catalog, store *resource.Store) (*Catalog, error) {
	logger := ctxlog.FromContext(ctx)

	expanded := New(base.Namespace)
	for _, job := range base.Jobs() {
		if err := expanded.AddJob(job); err != nil {
			return nil, err
		}
	}
	for _, plan := range base.TestPlans() {
		if err := expanded.AddTestPlan(plan); err != nil {
			return nil, err
		}
	}

	for _, tmpl := range base.Templates() {
		jobs, err := template.Expand(ctx, tmpl, store, base.Namespace)
		if err != nil {
			return nil, fmt.Errorf("template expansion failed: %w", err)
		}
		for _, job := range jobs {
			// A rendered id colliding with a static job or another
			// template's output is a hard error, not an exclusion.
			if err := expanded.AddJob(job); err != nil {
				return nil, fmt.Errorf("template %s: %w", tmpl.ID, err)
			}
		}
		logger.Debug("Template instantiated.",
			"template", tmpl.ID.String(), "jobs", len(jobs))
	}

	if removed := expanded.Validate(ctx); len(removed) > 0 {
		logger.Warn("Rendered jobs excluded during expansion.", "count", len(removed))
	}
	return expanded, nil
}
