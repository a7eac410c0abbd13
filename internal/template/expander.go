// Package template materializes concrete jobs from parametric templates:
// one job per matching record of the template's source resource group.
package template

import (
	"context"
	"fmt"
	"strconv"

	"github.com/canonical/checkbox-sub003/internal/ctxlog"
	"github.com/canonical/checkbox-sub003/internal/resource"
	"github.com/canonical/checkbox-sub003/internal/unit"
)

// IndexParameter is the reserved parameter holding the 1-based instance
// counter, available to both render engines alongside the record fields.
const IndexParameter = "__index__"

// Expand renders a template against the current store contents. Records
// that fail the filter are skipped; records the filter cannot evaluate
// are skipped with a log entry, mirroring the swallow policy of requires
// programs. Rendering the same inputs in the same record order always
// yields the same job list.
func Expand(ctx context.Context, tmpl *unit.Template, store *resource.Store, implicitNamespace string) ([]*unit.Job, error) {
	logger := ctxlog.FromContext(ctx)

	engine, err := newEngine(tmpl.Engine)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", tmpl.ID, err)
	}

	var jobs []*unit.Job
	seen := make(map[string]struct{})
	index := 0
	for recordNum, record := range store.Get(tmpl.ResourceID.String()) {
		if tmpl.Filter != nil {
			ok, err := tmpl.Filter.EvaluateRecord(tmpl.Resource, record)
			if err != nil {
				logger.Debug("Template filter error, record skipped.",
					"template", tmpl.ID.String(), "record", recordNum, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}

		index++
		spec, err := renderSpec(engine, tmpl.Skeleton, record, index)
		if err != nil {
			return nil, fmt.Errorf("template %s, record %d: %w", tmpl.ID, recordNum, err)
		}

		job, err := unit.NewJob(spec, implicitNamespace)
		if err != nil {
			return nil, fmt.Errorf("template %s, record %d: %w", tmpl.ID, recordNum, err)
		}
		job.Origin = tmpl.ID

		if _, dup := seen[job.ID.String()]; dup {
			return nil, fmt.Errorf("template %s rendered duplicate job id %s", tmpl.ID, job.ID)
		}
		seen[job.ID.String()] = struct{}{}
		jobs = append(jobs, job)
	}

	logger.Debug("Template expanded.",
		"template", tmpl.ID.String(), "instances", len(jobs))
	return jobs, nil
}

// renderSpec renders every templated field of the skeleton. Relation and
// requires fields are rendered too: templates routinely parametrize
// their dependencies on the same record fields as their ids.
func renderSpec(engine engine, skeleton unit.Spec, record *resource.Record, index int) (unit.Spec, error) {
	params := record.Map()
	params[IndexParameter] = strconv.Itoa(index)

	out := skeleton
	fields := []struct {
		name string
		dst  *string
	}{
		{"id", &out.ID},
		{"summary", &out.Summary},
		{"command", &out.Command},
		{"user", &out.User},
		{"environ", &out.Environ},
		{"requires", &out.Requires},
		{"depends", &out.Depends},
		{"after", &out.After},
		{"salvages", &out.Salvages},
		{"flags", &out.Flags},
		{"estimated_duration", &out.EstimatedDuration},
	}
	for _, field := range fields {
		if *field.dst == "" {
			continue
		}
		rendered, err := engine.render(*field.dst, params)
		if err != nil {
			return unit.Spec{}, fmt.Errorf("field %s: %w", field.name, err)
		}
		*field.dst = rendered
	}
	return out, nil
}
