package unit

import (
	"fmt"
	"strings"
	"time"

	"github.com/canonical/checkbox-sub003/internal/jobid"
	"github.com/canonical/checkbox-sub003/internal/requires"
)

// Job is the smallest schedulable piece of test execution. Jobs are
// built once by the catalog (statically declared or rendered from a
// template) and never mutated afterwards.
type Job struct {
	ID      jobid.ID
	Kind    Kind
	Summary string

	// Command is the shell command to execute, empty for manual jobs.
	Command string
	// User is the account the command must run as, empty for the
	// session owner.
	User string
	// Environ lists environment variable names allowed through to the
	// command.
	Environ []string

	// Requires is the compiled applicability program, nil when the job
	// is unconditional. RequiresText keeps the source for diagnostics.
	Requires     *requires.Program
	RequiresText string

	// Depends lists jobs that must have passed before this one runs.
	Depends []jobid.ID
	// After lists jobs that must have reached any terminal state first;
	// their verdict does not matter.
	After []jobid.ID
	// Salvages lists jobs this one recovers from; it runs only if at
	// least one of them actually failed.
	Salvages []jobid.ID

	Flags             Flags
	EstimatedDuration time.Duration

	// Origin is the id of the template this job was rendered from, zero
	// for statically declared jobs.
	Origin jobid.ID
}

// Spec is the raw, all-strings form of a job as it appears in catalog
// definitions and template skeletons. NewJob turns a Spec into a Job;
// template rendering produces Specs.
type Spec struct {
	ID                string
	Kind              string
	Summary           string
	Command           string
	User              string
	Environ           string
	Requires          string
	Depends           string
	After             string
	Salvages          string
	Flags             string
	EstimatedDuration string
}

// NewJob validates a Spec and builds the immutable Job. Relation ids are
// parsed here but resolved against the catalog later; the requires
// program is compiled here so a malformed expression rejects the job
// before anything runs.
func NewJob(spec Spec, implicitNamespace string) (*Job, error) {
	id, err := jobid.Parse(spec.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid job id: %w", err)
	}
	id = id.Resolve(implicitNamespace)

	flags := ParseFlags(spec.Flags)

	kindName := spec.Kind
	if kindName == "" && flags.Has(FlagSimple) {
		kindName = string(KindAutomated)
	}
	kind, err := ParseKind(kindName)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	if flags.Has(FlagSimple) {
		flags[FlagPreserveOutput] = struct{}{}
	}

	if kind.NeedsCommand() && strings.TrimSpace(spec.Command) == "" {
		return nil, fmt.Errorf("job %s: kind %q requires a command", id, kind)
	}

	job := &Job{
		ID:           id,
		Kind:         kind,
		Summary:      spec.Summary,
		Command:      spec.Command,
		User:         spec.User,
		Environ:      strings.Fields(spec.Environ),
		RequiresText: spec.Requires,
		Flags:        flags,
	}

	if strings.TrimSpace(spec.Requires) != "" {
		program, err := requires.Compile(spec.Requires)
		if err != nil {
			return nil, fmt.Errorf("job %s: requires: %w", id, err)
		}
		job.Requires = program
	}

	if job.Depends, err = parseIDList(spec.Depends, implicitNamespace); err != nil {
		return nil, fmt.Errorf("job %s: depends: %w", id, err)
	}
	if job.After, err = parseIDList(spec.After, implicitNamespace); err != nil {
		return nil, fmt.Errorf("job %s: after: %w", id, err)
	}
	if job.Salvages, err = parseIDList(spec.Salvages, implicitNamespace); err != nil {
		return nil, fmt.Errorf("job %s: salvages: %w", id, err)
	}

	if strings.TrimSpace(spec.EstimatedDuration) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(spec.EstimatedDuration))
		if err != nil {
			return nil, fmt.Errorf("job %s: estimated duration: %w", id, err)
		}
		job.EstimatedDuration = d
	}

	return job, nil
}

// parseIDList splits a whitespace- or comma-separated id list. The comma
// tolerance guards against the most common way these lists get written
// by hand.
func parseIDList(s, implicitNamespace string) ([]jobid.ID, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == ','
	})
	if len(fields) == 0 {
		return nil, nil
	}
	out := make([]jobid.ID, 0, len(fields))
	for _, field := range fields {
		id, err := jobid.Parse(field)
		if err != nil {
			return nil, err
		}
		out = append(out, id.Resolve(implicitNamespace))
	}
	return out, nil
}
