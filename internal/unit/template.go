package unit

import (
	"fmt"
	"strings"

	"github.com/canonical/checkbox-sub003/internal/jobid"
	"github.com/canonical/checkbox-sub003/internal/requires"
)

// Engine selects the render engine used to materialize a template.
type Engine string

const (
	// EngineSimple substitutes `{field}` placeholders with record fields
	// plus the running instance counter. No logic.
	EngineSimple Engine = "simple"
	// EngineFull renders fields as full templates with conditional and
	// loop directives.
	EngineFull Engine = "full"
)

// ParseEngine validates an engine selector; empty selects simple.
func ParseEngine(s string) (Engine, error) {
	switch Engine(s) {
	case "":
		return EngineSimple, nil
	case EngineSimple, EngineFull:
		return Engine(s), nil
	}
	return "", fmt.Errorf("unknown template engine %q", s)
}

// Template is a parametric job definition: a job skeleton instantiated
// once per matching record of its source resource group.
type Template struct {
	ID jobid.ID
	// Resource is the program variable naming the source group, e.g.
	// "device". ResourceID is the resolved id of the producing job.
	Resource   string
	ResourceID jobid.ID
	Engine     Engine

	// Filter, when non-nil, selects which records instantiate the
	// template. It is evaluated per record with no existential wrap.
	Filter     *requires.Program
	FilterText string

	// Skeleton is the raw job spec whose fields get rendered per record.
	Skeleton Spec
}

// TemplateSpec is the raw form of a template from catalog definitions.
type TemplateSpec struct {
	ID       string
	Resource string
	Engine   string
	Filter   string
	Skeleton Spec
}

// NewTemplate validates a TemplateSpec and compiles its filter.
func NewTemplate(spec TemplateSpec, implicitNamespace string) (*Template, error) {
	id, err := jobid.Parse(spec.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid template id: %w", err)
	}
	id = id.Resolve(implicitNamespace)

	if strings.TrimSpace(spec.Resource) == "" {
		return nil, fmt.Errorf("template %s: missing source resource group", id)
	}
	resourceID, err := jobid.Parse(spec.Resource)
	if err != nil {
		return nil, fmt.Errorf("template %s: invalid resource reference: %w", id, err)
	}

	engine, err := ParseEngine(spec.Engine)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", id, err)
	}

	tmpl := &Template{
		ID:         id,
		Resource:   spec.Resource,
		ResourceID: resourceID.Resolve(implicitNamespace),
		Engine:     engine,
		FilterText: spec.Filter,
		Skeleton:   spec.Skeleton,
	}

	if strings.TrimSpace(spec.Filter) != "" {
		program, err := requires.Compile(spec.Filter)
		if err != nil {
			return nil, fmt.Errorf("template %s: filter: %w", id, err)
		}
		tmpl.Filter = program
	}

	return tmpl, nil
}
