package template

import (
	"fmt"
	"regexp"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/canonical/checkbox-sub003/internal/unit"
)

// engine renders one skeleton field against a record's parameters.
type engine interface {
	render(text string, params map[string]string) (string, error)
}

func newEngine(selector unit.Engine) (engine, error) {
	switch selector {
	case unit.EngineSimple:
		return simpleEngine{}, nil
	case unit.EngineFull:
		return fullEngine{}, nil
	}
	return nil, fmt.Errorf("unknown template engine %q", selector)
}

// placeholderPattern matches `{name}` substitution points. Doubled
// braces escape a literal brace.
var placeholderPattern = regexp.MustCompile(`\{\{|\}\}|\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// simpleEngine is plain keyword substitution: `{field}` is replaced by
// the record field of that name, `{{` and `}}` produce literal braces.
// A placeholder with no matching parameter is an error, not silence; a
// half-rendered command must never reach the launcher.
type simpleEngine struct{}

func (simpleEngine) render(text string, params map[string]string) (string, error) {
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		switch match {
		case "{{":
			return "{"
		case "}}":
			return "}"
		}
		name := match[1 : len(match)-1]
		value, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("no parameter %q for placeholder", missing[0])
	}
	return out, nil
}

// fullEngine renders the field as an HCL template, so skeletons can use
// `${field}` interpolation plus `%{ if }` and `%{ for }` directives.
type fullEngine struct{}

func (fullEngine) render(text string, params map[string]string) (string, error) {
	expr, diags := hclsyntax.ParseTemplate([]byte(text), "template", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return "", fmt.Errorf("parse: %s", diags.Error())
	}

	variables := make(map[string]cty.Value, len(params))
	for name, value := range params {
		if !hclsyntax.ValidIdentifier(name) {
			// Record fields with hyphens or dots cannot be HCL
			// identifiers; they are simply not addressable from the
			// full engine.
			continue
		}
		variables[name] = cty.StringVal(value)
	}

	val, diags := expr.Value(&hcl.EvalContext{Variables: variables})
	if diags.HasErrors() {
		return "", fmt.Errorf("render: %s", diags.Error())
	}
	val, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	if val.IsNull() {
		return "", nil
	}
	return val.AsString(), nil
}
