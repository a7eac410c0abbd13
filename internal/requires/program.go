package requires

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/canonical/checkbox-sub003/internal/ctxlog"
	"github.com/canonical/checkbox-sub003/internal/resource"
)

// Program is a compiled resource program: one or more expression lines
// evaluated with an implicit existential quantifier per line and an
// implicit conjunction across lines.
type Program struct {
	lines []*line
	// binding maps a variable name as written in the program to the full
	// id of the resource group it reads. Unbound names read the group of
	// the same name.
	binding map[string]string
}

// line is one compiled expression together with the distinct variable
// names it references (one, or two for a cross-product join).
type line struct {
	src       string
	num       int
	expr      hclsyntax.Expression
	variables []string
}

// Compile parses and sandbox-checks a program. Any malformed or
// out-of-grammar line fails the whole program; the caller excludes the
// owning job, not the catalog.
func Compile(text string) (*Program, error) {
	program := &Program{binding: make(map[string]string)}

	for i, raw := range strings.Split(text, "\n") {
		src := strings.TrimSpace(raw)
		if src == "" {
			continue
		}
		num := i + 1

		expr, diags := hclsyntax.ParseExpression([]byte(src), fmt.Sprintf("requires:%d", num), hcl.Pos{Line: 1, Column: 1})
		if diags.HasErrors() {
			return nil, fmt.Errorf("line %d: parse error: %s", num, diags.Error())
		}

		variables, err := checkLine(expr)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", num, err)
		}

		program.lines = append(program.lines, &line{
			src:       src,
			num:       num,
			expr:      expr,
			variables: variables,
		})
	}

	if len(program.lines) == 0 {
		return nil, fmt.Errorf("program has no expressions")
	}
	return program, nil
}

// Variables returns the distinct variable names referenced by the whole
// program, sorted.
func (p *Program) Variables() []string {
	seen := make(map[string]struct{})
	for _, ln := range p.lines {
		for _, v := range ln.variables {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Bind maps a program variable to the full id of the group it should
// read, typically the namespaced id of the producing resource job.
func (p *Program) Bind(variable, groupID string) {
	p.binding[variable] = groupID
}

// Groups returns the full group ids the program reads, sorted.
func (p *Program) Groups() []string {
	seen := make(map[string]struct{})
	for _, v := range p.Variables() {
		seen[p.groupFor(v)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func (p *Program) groupFor(variable string) string {
	if g, ok := p.binding[variable]; ok {
		return g
	}
	return variable
}

// Evaluate runs the program against the store. A line over an empty or
// never-produced group is false. A record that makes a line error is
// treated as not satisfying it.
func (p *Program) Evaluate(ctx context.Context, store *resource.Store) bool {
	for _, ln := range p.lines {
		if !p.evaluateLine(ctx, ln, store) {
			return false
		}
	}
	return true
}

func (p *Program) evaluateLine(ctx context.Context, ln *line, store *resource.Store) bool {
	logger := ctxlog.FromContext(ctx)

	switch len(ln.variables) {
	case 1:
		name := ln.variables[0]
		for _, record := range store.Get(p.groupFor(name)) {
			ok, err := evalBool(ln.expr, map[string]cty.Value{name: recordValue(record)})
			if err != nil {
				logger.Debug("Expression error swallowed as false.",
					"line", ln.src, "group", p.groupFor(name), "error", err)
				continue
			}
			if ok {
				return true
			}
		}
		return false
	case 2:
		// Unindexed cross product over both groups. Quadratic and known
		// to be; resource groups are small.
		nameA, nameB := ln.variables[0], ln.variables[1]
		recordsB := store.Get(p.groupFor(nameB))
		for _, a := range store.Get(p.groupFor(nameA)) {
			for _, b := range recordsB {
				ok, err := evalBool(ln.expr, map[string]cty.Value{
					nameA: recordValue(a),
					nameB: recordValue(b),
				})
				if err != nil {
					logger.Debug("Expression error swallowed as false.",
						"line", ln.src, "error", err)
					continue
				}
				if ok {
					return true
				}
			}
		}
		return false
	}
	return false
}

// EvaluateRecord evaluates the whole program against exactly one record
// bound to the given variable. There is no existential wrapping: this is
// the template-filter contract, a plain true/false over that record.
// Every line must reference only the given variable.
func (p *Program) EvaluateRecord(variable string, record *resource.Record) (bool, error) {
	value := recordValue(record)
	for _, ln := range p.lines {
		if len(ln.variables) != 1 || ln.variables[0] != variable {
			return false, fmt.Errorf("line %d references %v, filter may only reference %q",
				ln.num, ln.variables, variable)
		}
		ok, err := evalBool(ln.expr, map[string]cty.Value{variable: value})
		if err != nil {
			return false, fmt.Errorf("line %d: %w", ln.num, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// evalBool evaluates a compiled expression with the given variables and
// reduces the result to a boolean.
func evalBool(expr hclsyntax.Expression, vars map[string]cty.Value) (bool, error) {
	evalCtx := &hcl.EvalContext{
		Variables: vars,
		Functions: evalFunctions,
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return false, fmt.Errorf("%s", diags.Error())
	}
	if val.IsNull() || !val.IsKnown() {
		return false, nil
	}
	val, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("result is not a boolean: %w", err)
	}
	return val.True(), nil
}

// recordValue binds a record as a cty object of raw string fields. The
// explicit to_* helpers are the only way to get another type.
func recordValue(record *resource.Record) cty.Value {
	keys := record.Keys()
	if len(keys) == 0 {
		return cty.EmptyObjectVal
	}
	fields := make(map[string]cty.Value, len(keys))
	for _, key := range keys {
		v, _ := record.Str(key)
		fields[key] = cty.StringVal(v)
	}
	return cty.ObjectVal(fields)
}
