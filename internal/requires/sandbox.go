package requires

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
)

// checkLine enforces the sandbox on one parsed line and returns the
// distinct variable names it references, in first-use order.
func checkLine(expr hclsyntax.Expression) ([]string, error) {
	if err := checkNodes(expr); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var variables []string
	for _, traversal := range expr.Variables() {
		name, err := checkTraversal(traversal)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			variables = append(variables, name)
		}
	}

	switch len(variables) {
	case 0:
		return nil, fmt.Errorf("expression references no resource group")
	case 1, 2:
		return variables, nil
	}
	sort.Strings(variables)
	return nil, fmt.Errorf("expression references %d resource groups %v, at most two are allowed",
		len(variables), variables)
}

// checkTraversal permits exactly `group.field`: a root name plus one
// attribute step.
func checkTraversal(traversal hcl.Traversal) (string, error) {
	root, ok := traversal[0].(hcl.TraverseRoot)
	if !ok {
		return "", fmt.Errorf("relative references are not allowed")
	}
	if len(traversal) != 2 {
		return "", fmt.Errorf("reference %q must be exactly group.field", traversalString(traversal))
	}
	if _, ok := traversal[1].(hcl.TraverseAttr); !ok {
		return "", fmt.Errorf("reference %q must use attribute access, not indexing", traversalString(traversal))
	}
	return root.Name, nil
}

func traversalString(traversal hcl.Traversal) string {
	out := ""
	for _, step := range traversal {
		switch s := step.(type) {
		case hcl.TraverseRoot:
			out += s.Name
		case hcl.TraverseAttr:
			out += "." + s.Name
		default:
			out += "[...]"
		}
	}
	return out
}

// checkNodes walks the syntax tree and rejects every construct outside
// the declared grammar. The check runs at compile time so no job command
// ever executes before its program is known to be safe.
func checkNodes(root hclsyntax.Expression) error {
	diags := hclsyntax.VisitAll(root, func(node hclsyntax.Node) hcl.Diagnostics {
		expr, ok := node.(hclsyntax.Expression)
		if !ok {
			return nil
		}
		switch e := expr.(type) {
		case *hclsyntax.LiteralValueExpr,
			*hclsyntax.ScopeTraversalExpr,
			*hclsyntax.BinaryOpExpr,
			*hclsyntax.UnaryOpExpr,
			*hclsyntax.ParenthesesExpr:
			return nil
		case *hclsyntax.TemplateExpr:
			// Quoted strings parse as single-part templates. Interpolation
			// is outside the grammar.
			if !e.IsStringLiteral() && len(e.Parts) > 1 {
				return sandboxError(e.Range(), "string interpolation is not allowed")
			}
			return nil
		case *hclsyntax.FunctionCallExpr:
			if _, ok := evalFunctions[e.Name]; !ok {
				return sandboxError(e.Range(), fmt.Sprintf("call to %q is not allowed; only %s",
					e.Name, allowedFunctionNames()))
			}
			return nil
		default:
			return sandboxError(expr.Range(), fmt.Sprintf("%T is outside the expression grammar", expr))
		}
	})
	if diags.HasErrors() {
		return fmt.Errorf("%s", diags.Error())
	}
	return nil
}

func sandboxError(rng hcl.Range, detail string) hcl.Diagnostics {
	return hcl.Diagnostics{{
		Severity: hcl.DiagError,
		Summary:  "Expression outside the resource program grammar",
		Detail:   detail,
		Subject:  &rng,
	}}
}

func allowedFunctionNames() string {
	names := make([]string, 0, len(evalFunctions))
	for name := range evalFunctions {
		names = append(names, name)
	}
	sort.Strings(names)
	out := ""
	for i, name := range names {
		if i > 0 {
			out += ", "
		}
		out += name
	}
	return out
}
