package requires

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
)

// Warning is one advisory finding about a compiled program.
type Warning struct {
	Line   int
	Source string
	Detail string
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d (%s): %s", w.Line, w.Source, w.Detail)
}

// Lint flags expressions that are technically well-formed but likely do
// not mean what the author intended. The big one: a line is true when ANY
// record matches, so `disk.removable != "yes"` passes as soon as one
// non-removable disk exists, even on a machine that also has removable
// disks. Authors usually mean "no record matches". The semantics are
// load-bearing and must not change, so this is a warning, not an error.
func (p *Program) Lint() []Warning {
	var warnings []Warning
	for _, ln := range p.lines {
		if hasNegation(ln.expr) {
			warnings = append(warnings, Warning{
				Line:   ln.num,
				Source: ln.src,
				Detail: "negative condition is satisfied when ANY record differs; " +
					"it does not assert that no record matches",
			})
		}
	}
	return warnings
}

func hasNegation(root hclsyntax.Expression) bool {
	found := false
	hclsyntax.VisitAll(root, func(node hclsyntax.Node) hcl.Diagnostics {
		switch e := node.(type) {
		case *hclsyntax.BinaryOpExpr:
			if e.Op == hclsyntax.OpNotEqual {
				found = true
			}
		case *hclsyntax.UnaryOpExpr:
			if e.Op == hclsyntax.OpLogicalNot {
				found = true
			}
		}
		return nil
	})
	return found
}
