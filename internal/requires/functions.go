package requires

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// evalFunctions is the complete function namespace available to resource
// programs. Anything not listed here fails the sandbox check at compile
// time.
var evalFunctions = map[string]function.Function{
	"to_int":   toIntFunc,
	"to_float": toFloatFunc,
	"to_bool":  toBoolFunc,
	"bitand":   bitAndFunc,
	"bitor":    bitOrFunc,
	"bitxor":   bitXorFunc,
}

var toIntFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "value", Type: cty.String}},
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		n, err := strconv.ParseInt(strings.TrimSpace(args[0].AsString()), 10, 64)
		if err != nil {
			return cty.NilVal, fmt.Errorf("to_int: %w", err)
		}
		return cty.NumberIntVal(n), nil
	},
})

var toFloatFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "value", Type: cty.String}},
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		f, err := strconv.ParseFloat(strings.TrimSpace(args[0].AsString()), 64)
		if err != nil {
			return cty.NilVal, fmt.Errorf("to_float: %w", err)
		}
		return cty.NumberFloatVal(f), nil
	},
})

var toBoolFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "value", Type: cty.String}},
	Type:   function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		switch strings.ToLower(strings.TrimSpace(args[0].AsString())) {
		case "true", "yes", "on", "1":
			return cty.True, nil
		case "false", "no", "off", "0":
			return cty.False, nil
		}
		return cty.NilVal, fmt.Errorf("to_bool: not a boolean: %q", args[0].AsString())
	},
})

func bitwiseFunc(name string, op func(a, b int64) int64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "a", Type: cty.Number},
			{Name: "b", Type: cty.Number},
		},
		Type: function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			a, accA := args[0].AsBigFloat().Int64()
			b, accB := args[1].AsBigFloat().Int64()
			if accA != 0 || accB != 0 {
				return cty.NilVal, fmt.Errorf("%s: arguments must be integers", name)
			}
			return cty.NumberIntVal(op(a, b)), nil
		},
	})
}

var (
	bitAndFunc = bitwiseFunc("bitand", func(a, b int64) int64 { return a & b })
	bitOrFunc  = bitwiseFunc("bitor", func(a, b int64) int64 { return a | b })
	bitXorFunc = bitwiseFunc("bitxor", func(a, b int64) int64 { return a ^ b })
)
