package requires

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonical/checkbox-sub003/internal/resource"
)

func record(pairs ...string) *resource.Record {
	r := resource.NewRecord()
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(pairs[i], pairs[i+1])
	}
	return r
}

func storeWith(t *testing.T, group string, records ...*resource.Record) *resource.Store {
	t.Helper()
	s := resource.NewStore()
	s.Replace(group, records)
	return s
}

func TestEvaluate_SingleLine(t *testing.T) {
	ctx := context.Background()
	store := storeWith(t, "disk", record("removable", "no"))

	p, err := Compile(`disk.removable == "no"`)
	require.NoError(t, err)
	assert.True(t, p.Evaluate(ctx, store))

	p, err = Compile(`disk.removable == "yes"`)
	require.NoError(t, err)
	assert.False(t, p.Evaluate(ctx, store))
}

func TestEvaluate_ConjunctionAcrossLines(t *testing.T) {
	// The worked example from the session documentation: a single-record
	// group cannot satisfy two contradictory lines.
	ctx := context.Background()
	store := storeWith(t, "disk", record("removable", "no"))

	p, err := Compile("disk.removable == \"no\"\ndisk.removable == \"yes\"")
	require.NoError(t, err)
	assert.False(t, p.Evaluate(ctx, store))
}

func TestEvaluate_LinesSatisfiedByDifferentRecords(t *testing.T) {
	// Two lines over the same group may each be satisfied by a different
	// record. This is a load-bearing quirk, not a bug.
	ctx := context.Background()
	store := storeWith(t, "disk",
		record("name", "sda", "removable", "no"),
		record("name", "sdb", "removable", "yes"),
	)

	p, err := Compile("disk.removable == \"no\"\ndisk.removable == \"yes\"")
	require.NoError(t, err)
	assert.True(t, p.Evaluate(ctx, store))

	// Forcing both conditions onto one record requires a single line.
	p, err = Compile(`disk.removable == "no" && disk.removable == "yes"`)
	require.NoError(t, err)
	assert.False(t, p.Evaluate(ctx, store))
}

func TestEvaluate_EmptyGroupIsFalse(t *testing.T) {
	ctx := context.Background()

	p, err := Compile(`disk.removable == "no"`)
	require.NoError(t, err)

	// Never produced.
	assert.False(t, p.Evaluate(ctx, resource.NewStore()))

	// Produced but empty.
	assert.False(t, p.Evaluate(ctx, storeWith(t, "disk")))
}

func TestEvaluate_ErrorSwallowedPerRecord(t *testing.T) {
	ctx := context.Background()
	// First record lacks the field entirely; second has a non-numeric
	// value; third satisfies the line. The errors must not leak past
	// their own records.
	store := storeWith(t, "disk",
		record("name", "sda"),
		record("name", "sdb", "size", "unknown"),
		record("name", "sdc", "size", "1000000"),
	)

	p, err := Compile(`to_int(disk.size) > 100`)
	require.NoError(t, err)
	assert.True(t, p.Evaluate(ctx, store))

	// With only the broken records the line is false, never an error.
	store = storeWith(t, "disk",
		record("name", "sda"),
		record("name", "sdb", "size", "unknown"),
	)
	assert.False(t, p.Evaluate(ctx, store))
}

func TestEvaluate_Coercions(t *testing.T) {
	ctx := context.Background()
	store := storeWith(t, "cpu", record("count", "8", "freq", "2.4", "smt", "yes"))

	testCases := []struct {
		expr string
		want bool
	}{
		{`to_int(cpu.count) >= 4`, true},
		{`to_int(cpu.count) + 2 == 10`, true},
		{`to_float(cpu.freq) > 2.0`, true},
		{`to_bool(cpu.smt)`, true},
		{`!to_bool(cpu.smt)`, false},
		{`bitand(to_int(cpu.count), 1) == 0`, true},
		{`bitor(to_int(cpu.count), 1) == 9`, true},
		{`bitxor(to_int(cpu.count), 8) == 0`, true},
	}
	for _, tc := range testCases {
		t.Run(tc.expr, func(t *testing.T) {
			p, err := Compile(tc.expr)
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.Evaluate(ctx, store))
		})
	}
}

func TestEvaluate_CrossProductJoin(t *testing.T) {
	ctx := context.Background()
	s := resource.NewStore()
	s.Replace("disk", []*resource.Record{
		record("name", "sda", "driver", "ahci"),
		record("name", "nvme0n1", "driver", "nvme"),
	})
	s.Replace("module", []*resource.Record{
		record("name", "e1000e"),
		record("name", "nvme"),
	})

	p, err := Compile(`disk.driver == module.name`)
	require.NoError(t, err)
	assert.True(t, p.Evaluate(ctx, s))

	// One empty side empties the product.
	s.Replace("module", nil)
	assert.False(t, p.Evaluate(ctx, s))
}

func TestProgram_Binding(t *testing.T) {
	ctx := context.Background()
	s := resource.NewStore()
	s.Replace("com.canonical.certification::disk", []*resource.Record{record("removable", "no")})

	p, err := Compile(`disk.removable == "no"`)
	require.NoError(t, err)

	// Unbound, the variable reads the literal group name and finds nothing.
	assert.False(t, p.Evaluate(ctx, s))

	p.Bind("disk", "com.canonical.certification::disk")
	assert.True(t, p.Evaluate(ctx, s))
	assert.Equal(t, []string{"com.canonical.certification::disk"}, p.Groups())
	assert.Equal(t, []string{"disk"}, p.Variables())
}

func TestEvaluateRecord_NoExistentialWrap(t *testing.T) {
	p, err := Compile(`device.category == "NETWORK"`)
	require.NoError(t, err)

	ok, err := p.EvaluateRecord("device", record("category", "NETWORK"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.EvaluateRecord("device", record("category", "AUDIO"))
	require.NoError(t, err)
	assert.False(t, ok)

	// Unlike program evaluation, a missing field is a reported error here.
	_, err = p.EvaluateRecord("device", record("name", "eth0"))
	require.Error(t, err)

	// Referencing any other variable is rejected.
	_, err = p.EvaluateRecord("other", record("category", "NETWORK"))
	require.Error(t, err)
}

func TestCompile_Errors(t *testing.T) {
	testCases := []struct {
		name string
		text string
	}{
		{"empty program", "\n  \n"},
		{"syntax error", `disk.removable == `},
		{"no group reference", `1 == 1`},
		{"bare group reference", `disk`},
		{"deep field access", `disk.stats.errors == "0"`},
		{"index access", `disk["removable"] == "no"`},
		{"unknown function", `upper(disk.name) == "SDA"`},
		{"conditional", `disk.removable == "no" ? true : false`},
		{"for expression", `[for d in disk : d]`},
		{"interpolation", `disk.name == "sd${disk.index}"`},
		{"three groups", `disk.a == cpu.a && disk.a == mem.a`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.text)
			require.Error(t, err)
		})
	}
}

func TestCompile_BadLineFailsWholeProgram(t *testing.T) {
	_, err := Compile("disk.removable == \"no\"\nupper(disk.name) == \"SDA\"")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLint_FlagsNegations(t *testing.T) {
	p, err := Compile("disk.removable != \"yes\"\ndisk.name == \"sda\"")
	require.NoError(t, err)

	warnings := p.Lint()
	require.Len(t, warnings, 1)
	assert.Equal(t, 1, warnings[0].Line)
	assert.Contains(t, warnings[0].Detail, "ANY record")

	p, err = Compile(`!to_bool(disk.rotational)`)
	require.NoError(t, err)
	assert.Len(t, p.Lint(), 1)

	p, err = Compile(`disk.removable == "no"`)
	require.NoError(t, err)
	assert.Empty(t, p.Lint())
}

// TestEvaluate_AgainstBruteForceReference cross-checks the evaluator
// against a direct implementation of the quantifier rules over randomly
// generated stores and equality programs.
func TestEvaluate_AgainstBruteForceReference(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))
	fields := []string{"a", "b", "c"}
	values := []string{"x", "y", "z"}

	for trial := 0; trial < 200; trial++ {
		// Random store: one group, 0..4 records, sparse fields.
		var records []*resource.Record
		for i := 0; i < rng.Intn(5); i++ {
			r := resource.NewRecord()
			for _, f := range fields {
				if rng.Intn(2) == 0 {
					r.Set(f, values[rng.Intn(len(values))])
				}
			}
			records = append(records, r)
		}
		store := resource.NewStore()
		store.Replace("g", records)

		// Random program: 1..3 equality lines.
		type lineSpec struct{ field, value string }
		var specs []lineSpec
		text := ""
		for i := 0; i < 1+rng.Intn(3); i++ {
			spec := lineSpec{fields[rng.Intn(len(fields))], values[rng.Intn(len(values))]}
			specs = append(specs, spec)
			text += fmt.Sprintf("g.%s == %q\n", spec.field, spec.value)
		}

		// Reference: all lines, any record per line, missing field false.
		want := true
		for _, spec := range specs {
			lineTrue := false
			for _, r := range records {
				if v, err := r.Str(spec.field); err == nil && v == spec.value {
					lineTrue = true
					break
				}
			}
			if !lineTrue {
				want = false
				break
			}
		}

		p, err := Compile(text)
		require.NoError(t, err, text)
		assert.Equal(t, want, p.Evaluate(ctx, store), "trial %d program:\n%s", trial, text)
	}
}
