package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonical/checkbox-sub003/internal/resource"
	"github.com/canonical/checkbox-sub003/internal/unit"
)

// outcomeMap is a minimal Outcomes backed by a map.
type outcomeMap map[string]unit.Outcome

func (m outcomeMap) Outcome(id string) unit.Outcome { return m[id] }

func makeJob(t *testing.T, spec unit.Spec) *unit.Job {
	t.Helper()
	if spec.Kind == "" {
		spec.Kind = "manual"
	}
	job, err := unit.NewJob(spec, ns)
	require.NoError(t, err)
	return job
}

func TestGate_Depends(t *testing.T) {
	ctx := context.Background()
	store := resource.NewStore()
	job := makeJob(t, unit.Spec{ID: "a", Depends: "b"})

	tests := []struct {
		name    string
		outcome unit.Outcome
		want    Verdict
	}{
		{"pass runs", unit.OutcomePass, VerdictRun},
		{"fail skips", unit.OutcomeFail, VerdictSkip},
		{"crash skips", unit.OutcomeCrash, VerdictSkip},
		{"skip propagates as not-started", unit.OutcomeSkip, VerdictNotStarted},
		{"not-started propagates", unit.OutcomeNotStarted, VerdictNotStarted},
		{"no result propagates as not-started", unit.OutcomeNone, VerdictNotStarted},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			outcomes := outcomeMap{ns + "::b": tc.outcome}
			decision := Gate(ctx, job, outcomes, store)
			assert.Equal(t, tc.want, decision.Verdict)
			if tc.want != VerdictRun {
				assert.NotEmpty(t, decision.Reason)
			}
		})
	}
}

// A depends chain unwinds as not-started: b's requirement is unmet so b
// is skipped, and a, which depends on b, never executes.
func TestGate_SkippedDependencyCascades(t *testing.T) {
	ctx := context.Background()
	store := resource.NewStore()

	b := makeJob(t, unit.Spec{ID: "b", Kind: "automated", Command: "true",
		Requires: `device.category == "DISK"`})
	b.Requires.Bind("device", ns+"::device")
	a := makeJob(t, unit.Spec{ID: "a", Depends: "b"})

	outcomes := outcomeMap{}

	// b's turn: no device records exist, so the requirement is unmet.
	decision := Gate(ctx, b, outcomes, store)
	require.Equal(t, VerdictSkip, decision.Verdict)
	outcomes[b.ID.String()] = unit.OutcomeSkip

	// a's turn: its dependency never ran.
	decision = Gate(ctx, a, outcomes, store)
	assert.Equal(t, VerdictNotStarted, decision.Verdict)
}

func TestGate_AfterNeedsTerminal(t *testing.T) {
	ctx := context.Background()
	store := resource.NewStore()
	job := makeJob(t, unit.Spec{ID: "a", After: "b"})

	for _, outcome := range []unit.Outcome{
		unit.OutcomePass, unit.OutcomeFail, unit.OutcomeSkip,
		unit.OutcomeCrash, unit.OutcomeNotSupported,
	} {
		t.Run(string(outcome), func(t *testing.T) {
			decision := Gate(ctx, job, outcomeMap{ns + "::b": outcome}, store)
			assert.Equal(t, VerdictRun, decision.Verdict)
		})
	}

	t.Run("not-started blocks", func(t *testing.T) {
		decision := Gate(ctx, job, outcomeMap{ns + "::b": unit.OutcomeNotStarted}, store)
		assert.Equal(t, VerdictNotStarted, decision.Verdict)
	})
}

func TestGate_Salvages(t *testing.T) {
	ctx := context.Background()
	store := resource.NewStore()
	job := makeJob(t, unit.Spec{ID: "recovery", Salvages: "risky other"})

	t.Run("runs when a target failed", func(t *testing.T) {
		outcomes := outcomeMap{
			ns + "::risky": unit.OutcomePass,
			ns + "::other": unit.OutcomeFail,
		}
		assert.Equal(t, VerdictRun, Gate(ctx, job, outcomes, store).Verdict)
	})

	t.Run("skipped when nothing failed", func(t *testing.T) {
		outcomes := outcomeMap{
			ns + "::risky": unit.OutcomePass,
			ns + "::other": unit.OutcomeSkip,
		}
		decision := Gate(ctx, job, outcomes, store)
		assert.Equal(t, VerdictSkip, decision.Verdict)
		assert.Equal(t, "no salvage target failed", decision.Reason)
	})

	t.Run("crash does not count as failure", func(t *testing.T) {
		outcomes := outcomeMap{
			ns + "::risky": unit.OutcomeCrash,
			ns + "::other": unit.OutcomePass,
		}
		assert.Equal(t, VerdictSkip, Gate(ctx, job, outcomes, store).Verdict)
	})
}

func TestGate_Requires(t *testing.T) {
	ctx := context.Background()
	outcomes := outcomeMap{}

	bind := func(job *unit.Job) *unit.Job {
		job.Requires.Bind("device", ns+"::device")
		return job
	}

	t.Run("met requirement runs", func(t *testing.T) {
		store := resource.NewStore()
		rec := resource.NewRecord()
		rec.Set("category", "DISK")
		store.Replace(ns+"::device", []*resource.Record{rec})

		job := bind(makeJob(t, unit.Spec{ID: "a", Kind: "automated", Command: "true",
			Requires: `device.category == "DISK"`}))
		assert.Equal(t, VerdictRun, Gate(ctx, job, outcomes, store).Verdict)
	})

	t.Run("unmet requirement skips", func(t *testing.T) {
		store := resource.NewStore()
		job := bind(makeJob(t, unit.Spec{ID: "a", Kind: "automated", Command: "true",
			Requires: `device.category == "DISK"`}))
		decision := Gate(ctx, job, outcomes, store)
		assert.Equal(t, VerdictSkip, decision.Verdict)
		assert.Equal(t, "requirement not met", decision.Reason)
	})

	t.Run("fail-on-resource fails instead", func(t *testing.T) {
		store := resource.NewStore()
		job := bind(makeJob(t, unit.Spec{ID: "a", Kind: "automated", Command: "true",
			Requires: `device.category == "DISK"`, Flags: "fail-on-resource"}))
		decision := Gate(ctx, job, outcomes, store)
		assert.Equal(t, VerdictFail, decision.Verdict)
	})
}

func TestGate_Unconditional(t *testing.T) {
	job := makeJob(t, unit.Spec{ID: "a"})
	decision := Gate(context.Background(), job, outcomeMap{}, resource.NewStore())
	assert.Equal(t, VerdictRun, decision.Verdict)
	assert.Empty(t, decision.Reason)
}
