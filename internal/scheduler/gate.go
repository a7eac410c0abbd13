package scheduler

import (
	"context"
	"fmt"

	"github.com/canonical/checkbox-sub003/internal/ctxlog"
	"github.com/canonical/checkbox-sub003/internal/resource"
	"github.com/canonical/checkbox-sub003/internal/unit"
)

// Verdict is Gate's decision about one job at its turn in the order.
type Verdict int

const (
	// VerdictRun means every gate passed; launch the job.
	VerdictRun Verdict = iota
	// VerdictSkip means the job must not run and gets OutcomeSkip.
	VerdictSkip
	// VerdictFail means the job must not run and gets OutcomeFail; the
	// fail-on-resource flag turns an unmet requirement into a failure.
	VerdictFail
	// VerdictNotStarted means a dependency never reached a state that
	// would let this job run; the job gets OutcomeNotStarted.
	VerdictNotStarted
)

// Decision pairs a verdict with its human-readable cause.
type Decision struct {
	Verdict Verdict
	Reason  string
}

// Outcomes is the read view the gate needs over session results.
type Outcomes interface {
	Outcome(id string) unit.Outcome
}

// Gate decides whether a job may run now. The caller walks jobs in
// resolved order, so every edge target has already had its turn.
func Gate(ctx context.Context, job *unit.Job, outcomes Outcomes, store *resource.Store) Decision {
	logger := ctxlog.FromContext(ctx)

	for _, id := range job.Depends {
		switch outcome := outcomes.Outcome(id.String()); outcome {
		case unit.OutcomePass:
		case unit.OutcomeFail, unit.OutcomeCrash:
			return Decision{VerdictSkip, fmt.Sprintf("dependency %s failed (%s)", id, outcome)}
		default:
			// The dependency was skipped or never started, so nothing
			// was ever decided about it. That propagates as
			// not-started, deliberately distinct from skip.
			return Decision{VerdictNotStarted, fmt.Sprintf("dependency %s did not run (%s)", id, describe(outcome))}
		}
	}

	for _, id := range job.After {
		if outcome := outcomes.Outcome(id.String()); !outcome.Terminal() {
			return Decision{VerdictNotStarted, fmt.Sprintf("predecessor %s did not finish (%s)", id, describe(outcome))}
		}
	}

	if len(job.Salvages) > 0 {
		failed := false
		for _, id := range job.Salvages {
			if outcomes.Outcome(id.String()) == unit.OutcomeFail {
				failed = true
				break
			}
		}
		if !failed {
			return Decision{VerdictSkip, "no salvage target failed"}
		}
	}

	if job.Requires != nil && !job.Requires.Evaluate(ctx, store) {
		reason := "requirement not met"
		if job.Flags.Has(unit.FlagFailOnResource) {
			logger.Debug("Requirement unmet, failing per flag.", "job", job.ID.String())
			return Decision{VerdictFail, reason}
		}
		return Decision{VerdictSkip, reason}
	}

	return Decision{Verdict: VerdictRun}
}

func describe(outcome unit.Outcome) string {
	if outcome == unit.OutcomeNone {
		return "no result"
	}
	return string(outcome)
}
