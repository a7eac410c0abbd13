package unit

// Outcome is the final disposition of one job within a session.
type Outcome string

const (
	// OutcomeNone marks a job that has produced no result yet.
	OutcomeNone Outcome = ""
	// OutcomePass means the job ran and succeeded.
	OutcomePass Outcome = "pass"
	// OutcomeFail means the job ran and reported failure.
	OutcomeFail Outcome = "fail"
	// OutcomeSkip means the job was not run, typically because its
	// requires program evaluated false or a dependency failed.
	OutcomeSkip Outcome = "skip"
	// OutcomeCrash means the job or the machinery running it died
	// without producing a verdict.
	OutcomeCrash Outcome = "crash"
	// OutcomeNotStarted marks a job whose dependency never reached a
	// state that would let it run. Distinct from skip: nothing was
	// decided about the job itself.
	OutcomeNotStarted Outcome = "not-started"
	// OutcomeUndecided means an interactive verification is still
	// pending an operator answer.
	OutcomeUndecided Outcome = "undecided"
	// OutcomeNotSupported means the job does not apply to this machine.
	OutcomeNotSupported Outcome = "not-supported"
)

// Terminal reports whether the outcome ends the job for this session.
// OutcomeNotStarted is deliberately not terminal: the job never entered
// execution, and a dependency edge waiting on it must not fire.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomePass, OutcomeFail, OutcomeSkip, OutcomeCrash, OutcomeNotSupported:
		return true
	}
	return false
}
