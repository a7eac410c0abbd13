package unit

import "time"

// Result is what executing one job produced. It flows read-only from
// the launcher into the session state machine.
type Result struct {
	Outcome    Outcome
	Output     string
	ReturnCode int
	Duration   time.Duration
	// NoReturn marks a command that was launched but will not report
	// back (reboot, power-off). The session must leave a resume marker
	// instead of waiting.
	NoReturn bool
	// Comment carries a diagnostic or an operator remark.
	Comment string
}
