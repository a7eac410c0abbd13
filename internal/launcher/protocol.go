// Package launcher executes job commands through a privilege-separated
// supervisor/worker pair. The unprivileged supervisor sends one
// validated request to the worker subprocess over stdin and reads one
// response from its stdout; the worker runs exactly that command as
// exactly that account and nothing else. Job metadata, requires
// programs, and catalog state never cross the boundary.
package launcher

import (
	"fmt"
	"regexp"
	"time"

	"github.com/canonical/checkbox-sub003/internal/jobid"
)

// Request is the complete worker input. Every field is validated on
// both sides of the boundary.
type Request struct {
	// JobID identifies the job for logging; the worker never looks it
	// up anywhere.
	JobID string `json:"job_id"`
	// Command is the literal shell command to run.
	Command string `json:"command"`
	// User is the target account, empty to stay as the worker's own
	// user.
	User string `json:"user,omitempty"`
	// Env is the full environment of the command. The supervisor builds
	// it from the job's allow-list; nothing else leaks through.
	Env map[string]string `json:"env,omitempty"`
	// NoReturn marks a command that will not report back; the worker
	// starts it and exits without waiting.
	NoReturn bool `json:"no_return,omitempty"`
	// Timeout bounds the command's runtime, zero for none.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Status classifies how the worker's attempt ended.
type Status string

const (
	// StatusOK means the command ran to completion; ReturnCode holds
	// its verdict.
	StatusOK Status = "ok"
	// StatusExecFailed means the command could not be started or died
	// to a signal.
	StatusExecFailed Status = "exec-failed"
	// StatusPrivilegeDenied means the requested account switch was
	// refused. The command was never run: downgrading to the worker's
	// own user is not an option.
	StatusPrivilegeDenied Status = "privilege-denied"
	// StatusLaunched is the no-return acknowledgment: the command
	// started and nobody will wait for it.
	StatusLaunched Status = "launched"
)

// Response is the complete worker output.
type Response struct {
	Status     Status        `json:"status"`
	ReturnCode int           `json:"return_code"`
	Output     string        `json:"output,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// userPattern matches POSIX portable account names.
var userPattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]*\$?$`)

// envKeyPattern matches conventional environment variable names.
var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate rejects any request that does not fit the narrow schema the
// boundary allows. Called by the supervisor before sending and by the
// worker after decoding; the worker trusts nothing it reads.
func (r *Request) Validate() error {
	if _, err := jobid.Parse(r.JobID); err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}
	if r.Command == "" {
		return fmt.Errorf("empty command")
	}
	if r.User != "" && !userPattern.MatchString(r.User) {
		return fmt.Errorf("invalid target user %q", r.User)
	}
	for key := range r.Env {
		if !envKeyPattern.MatchString(key) {
			return fmt.Errorf("invalid environment variable name %q", key)
		}
	}
	if r.Timeout < 0 {
		return fmt.Errorf("negative timeout")
	}
	return nil
}
