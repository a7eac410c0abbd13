package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/canonical/checkbox-sub003/internal/ctxlog"
	"github.com/canonical/checkbox-sub003/internal/unit"
)

// WorkerSubcommand is the CLI subcommand that switches the binary into
// worker mode.
const WorkerSubcommand = "trusted-worker"

// Supervisor is the unprivileged side of the boundary. One Supervisor
// serves a whole session; each Run spawns a fresh worker subprocess.
type Supervisor struct {
	// command is the worker argv, typically this binary plus the worker
	// subcommand.
	command []string
}

// New creates a Supervisor launching the current binary in worker mode.
func New() (*Supervisor, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot locate own binary for worker launch: %w", err)
	}
	return &Supervisor{command: []string{exe, WorkerSubcommand}}, nil
}

// NewWithCommand creates a Supervisor with an explicit worker argv.
// Used by tests and by setups that route the worker through a
// privilege-granting wrapper.
func NewWithCommand(argv ...string) *Supervisor {
	return &Supervisor{command: argv}
}

// Run executes one job's command through a worker and maps the outcome.
// env is the command's complete environment, already reduced to the
// job's allow-list. Run never returns an error: every failure mode is a
// specific outcome, so nothing escapes the session state machine.
func (s *Supervisor) Run(ctx context.Context, job *unit.Job, env map[string]string) unit.Result {
	logger := ctxlog.FromContext(ctx)

	req := Request{
		JobID:    job.ID.String(),
		Command:  job.Command,
		User:     job.User,
		Env:      env,
		NoReturn: job.Flags.Has(unit.FlagNoReturn),
	}
	if err := req.Validate(); err != nil {
		return unit.Result{Outcome: unit.OutcomeFail,
			Comment: fmt.Sprintf("launch request rejected: %v", err)}
	}

	worker := exec.CommandContext(ctx, s.command[0], s.command[1:]...)
	stdin, err := worker.StdinPipe()
	if err != nil {
		return crashed(fmt.Sprintf("cannot open worker stdin: %v", err))
	}
	stdout, err := worker.StdoutPipe()
	if err != nil {
		return crashed(fmt.Sprintf("cannot open worker stdout: %v", err))
	}
	worker.Stderr = os.Stderr

	if err := worker.Start(); err != nil {
		return crashed(fmt.Sprintf("cannot start worker: %v", err))
	}

	if err := json.NewEncoder(stdin).Encode(&req); err != nil {
		stdin.Close()
		worker.Wait()
		return crashed(fmt.Sprintf("cannot send launch request: %v", err))
	}
	stdin.Close()

	if req.NoReturn {
		// The machine is about to reboot or power off. Detach: the
		// session has already written its resume marker, and the
		// configured resume policy decides this job's fate next boot.
		logger.Info("Detaching from no-return job.", "job", job.ID.String())
		worker.Process.Release()
		return unit.Result{NoReturn: true}
	}

	var resp Response
	decodeErr := json.NewDecoder(stdout).Decode(&resp)
	waitErr := worker.Wait()
	if decodeErr != nil {
		return crashed(fmt.Sprintf("worker channel closed without a response: %v", decodeErr))
	}
	if waitErr != nil {
		logger.Warn("Worker exited abnormally after responding.",
			"job", job.ID.String(), "error", waitErr)
	}

	return s.mapResponse(job, resp)
}

func (s *Supervisor) mapResponse(job *unit.Job, resp Response) unit.Result {
	result := unit.Result{
		Output:     resp.Output,
		ReturnCode: resp.ReturnCode,
		Duration:   resp.Duration,
		Comment:    resp.Error,
	}

	switch resp.Status {
	case StatusOK:
		switch {
		case job.Kind == unit.KindAttachment:
			// Attachments capture output; a non-zero return code is not
			// a test failure.
			result.Outcome = unit.OutcomePass
		case resp.ReturnCode == 0:
			result.Outcome = unit.OutcomePass
		default:
			result.Outcome = unit.OutcomeFail
		}
	case StatusExecFailed:
		result.Outcome = unit.OutcomeFail
		if result.Comment == "" {
			result.Comment = "command execution failed"
		}
	case StatusPrivilegeDenied:
		result.Outcome = unit.OutcomeCrash
	default:
		result.Outcome = unit.OutcomeCrash
		result.Comment = fmt.Sprintf("unexpected worker status %q", resp.Status)
	}
	return result
}

func crashed(comment string) unit.Result {
	return unit.Result{Outcome: unit.OutcomeCrash, Comment: comment}
}
