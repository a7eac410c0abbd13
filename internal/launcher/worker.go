package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/canonical/checkbox-sub003/internal/ctxlog"
)

// OutputLimit caps the bytes of command output kept per job. Anything
// past the cap is discarded, not buffered.
const OutputLimit = 1 << 20

// RunWorker is the privileged side of the boundary. It reads exactly
// one request from in, runs it, and writes exactly one response to out.
// The process exit code is zero whenever a response was written; the
// command's own verdict travels inside the response.
func RunWorker(ctx context.Context, in io.Reader, out io.Writer) error {
	var req Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("failed to decode launch request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return respond(out, Response{Status: StatusExecFailed,
			Error: fmt.Sprintf("request rejected: %v", err)})
	}

	resp := execute(ctx, &req)
	return respond(out, resp)
}

func respond(out io.Writer, resp Response) error {
	if err := json.NewEncoder(out).Encode(resp); err != nil {
		return fmt.Errorf("failed to encode launch response: %w", err)
	}
	return nil
}

func execute(ctx context.Context, req *Request) Response {
	logger := ctxlog.FromContext(ctx)

	var cmd *exec.Cmd
	if req.NoReturn {
		// Deliberately not context-bound: the command outlives both the
		// worker and, most likely, the operating system instance.
		cmd = exec.Command("sh", "-c", req.Command)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	} else {
		if req.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, req.Timeout)
			defer cancel()
		}
		cmd = exec.CommandContext(ctx, "sh", "-c", req.Command)
	}
	cmd.Env = flattenEnv(req.Env)

	if req.User != "" {
		cred, err := lookupCredential(req.User)
		if err != nil {
			logger.Error("Refusing launch: account switch unavailable.",
				"job", req.JobID, "user", req.User, "error", err)
			return Response{Status: StatusPrivilegeDenied,
				Error: fmt.Sprintf("cannot switch to user %s: %v", req.User, err)}
		}
		if cred != nil {
			if cmd.SysProcAttr == nil {
				cmd.SysProcAttr = &syscall.SysProcAttr{}
			}
			cmd.SysProcAttr.Credential = cred
		}
	}

	capture := newCappedBuffer(OutputLimit)
	if !req.NoReturn {
		cmd.Stdout = capture
		cmd.Stderr = capture
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if req.User != "" {
			// An EPERM here is the kernel refusing the credential, not
			// the command failing. Never downgrade and run anyway.
			return Response{Status: StatusPrivilegeDenied,
				Error: fmt.Sprintf("cannot switch to user %s: %v", req.User, err)}
		}
		return Response{Status: StatusExecFailed,
			Error: fmt.Sprintf("cannot start command: %v", err)}
	}

	if req.NoReturn {
		logger.Info("Command launched without waiting.", "job", req.JobID, "pid", cmd.Process.Pid)
		cmd.Process.Release()
		return Response{Status: StatusLaunched}
	}

	err := cmd.Wait()
	resp := Response{
		Status:   StatusOK,
		Output:   capture.String(),
		Duration: time.Since(start),
	}
	switch {
	case err == nil:
		resp.ReturnCode = 0
	case isExitError(err):
		resp.ReturnCode = cmd.ProcessState.ExitCode()
		if resp.ReturnCode < 0 {
			// Killed by a signal: there is no verdict to report.
			resp.Status = StatusExecFailed
			resp.Error = err.Error()
		}
	default:
		resp.Status = StatusExecFailed
		resp.Error = err.Error()
	}
	return resp
}

func isExitError(err error) bool {
	_, ok := err.(*exec.ExitError)
	return ok
}

// lookupCredential resolves an account name to a kernel credential. A
// nil credential with nil error means the target is already the current
// user and no switch is needed.
func lookupCredential(name string) (*syscall.Credential, error) {
	target, err := user.Lookup(name)
	if err != nil {
		return nil, err
	}
	current, err := user.Current()
	if err == nil && current.Uid == target.Uid {
		return nil, nil
	}

	uid, err := strconv.ParseUint(target.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("non-numeric uid %q", target.Uid)
	}
	gid, err := strconv.ParseUint(target.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("non-numeric gid %q", target.Gid)
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for key, value := range env {
		out = append(out, key+"="+value)
	}
	return out
}

// cappedBuffer keeps the first limit bytes written and silently drops
// the rest.
type cappedBuffer struct {
	buf   []byte
	limit int
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return string(b.buf)
}
