// Package run drives a session: one job at a time through the resolved
// order, a gate decision before each launch, a durable snapshot after
// every transition. The snapshot is the only thing that survives a
// process death, so it is written before a job starts and again after
// its result lands; a crash at any point loses at most the in-flight
// job's result.
package run

import "fmt"

// State is the session lifecycle phase.
type State string

const (
	// StateNew means the selection is fixed and nothing has executed.
	StateNew State = "new"
	// StateRunning means jobs are being driven through the order.
	StateRunning State = "running"
	// StateSuspended means a job announced an imminent reboot or
	// power-off; a resume marker is on disk and the process exited
	// cleanly.
	StateSuspended State = "suspended"
	// StateInterrupted means the process died without a clean suspend.
	// Only ever observed on load, never set by a live session.
	StateInterrupted State = "interrupted"
	// StateCompleted means every selected job reached a terminal
	// outcome.
	StateCompleted State = "completed"
)

// ResumePolicy decides the fate of a no-return job found in flight when
// a session restarts. The machine rebooted as that job intended, but
// whether the reboot constitutes success is the operator's call.
type ResumePolicy string

const (
	// ResumePass treats the completed reboot as the job passing.
	ResumePass ResumePolicy = "pass"
	// ResumeCrash records the job as crashed, the conservative default:
	// nothing proves the command itself succeeded.
	ResumeCrash ResumePolicy = "crash"
	// ResumeRerun forgets the launch and runs the job again.
	ResumeRerun ResumePolicy = "rerun"
)

// ParseResumePolicy validates a policy name, defaulting empty to crash.
func ParseResumePolicy(s string) (ResumePolicy, error) {
	switch ResumePolicy(s) {
	case "":
		return ResumeCrash, nil
	case ResumePass, ResumeCrash, ResumeRerun:
		return ResumePolicy(s), nil
	}
	return "", fmt.Errorf("unknown resume policy %q (want pass, crash, or rerun)", s)
}
