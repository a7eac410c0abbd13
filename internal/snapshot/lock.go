package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/avast/retry-go"

	"github.com/canonical/checkbox-sub003/internal/ctxlog"
)

// LockFileName is the lock file inside a session directory.
const LockFileName = "session.lock"

// ErrLocked means another live process owns the session.
var ErrLocked = errors.New("session is locked by another process")

// lockInfo identifies the holder, so a stale lock left by a dead
// process, or by this machine before a reboot, can be broken.
type lockInfo struct {
	PID      int       `json:"pid"`
	Host     string    `json:"host"`
	Acquired time.Time `json:"acquired"`
}

// Lock is an acquired single-owner session lock.
type Lock struct {
	path string
}

// AcquireLock takes the session lock, retrying briefly so that two
// invocations racing over a session directory settle rather than both
// failing. A lock held by a process that no longer exists on this host
// is stale and gets broken; a lock from another host cannot be probed
// and is honored until its holder releases it.
func AcquireLock(ctx context.Context, dir string) (*Lock, error) {
	logger := ctxlog.FromContext(ctx)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	path := filepath.Join(dir, LockFileName)

	err := retry.Do(
		func() error { return tryLock(ctx, path) },
		retry.Attempts(5),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrLocked) }),
	)
	if err != nil {
		return nil, err
	}

	logger.Debug("Session lock acquired.", "path", path)
	return &Lock{path: path}, nil
}

// tryLock attempts a single exclusive-create of the lock file, breaking
// a stale one first.
func tryLock(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		holder, ok := readLockInfo(path)
		if !ok || lockIsStale(holder) {
			ctxlog.FromContext(ctx).Warn("Breaking stale session lock.",
				"path", path, "pid", holder.PID, "host", holder.Host)
			os.Remove(path)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		holder, _ := readLockInfo(path)
		return fmt.Errorf("%w (pid %d on %s)", ErrLocked, holder.PID, holder.Host)
	}
	if err != nil {
		return fmt.Errorf("failed to create session lock: %w", err)
	}
	defer f.Close()

	host, _ := os.Hostname()
	info := lockInfo{PID: os.Getpid(), Host: host, Acquired: time.Now().UTC()}
	if err := json.NewEncoder(f).Encode(info); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write session lock: %w", err)
	}
	return nil
}

func readLockInfo(path string) (lockInfo, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lockInfo{}, false
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		// An unreadable lock counts as stale: whatever wrote it did not
		// finish, so no live holder can exist.
		return lockInfo{}, false
	}
	return info, true
}

// lockIsStale reports whether the holder is provably gone. Only locks
// from this host can be probed; signal 0 checks existence without
// touching the process.
func lockIsStale(holder lockInfo) bool {
	host, _ := os.Hostname()
	if holder.Host != host {
		return false
	}
	if holder.PID <= 0 {
		return true
	}
	proc, err := os.FindProcess(holder.PID)
	if err != nil {
		return true
	}
	return proc.Signal(syscall.Signal(0)) != nil
}

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release session lock: %w", err)
	}
	return nil
}
