package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockExcludesSecondHolder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	lock, err := AcquireLock(ctx, dir)
	require.NoError(t, err)
	defer lock.Release()

	// The holder is this very process, so the lock is live, not stale.
	_, err = AcquireLock(ctx, dir)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestLockReleaseAllowsReacquire(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	lock, err := AcquireLock(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())

	second, err := AcquireLock(ctx, dir)
	require.NoError(t, err)
	second.Release()
}

func TestLockBreaksStaleHolder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, LockFileName)

	host, _ := os.Hostname()
	// PID 0 can never be a live session process.
	stale := lockInfo{PID: 0, Host: host, Acquired: time.Now().Add(-time.Hour)}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	lock, err := AcquireLock(ctx, dir)
	require.NoError(t, err)
	lock.Release()
}

func TestLockBreaksCorruptFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LockFileName), []byte("not json"), 0o644))

	lock, err := AcquireLock(ctx, dir)
	require.NoError(t, err)
	lock.Release()
}

func TestLockHonorsForeignHost(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, LockFileName)

	foreign := lockInfo{PID: 12345, Host: "some-other-host", Acquired: time.Now()}
	data, err := json.Marshal(foreign)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = AcquireLock(ctx, dir)
	assert.ErrorIs(t, err, ErrLocked)
}
