package lockmgr

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	mgr := New(t.TempDir())

	lock, err := mgr.Acquire("worktree", time.Second)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	mgr := New(t.TempDir())

	lock, err := mgr.Acquire("worktree", time.Second)
	require.NoError(t, err)

	_, err = mgr.Acquire("worktree", 150*time.Millisecond)
	require.Error(t, err, "second acquire should time out while first lock is held")

	require.NoError(t, lock.Release())

	lock2, err := mgr.Acquire("worktree", time.Second)
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}

func TestAcquireSweepsStaleLock(t *testing.T) {
	dir := t.TempDir()
	mgr := New(dir)

	// Simulate a lock left behind by a dead process.
	path := filepath.Join(dir, "worktree.lock")
	require.NoError(t, os.WriteFile(path, []byte("999999\n"), 0644))

	lock, err := mgr.Acquire("worktree", time.Second)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestSweepStaleRemovesDeadLocks(t *testing.T) {
	dir := t.TempDir()
	mgr := New(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.lock"), []byte("999999\n"), 0644))

	require.NoError(t, mgr.SweepStale())

	_, err := os.Stat(filepath.Join(dir, "a.lock"))
	require.True(t, os.IsNotExist(err))
}
