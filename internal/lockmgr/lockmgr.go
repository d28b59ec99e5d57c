// Package lockmgr provides cross-process, file-based named mutexes
// with stale-lock detection by owner PID liveness. Used by the Git
// Facade to serialize worktree creation and by any other component
// that needs a named lock under the repo's internal directory.
package lockmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"math/rand/v2"

	"github.com/lanehive/lanehive/internal/procutil"
)

// Manager acquires and releases named locks under a root directory
// (typically "<repoRoot>/<internalDir>/locks/").
type Manager struct {
	root string
}

// New creates a Manager rooted at dir.
func New(dir string) *Manager {
	return &Manager{root: dir}
}

// Lock represents a held lock. Release must be called exactly once.
type Lock struct {
	path string
}

// minPoll and maxPoll bound the jittered wait between acquire retries
// (each retry is preceded by a stale-lock sweep).
const minPoll = 50 * time.Millisecond
const maxPoll = 250 * time.Millisecond

// Acquire creates a named lock file, waiting with jittered backoff up
// to timeout. A lock whose owner PID is no longer alive is swept
// before each retry.
func (m *Manager) Acquire(name string, timeout time.Duration) (*Lock, error) {
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	path := filepath.Join(m.root, name+".lock")

	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock %s: %w", name, err)
		}

		m.sweepIfStale(path)

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out acquiring lock %q after %s", name, timeout)
		}

		jitter := minPoll + time.Duration(rand.Int64N(int64(maxPoll-minPoll)))
		time.Sleep(jitter)
	}
}

// Release deletes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// sweepIfStale removes path if the PID recorded inside it is dead.
func (m *Manager) sweepIfStale(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return
	}
	if procutil.IsAlive(pid) {
		return
	}
	os.Remove(path)
}

// SweepStale removes every lock file in root whose owner PID is dead.
// Intended to be run opportunistically (e.g. at orchestrator start).
func (m *Manager) SweepStale() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m.sweepIfStale(filepath.Join(m.root, e.Name()))
	}
	return nil
}
