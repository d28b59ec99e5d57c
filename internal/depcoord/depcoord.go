// Package depcoord implements the Dependency Coordinator (component
// H): lanes and tasks can declare "dependsOn" references to other
// lanes (or specific "lane:task" pairs), and a waiting lane polls
// those lanes' persisted state until the dependency is satisfied,
// permanently failed, or the wait itself times out.
package depcoord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lanehive/lanehive/internal/statestore"
	"github.com/lanehive/lanehive/internal/types"
)

// pollInterval is how often WaitFor re-reads the state files of the
// dependencies it is still waiting on.
const pollInterval = 500 * time.Millisecond

// Unsatisfiable is returned when a dependency can never be satisfied,
// e.g. because the lane it names has already failed.
type Unsatisfiable struct {
	Dependency string
	Reason     string
}

func (u *Unsatisfiable) Error() string {
	return fmt.Sprintf("dependency %q is permanently unsatisfiable: %s", u.Dependency, u.Reason)
}

// StatePath resolves a lane name to the path of its persisted
// LaneState file, matching the run directory layout
// <logsDir>/runs/<runId>/lanes/<laneName>/state.json.
type StatePath func(laneName string) string

// Coordinator waits on lane/task dependencies for one run.
type Coordinator struct {
	statePath StatePath
}

// New returns a Coordinator that resolves lane state files via resolve.
func New(resolve StatePath) *Coordinator {
	return &Coordinator{statePath: resolve}
}

// WaitFor blocks until every dependency in deps is satisfied, or
// returns an error: Unsatisfiable if any dependency's lane has
// permanently failed, or a timeout error if waiting exceeds timeout.
func (c *Coordinator) WaitFor(ctx context.Context, deps []string, timeout time.Duration) error {
	if len(deps) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	pending := append([]string{}, deps...)
	for {
		remaining := pending[:0]
		for _, dep := range pending {
			satisfied, err := c.check(dep)
			if err != nil {
				return err
			}
			if !satisfied {
				remaining = append(remaining, dep)
			}
		}
		pending = remaining
		if len(pending) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out after %s waiting for dependencies: %s", timeout, strings.Join(pending, ", "))
		case <-ticker.C:
		}
	}
}

// check reports whether dep ("lane" or "lane:task") is currently
// satisfied, and returns Unsatisfiable if the referenced lane has
// permanently failed.
func (c *Coordinator) check(dep string) (bool, error) {
	laneName, taskName, hasTask := strings.Cut(dep, ":")

	state, ok, err := statestore.Load[types.LaneState](c.statePath(laneName))
	if err != nil {
		return false, fmt.Errorf("read state for dependency %q: %w", dep, err)
	}
	if !ok {
		return false, nil
	}

	if state.Status == types.LaneFailed {
		return false, &Unsatisfiable{Dependency: dep, Reason: fmt.Sprintf("lane %q failed", laneName)}
	}

	if !hasTask {
		return state.Status == types.LaneCompleted, nil
	}

	for _, completed := range state.CompletedTasks {
		if completed == taskName {
			return true, nil
		}
	}
	return false, nil
}
