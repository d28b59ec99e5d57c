// Package orchestrator implements the Orchestrator (component I): lane
// spec parsing and validation, DAG cycle detection, a concurrency-
// bounded ready queue honoring dependsOn, and terminal aggregation
// into a flow-level result and exit code. Generalized from the
// teacher's single dispatch-loop-over-a-flat-task-queue model into
// one goroutine per lane, admitted once its dependencies resolve.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/lanehive/lanehive/internal/agent"
	"github.com/lanehive/lanehive/internal/config"
	"github.com/lanehive/lanehive/internal/depcoord"
	"github.com/lanehive/lanehive/internal/eventbus"
	"github.com/lanehive/lanehive/internal/git"
	"github.com/lanehive/lanehive/internal/ids"
	"github.com/lanehive/lanehive/internal/integrator"
	"github.com/lanehive/lanehive/internal/lane"
	"github.com/lanehive/lanehive/internal/statestore"
	"github.com/lanehive/lanehive/internal/types"
)

// Exit codes, per the orchestrator CLI surface (spec §6).
const (
	ExitSuccess           = 0
	ExitLaneFailed        = 1
	ExitDependencyBlocked = 2
	ExitDAGValidation     = 3
	ExitPreflightFailure  = 4
)

// Orchestrator owns the set of Lane objects for one run: it parses and
// validates their specs, schedules their runners subject to
// maxConcurrentLanes and dependsOn, and invokes the Flow Integrator
// once every lane has reached a terminal state.
type Orchestrator struct {
	cfg      *config.Config
	log      hclog.Logger
	git      *git.Facade
	repoRoot string
	tasksDir string

	bus   *eventbus.Bus
	runID string
}

// New returns an Orchestrator for one run over the lane specs found
// under tasksDir.
func New(cfg *config.Config, log hclog.Logger, gitFacade *git.Facade, repoRoot, tasksDir string) *Orchestrator {
	return &Orchestrator{cfg: cfg, log: log, git: gitFacade, repoRoot: repoRoot, tasksDir: tasksDir}
}

// Bus returns the run's event bus. It is nil until Run creates it, so
// there is no way to subscribe before Run starts.
func (o *Orchestrator) Bus() *eventbus.Bus { return o.bus }

// RunID returns the current run's identifier.
func (o *Orchestrator) RunID() string { return o.runID }

// Run executes one full orchestration: preflight, lane scheduling,
// and flow integration. It returns a process exit code (spec §6)
// alongside any error worth logging.
func (o *Orchestrator) Run(ctx context.Context) (int, error) {
	lanes, order, err := ParseLaneSpecs(o.tasksDir)
	if err != nil {
		if _, ok := err.(*ValidationError); ok {
			o.log.Error("lane spec parse error", "error", err)
			return ExitDAGValidation, err
		}
		return ExitDAGValidation, err
	}
	if err := ValidateLaneSpecs(lanes); err != nil {
		o.log.Error("lane spec validation failed", "error", err)
		return ExitDAGValidation, err
	}
	if cycle := DetectCycle(lanes, order); cycle != nil {
		o.runID = ids.RunID(time.Now())
		o.bus = eventbus.New(o.runID)
		o.bus.Emit(eventbus.CategoryOrchestration, "orchestration.cycle_detected", "", eventbus.OrchestrationPayload{
			CycleLanes: cycle, Message: fmt.Sprintf("dependency cycle: %v", cycle),
		})
		return ExitDAGValidation, &ValidationError{Reason: fmt.Sprintf("dependency cycle detected: %v", cycle), Cycle: cycle}
	}
	topoOrder, err := TopologicalOrder(lanes, order)
	if err != nil {
		return ExitDAGValidation, err
	}

	if err := o.preflight(ctx); err != nil {
		o.log.Error("preflight failed", "error", err)
		return ExitPreflightFailure, err
	}

	o.runID = ids.RunID(time.Now())
	o.bus = eventbus.New(o.runID)
	runDir := filepath.Join(o.cfg.LogsRoot, "runs", o.runID)
	lanesRootDir := filepath.Join(runDir, "lanes")

	flowPath := filepath.Join(runDir, "flow.json")
	flow := types.Flow{
		RunID:        o.runID,
		BaseBranch:   o.cfg.BaseBranch,
		BranchPrefix: o.cfg.BranchPrefix,
		FeatureBranch: featureBranchName(o.tasksDir, o.runID),
		StartTime:    time.Now(),
		Status:       types.FlowRunning,
	}
	_ = statestore.Save(flowPath, flow)

	coord := depcoord.New(func(laneName string) string {
		return filepath.Join(lanesRootDir, laneName, "state.json")
	})

	o.runLanes(ctx, lanes, order, lanesRootDir, coord)

	finalStates, err := loadFinalStates(lanesRootDir, order)
	if err != nil {
		o.log.Error("failed to load final lane states", "error", err)
	}

	completed, blocked, failed := classify(finalStates)
	o.bus.Emit(eventbus.CategoryOrchestration, "orchestration.completed", "", eventbus.OrchestrationPayload{
		Completed: len(completed), Failed: len(failed), Partial: len(blocked),
	})

	if len(completed) > 0 && len(blocked) == 0 {
		intg := integrator.New(o.git, o.log, o.cfg)
		result, ierr := intg.Integrate(ctx, o.repoRoot, flow.FeatureBranch, flow.BaseBranch, lanes, topoOrder, finalStates)
		if ierr != nil || !result.Success {
			flow.Status = types.FlowFailed
			if ierr != nil {
				flow.Error = ierr.Error()
			} else {
				flow.Error = result.Error
			}
			_ = statestore.Save(flowPath, flow)
			o.bus.Emit(eventbus.CategoryOrchestration, "orchestration.failed", "", eventbus.OrchestrationPayload{Message: flow.Error})
			return ExitLaneFailed, fmt.Errorf("flow integration failed: %s", flow.Error)
		}
		flow.Status = types.FlowCompleted
		flow.IntegratedRef = result.IntegratedBranch
		_ = statestore.Save(flowPath, flow)
	} else if len(completed) > 0 {
		flow.Status = types.FlowPartial
		_ = statestore.Save(flowPath, flow)
	} else {
		flow.Status = types.FlowFailed
		flow.Error = "no lane completed"
		_ = statestore.Save(flowPath, flow)
	}

	switch {
	case len(blocked) > 0:
		return ExitDependencyBlocked, nil
	case len(failed) > 0:
		return ExitLaneFailed, nil
	case flow.Status == types.FlowFailed:
		return ExitLaneFailed, fmt.Errorf("flow failed: %s", flow.Error)
	default:
		return ExitSuccess, nil
	}
}

// preflight checks the startup preconditions shared by every lane:
// git installed, repoRoot is a repository, and the agent binary
// resolves and authenticates (spec §4.E "Startup preconditions").
func (o *Orchestrator) preflight(ctx context.Context) error {
	if !o.cfg.NoGit {
		if !o.git.IsInstalled() {
			return fmt.Errorf("git is not installed")
		}
		if !o.git.IsGitRepo(ctx, o.repoRoot) {
			return fmt.Errorf("%s is not a git repository", o.repoRoot)
		}
	}
	sup := agent.New(o.cfg, o.log, o.repoRoot, "")
	if err := sup.CheckPreconditions(ctx); err != nil {
		return fmt.Errorf("agent preflight: %w", err)
	}
	return nil
}

// runLanes admits each lane once its dependsOn lanes resolve, bounded
// by maxConcurrentLanes concurrently-running lanes. A lane whose
// dependency fails is marked failed(dependency) without ever starting
// a worktree or runner — it never occupies a concurrency slot.
func (o *Orchestrator) runLanes(ctx context.Context, lanes map[string]types.LaneSpec, order []string, lanesRootDir string, coord *depcoord.Coordinator) {
	sem := make(chan struct{}, o.cfg.MaxConcurrentLanes)
	var g errgroup.Group

	depTimeout := time.Duration(o.cfg.DependencyWaitTimeoutSeconds) * time.Second

	for _, name := range order {
		spec := lanes[name]
		g.Go(func() error {
			laneDir := filepath.Join(lanesRootDir, name)

			if len(spec.DependsOn) > 0 {
				if err := coord.WaitFor(ctx, spec.DependsOn, depTimeout); err != nil {
					o.recordDependencyBlocked(laneDir, name, spec, err)
					return nil
				}
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				o.recordCancelled(laneDir, name, spec)
				return nil
			}
			defer func() { <-sem }()

			deps := lane.Deps{
				Config:   o.cfg,
				Log:      o.log.Named(name),
				Bus:      o.bus,
				Git:      o.git,
				DepCoord: coord,
				RunID:    o.runID,
				RepoRoot: o.repoRoot,
				LaneDir:  laneDir,
				PofDir:   o.cfg.PofDirectory,
			}
			runner := lane.New(deps, spec, name)
			if err := runner.Run(ctx); err != nil {
				o.log.Warn("lane runner returned error", "lane", name, "error", err)
			}
			return nil
		})
	}

	_ = g.Wait()
}

// recordDependencyBlocked persists a terminal failed(dependency) state
// for a lane that never ran because one of its dependencies failed or
// timed out, so siblings polling this lane's state file and the final
// tally both observe it as terminal.
func (o *Orchestrator) recordDependencyBlocked(laneDir, name string, spec types.LaneSpec, cause error) {
	now := time.Now()
	state := types.LaneState{
		Label: name, Status: types.LaneFailed, TotalTasks: len(spec.Tasks),
		StartTime: now, EndTime: &now, UpdatedAt: now,
		DependsOn: spec.DependsOn,
		Error:     fmt.Sprintf("dependency failed: %v", cause),
	}
	_ = statestore.Save(filepath.Join(laneDir, "state.json"), state)
	o.bus.Emit(eventbus.CategoryLane, "lane.failed", name, eventbus.LanePayload{Status: string(types.LaneFailed), Error: state.Error})
}

func (o *Orchestrator) recordCancelled(laneDir, name string, spec types.LaneSpec) {
	now := time.Now()
	state := types.LaneState{
		Label: name, Status: types.LaneFailed, TotalTasks: len(spec.Tasks),
		StartTime: now, EndTime: &now, UpdatedAt: now,
		DependsOn: spec.DependsOn, Error: "cancelled before admission",
	}
	_ = statestore.Save(filepath.Join(laneDir, "state.json"), state)
	o.bus.Emit(eventbus.CategoryLane, "lane.failed", name, eventbus.LanePayload{Status: string(types.LaneFailed), Error: state.Error})
}

func loadFinalStates(lanesRootDir string, order []string) (map[string]types.LaneState, error) {
	states := make(map[string]types.LaneState, len(order))
	var firstErr error
	for _, name := range order {
		state, ok, err := statestore.Load[types.LaneState](filepath.Join(lanesRootDir, name, "state.json"))
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ok {
			states[name] = state
		}
	}
	return states, firstErr
}

// classify splits final lane states into completed, blocked-on-
// dependency-request, and otherwise-failed buckets.
func classify(states map[string]types.LaneState) (completed, blocked, failed []string) {
	for name, s := range states {
		switch {
		case s.Status == types.LaneCompleted:
			completed = append(completed, name)
		case s.Status == types.LaneFailed && s.DependencyRequest != nil:
			blocked = append(blocked, name)
		case s.Status == types.LaneFailed:
			failed = append(failed, name)
		}
	}
	return
}

// featureBranchName derives the integration branch name from the
// flow's spec directory and the run id (spec §4.J), e.g. "tasks" with
// run "run-1700000000000" -> "flow/tasks-run-1700000000000".
func featureBranchName(tasksDir, runID string) string {
	base := filepath.Base(filepath.Clean(tasksDir))
	if base == "." || base == "/" || base == "" {
		base = "flow"
	}
	return "flow/" + base + "-" + runID
}
