// Package lane implements the Lane Runner (component G): the FSM
// driving one lane from worktree preparation through its ordered task
// list to completion, generalized from the teacher's worker-pool-pulls-
// from-shared-queue model into one runner owning a fixed task list.
package lane

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/lanehive/lanehive/internal/agent"
	"github.com/lanehive/lanehive/internal/checkpoint"
	"github.com/lanehive/lanehive/internal/config"
	"github.com/lanehive/lanehive/internal/depcoord"
	"github.com/lanehive/lanehive/internal/eventbus"
	"github.com/lanehive/lanehive/internal/git"
	"github.com/lanehive/lanehive/internal/ids"
	"github.com/lanehive/lanehive/internal/recovery"
	"github.com/lanehive/lanehive/internal/statestore"
	"github.com/lanehive/lanehive/internal/types"
)

// Deps bundles a Runner's collaborators. They are concrete types; the
// Agent Supervisor is not among them, since Run builds it with agent.New.
type Deps struct {
	Config     *config.Config
	Log        hclog.Logger
	Bus        *eventbus.Bus
	Git        *git.Facade
	DepCoord   *depcoord.Coordinator
	RunID      string
	RepoRoot   string
	LaneDir    string // <logsRoot>/runs/<runId>/lanes/<laneName>
	PofDir     string
}

// Runner drives one lane's Spec to completion.
type Runner struct {
	deps  Deps
	spec  types.LaneSpec
	label string

	statePath string
	state     types.LaneState

	cp       *checkpoint.Manager
	detector *recovery.Detector
	sup      *agent.Supervisor
}

// New returns a Runner for spec, identified by label.
func New(deps Deps, spec types.LaneSpec, label string) *Runner {
	statePath := filepath.Join(deps.LaneDir, "state.json")
	return &Runner{
		deps:      deps,
		spec:      spec,
		label:     label,
		statePath: statePath,
		cp:        checkpoint.New(deps.LaneDir, deps.Git, deps.Log),
		detector:  recovery.New(deps.Log, deps.Config.Recovery, label, deps.RunID),
	}
}

// Run drives the lane to a terminal state (completed or failed),
// resuming from persisted state if state.json already exists.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.loadOrInit(); err != nil {
		return err
	}

	r.emit("lane.started", nil)

	if err := r.prepare(ctx); err != nil {
		return r.fail(ctx, fmt.Sprintf("preparation failed: %v", err))
	}

	if len(r.spec.DependsOn) > 0 {
		r.setPhase(types.LaneWaiting, PhaseWaiting)
		timeout := time.Duration(r.deps.Config.DependencyWaitTimeoutSeconds) * time.Second
		if err := r.deps.DepCoord.WaitFor(ctx, r.spec.DependsOn, timeout); err != nil {
			return r.fail(ctx, fmt.Sprintf("lane dependency wait failed: %v", err))
		}
		if err := r.mergeDependencyBranches(ctx, r.spec.DependsOn); err != nil {
			return r.fail(ctx, fmt.Sprintf("merging dependency branches failed: %v", err))
		}
	}

	r.sup = agent.New(r.deps.Config, r.deps.Log, r.state.WorktreeDir, r.deps.LaneDir)
	if err := r.sup.CheckPreconditions(ctx); err != nil {
		return r.fail(ctx, fmt.Sprintf("agent preconditions failed: %v", err))
	}
	if r.state.ChatID == "" {
		chatID, err := r.sup.CreateChat(ctx)
		if err != nil {
			return r.fail(ctx, fmt.Sprintf("create chat failed: %v", err))
		}
		r.state.ChatID = chatID
		r.persist()
	}

	for r.state.CurrentTaskIndex < len(r.spec.Tasks) {
		task := r.spec.Tasks[r.state.CurrentTaskIndex]
		if err := r.runTask(ctx, task); err != nil {
			return r.fail(ctx, fmt.Sprintf("task %q failed: %v", task.Name, err))
		}
		if r.state.Status == types.LaneFailed {
			// runTask already persisted a terminal blocked-on-dependency
			// state (dependencyRequest populated); nothing left to drive.
			return nil
		}

		r.state.CurrentTaskIndex++
		r.state.CompletedTasks = append(r.state.CompletedTasks, task.Name)
		r.persist()
	}

	now := time.Now()
	r.state.Status = types.LaneCompleted
	r.state.EndTime = &now
	r.persist()
	r.emit("lane.completed", nil)
	return nil
}

func (r *Runner) loadOrInit() error {
	existing, ok, err := statestore.Load[types.LaneState](r.statePath)
	if err != nil {
		return fmt.Errorf("load lane state: %w", err)
	}
	if ok {
		result, err := statestore.Validate(r.statePath, statestore.ValidateOptions{
			CheckWorktree: true, AutoRepair: true,
		})
		if err != nil {
			return fmt.Errorf("validate lane state: %w", err)
		}
		if result.RepairedState != nil {
			existing = *result.RepairedState
		}
		r.state = existing
		return nil
	}

	r.state = types.LaneState{
		Label:      r.label,
		Status:     types.LanePending,
		TotalTasks: len(r.spec.Tasks),
		StartTime:  time.Now(),
		UpdatedAt:  time.Now(),
		DependsOn:  r.spec.DependsOn,
	}
	return nil
}

func (r *Runner) prepare(ctx context.Context) error {
	r.setPhase(types.LaneRunning, PhasePreparing)

	baseBranch := r.spec.BaseBranch
	if baseBranch == "" {
		baseBranch = r.deps.Config.BaseBranch
	}
	pipelineBranch := r.spec.PipelineBranch
	if pipelineBranch == "" {
		pipelineBranch = r.state.PipelineBranch
	}
	if pipelineBranch == "" {
		pipelineBranch = r.deps.Config.BranchPrefix + ids.PipelineBranchSuffix(time.Now())
	}
	worktreeDir := r.spec.WorktreeRoot
	if worktreeDir == "" {
		worktreeDir = filepath.Join(r.deps.Config.WorktreeRoot, r.label)
	}

	if r.state.WorktreeDir != "" && r.deps.Git.IsValidWorktree(r.state.WorktreeDir) {
		worktreeDir = r.state.WorktreeDir
		pipelineBranch = r.state.PipelineBranch
	} else {
		if r.state.WorktreeDir != "" {
			_ = r.deps.Git.CleanupInvalidWorktreeDir(ctx, r.deps.RepoRoot, r.state.WorktreeDir)
		}
		if err := r.deps.Git.CreateWorktree(ctx, r.deps.RepoRoot, worktreeDir, pipelineBranch, baseBranch); err != nil {
			return err
		}
	}

	r.state.WorktreeDir = worktreeDir
	r.state.PipelineBranch = pipelineBranch
	r.persist()

	if pid := currentPID(); pid != 0 {
		r.state.PID = &pid
		r.persist()
	}
	return nil
}

// mergeDependencyBranches merges every satisfied lane named in deps
// (each a "lane" or "lane:task" reference) into this lane's worktree,
// so later tasks see their changes.
func (r *Runner) mergeDependencyBranches(ctx context.Context, deps []string) error {
	for _, dep := range deps {
		laneName, _, _ := cutDep(dep)
		depState, ok, err := statestore.Load[types.LaneState](r.depStatePath(laneName))
		if err != nil || !ok || depState.PipelineBranch == "" {
			continue
		}
		result, err := r.deps.Git.SafeMerge(ctx, r.state.WorktreeDir, depState.PipelineBranch, git.MergeOptions{
			NoFF: true, Message: "merge dependency " + laneName, AbortOnConflict: true,
		})
		if err != nil {
			return err
		}
		if result.Conflict {
			return fmt.Errorf("merging dependency %q produced a conflict in: %v", laneName, result.ConflictingFiles)
		}
	}
	return nil
}

// effectivePolicy returns the lane spec's own dependencyPolicy
// override if one was given, else the flow-level default.
func (r *Runner) effectivePolicy() types.DependencyPolicy {
	if r.spec.DependencyPolicy != nil {
		return *r.spec.DependencyPolicy
	}
	return r.deps.Config.DependencyPolicy
}

func (r *Runner) depStatePath(laneName string) string {
	return filepath.Join(filepath.Dir(r.deps.LaneDir), laneName, "state.json")
}

func cutDep(dep string) (lane, task string, hasTask bool) {
	for i := 0; i < len(dep); i++ {
		if dep[i] == ':' {
			return dep[:i], dep[i+1:], true
		}
	}
	return dep, "", false
}

func (r *Runner) persist() {
	r.state.UpdatedAt = time.Now()
	if err := statestore.Save(r.statePath, r.state); err != nil {
		r.deps.Log.Error("failed to persist lane state", "lane", r.label, "error", err)
	}
}

func (r *Runner) setPhase(status types.LaneStatus, phase Phase) {
	r.state.Status = status
	r.state.AddLog("info", string(phase), string(phase), nil)
	r.persist()
}

func (r *Runner) emit(eventType string, payload eventbus.Payload) {
	if r.deps.Bus == nil {
		return
	}
	if payload == nil {
		payload = eventbus.LanePayload{Status: string(r.state.Status)}
	}
	r.deps.Bus.Emit(eventbus.CategoryLane, eventType, r.label, payload)
}

func (r *Runner) fail(_ context.Context, reason string) error {
	now := time.Now()
	r.state.Status = types.LaneFailed
	r.state.Error = reason
	r.state.EndTime = &now
	r.persist()
	r.emit("lane.failed", eventbus.LanePayload{Status: string(types.LaneFailed), Error: reason})
	return fmt.Errorf("lane %s: %s", r.label, reason)
}
