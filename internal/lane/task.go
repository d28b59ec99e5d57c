package lane

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/lanehive/lanehive/internal/agent"
	"github.com/lanehive/lanehive/internal/eventbus"
	"github.com/lanehive/lanehive/internal/git"
	"github.com/lanehive/lanehive/internal/recovery"
	"github.com/lanehive/lanehive/internal/types"
)

// knownLockfiles are cleared read-only by lockfileReadOnly, covering
// the package managers a worktree is likely to contain.
var knownLockfiles = []string{
	"package-lock.json", "yarn.lock", "pnpm-lock.yaml",
	"go.sum", "Cargo.lock", "poetry.lock", "Gemfile.lock",
}

// applyDependencyPolicy clears write bits on package.json and known
// lockfiles per policy, best-effort: a missing file is silently
// skipped, since not every worktree uses every package manager.
func applyDependencyPolicy(log hclog.Logger, worktreeDir string, policy types.DependencyPolicy) {
	if worktreeDir == "" {
		return
	}
	if !policy.AllowDependencyChange {
		clearWriteBits(log, filepath.Join(worktreeDir, "package.json"))
	}
	if policy.LockfileReadOnly {
		for _, name := range knownLockfiles {
			clearWriteBits(log, filepath.Join(worktreeDir, name))
		}
	}
}

func clearWriteBits(log hclog.Logger, path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if err := os.Chmod(path, info.Mode()&^0222); err != nil {
		log.Warn("failed to clear write bits for dependency policy", "path", path, "error", err)
	}
}

var branchUnsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._/-]+`)

func sanitizeBranchSegment(s string) string {
	return branchUnsafeChars.ReplaceAllString(s, "-")
}

// runTask executes one task of the lane's ordered list: checkpoint,
// task-level dependency wait, branch checkout, agent send (with the
// auto-recovery ladder driving retries), commit, push-with-fallback,
// merge-to-pipeline, and push-pipeline.
func (r *Runner) runTask(ctx context.Context, task types.TaskSpec) error {
	r.setPhase(types.LaneRunning, PhaseRunning)

	if _, err := r.cp.Create(ctx, r.state, r.state.WorktreeDir, "before task "+task.Name); err != nil {
		r.deps.Log.Warn("checkpoint failed, continuing", "task", task.Name, "error", err)
	}

	if len(task.DependsOn) > 0 {
		r.setPhase(types.LaneWaiting, PhaseWaiting)
		r.state.WaitingFor = task.DependsOn
		r.persist()
		timeout := time.Duration(r.deps.Config.DependencyWaitTimeoutSeconds) * time.Second
		if err := r.deps.DepCoord.WaitFor(ctx, task.DependsOn, timeout); err != nil {
			return fmt.Errorf("task dependency wait: %w", err)
		}
		if err := r.mergeDependencyBranches(ctx, task.DependsOn); err != nil {
			return fmt.Errorf("merging task dependency branches: %w", err)
		}
		r.state.WaitingFor = nil
		r.setPhase(types.LaneRunning, PhaseRunning)
	}

	applyDependencyPolicy(r.deps.Log, r.state.WorktreeDir, r.effectivePolicy())

	taskBranch := sanitizeBranchSegment(r.state.PipelineBranch + "--" + task.Name)
	if err := r.deps.Git.CheckoutNewBranch(ctx, r.state.WorktreeDir, taskBranch, r.state.PipelineBranch); err != nil {
		return fmt.Errorf("checkout task branch: %w", err)
	}

	result, err := r.sendWithRecovery(ctx, task)
	if err != nil {
		return err
	}

	if result.DependencyRequest != nil && !r.effectivePolicy().AllowDependencyChange {
		now := time.Now()
		r.state.Status = types.LaneFailed
		r.state.DependencyRequest = result.DependencyRequest
		r.state.Error = "blocked on dependency change: " + result.DependencyRequest.Reason
		r.state.EndTime = &now
		r.persist()
		r.emit("lane.dependency_requested", eventbus.LanePayload{Status: string(types.LaneFailed), Error: r.state.Error})
		return nil
	}

	if !result.Success {
		return fmt.Errorf("agent reported task %q as unsuccessful", task.Name)
	}

	r.setPhase(types.LaneRunning, PhaseCommitting)
	if _, err := r.deps.Git.Commit(ctx, r.state.WorktreeDir, "lanehive: "+task.Name); err != nil {
		return fmt.Errorf("commit task %q: %w", task.Name, err)
	}

	r.setPhase(types.LaneRunning, PhasePushing)
	pushResult, err := r.deps.Git.PushWithFallbackBranchName(ctx, r.state.WorktreeDir, taskBranch, 3)
	if err != nil {
		return fmt.Errorf("push task branch: %w", err)
	}

	r.setPhase(types.LaneRunning, PhaseMerging)
	if err := r.deps.Git.Checkout(ctx, r.state.WorktreeDir, r.state.PipelineBranch); err != nil {
		return fmt.Errorf("checkout pipeline branch: %w", err)
	}
	mergeResult, err := r.deps.Git.SafeMerge(ctx, r.state.WorktreeDir, pushResult.FinalBranchName, git.MergeOptions{
		NoFF: true, Message: "merge task " + task.Name, AbortOnConflict: true,
	})
	if err != nil {
		return fmt.Errorf("merge task %q into pipeline: %w", task.Name, err)
	}
	if mergeResult.Conflict {
		return fmt.Errorf("merge conflict for task %q in: %v", task.Name, mergeResult.ConflictingFiles)
	}

	if err := r.deps.Git.Push(ctx, r.state.WorktreeDir, r.state.PipelineBranch, false); err != nil {
		return fmt.Errorf("push pipeline branch: %w", err)
	}

	r.detector.Reset()
	return nil
}

// sendWithRecovery drives one task's agent interaction, letting the
// Stall Detector's ladder decide whether to resend with a nudge, a
// stronger prompt, restart the chat session, diagnose, or abort —
// since each Send is a fresh process spawn rather than a long-lived
// interactive one, "continue"/"stronger prompt" actions take effect on
// the next spawn rather than by writing into a live stdin. A ticker
// evaluates the ladder against the detector's idle clock on its own
// cadence while a send is in flight, independent of the send's own
// hard timeout, and cancels the in-flight send the moment it escalates
// so the new rung's action can be applied immediately.
func (r *Runner) sendWithRecovery(ctx context.Context, task types.TaskSpec) (agent.SendResult, error) {
	prompt := buildPrompt(task, r.label, false, false)
	onActivity := func(n int, snippet string) { r.detector.OnActivity(n, snippet) }

	timeout := time.Duration(r.deps.Config.DefaultTaskTimeoutSeconds) * time.Second
	if task.TimeoutMs > 0 {
		timeout = time.Duration(task.TimeoutMs) * time.Millisecond
	}

	tickInterval := time.Duration(r.deps.Config.Recovery.TickIntervalSeconds) * time.Second
	if tickInterval <= 0 {
		tickInterval = 10 * time.Second
	}

	var diag types.DiagnosticInfo
	for {
		attemptCtx, cancelAttempt := context.WithCancel(ctx)

		var mu sync.Mutex
		var tickedAction recovery.Action

		ticker := recovery.StartTicker(r.deps.Log, tickInterval,
			func() recovery.Action { return r.detector.Evaluate("idle timeout exceeded") },
			func(action recovery.Action) {
				mu.Lock()
				tickedAction = action
				mu.Unlock()
				r.emitRecoveryEvent(action)
				cancelAttempt()
			})

		result, err := r.sup.Send(attemptCtx, prompt, agent.SendOptions{Model: task.Model, Timeout: timeout, OnActivity: onActivity})
		ticker.Stop()
		cancelAttempt()

		if err == nil {
			return result, nil
		}

		mu.Lock()
		action := tickedAction
		mu.Unlock()

		if action == "" {
			action = r.detector.Evaluate(err.Error())
			r.deps.Log.Warn("agent send failed, consulting recovery ladder", "task", task.Name, "action", action, "error", err)
			r.emitRecoveryEvent(action)
		} else {
			r.deps.Log.Warn("agent send interrupted by recovery ladder tick", "task", task.Name, "action", action)
		}

		switch action {
		case recovery.ActionSendContinue:
			prompt = buildPrompt(task, r.label, true, false)
		case recovery.ActionSendStronger:
			prompt = buildPrompt(task, r.label, true, true)
		case recovery.ActionRestartAgent:
			chatID, cerr := r.sup.CreateChat(ctx)
			if cerr != nil {
				return agent.SendResult{}, fmt.Errorf("restart agent: %w", cerr)
			}
			r.state.ChatID = chatID
			r.persist()
		case recovery.ActionDiagnose:
			diag = r.diagnose(ctx)
		case recovery.ActionAbort:
			if pmErr := writePostMortem(r.deps.PofDir, r.deps.RunID, r.state, r.detector.State(), diag, types.RootCause{
				Type: "agent_unresponsive", Description: strings.TrimSpace(err.Error()),
			}); pmErr != nil {
				r.deps.Log.Error("failed to write post-mortem", "error", pmErr)
			}
			return agent.SendResult{}, fmt.Errorf("recovery ladder exhausted: %w", err)
		default:
			return agent.SendResult{}, err
		}
	}
}

// emitRecoveryEvent maps a ladder action to the distinct event type for
// its rung; ActionNone emits nothing.
func (r *Runner) emitRecoveryEvent(action recovery.Action) {
	var eventType string
	switch action {
	case recovery.ActionSendContinue:
		eventType = "recovery.continue_signal"
	case recovery.ActionSendStronger:
		eventType = "recovery.stronger_prompt"
	case recovery.ActionRestartAgent:
		eventType = "recovery.restart"
	case recovery.ActionDiagnose:
		eventType = "recovery.diagnosed"
	case recovery.ActionAbort:
		eventType = "recovery.aborted"
	default:
		return
	}
	state := r.detector.State()
	r.emit(eventType, eventbus.RecoveryPayload{
		Stage:           string(state.Stage),
		RestartCount:    state.RestartCount,
		ContinueSignals: state.ContinueSignalsSent,
	})
}

func (r *Runner) diagnose(ctx context.Context) types.DiagnosticInfo {
	diag := types.DiagnosticInfo{FilesystemOK: true}
	diag.AgentInstalled = r.sup.CheckPreconditions(ctx) == nil
	diag.Authenticated = diag.AgentInstalled
	diag.RemoteOK = r.deps.Git.HasRemote(ctx, r.state.WorktreeDir)
	return diag
}
