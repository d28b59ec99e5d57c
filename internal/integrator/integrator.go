// Package integrator implements the Flow Integrator (component J): the
// final sequential merge of every successful lane's pipeline branch
// into one feature branch, in dependency order, aborting and restoring
// on the first conflict.
package integrator

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/lanehive/lanehive/internal/config"
	"github.com/lanehive/lanehive/internal/git"
	"github.com/lanehive/lanehive/internal/types"
)

// Result reports the outcome of one integration run.
type Result struct {
	Success          bool
	IntegratedBranch string
	Error            string
	ConflictLane     string
	ConflictFiles    []string
}

// Integrator performs the Flow Integrator's final merge step.
type Integrator struct {
	git *git.Facade
	log hclog.Logger
	cfg *config.Config
}

// New returns an Integrator using gitFacade against the main repo.
func New(gitFacade *git.Facade, log hclog.Logger, cfg *config.Config) *Integrator {
	return &Integrator{git: gitFacade, log: log.Named("integrator"), cfg: cfg}
}

// Integrate checks out baseBranch, creates featureBranch from it, and
// merges each completed lane's pipeline branch into it in topoOrder.
// On the first conflict it aborts the merge, resets the integrated
// branch back to its pre-merge commit, and returns a failed Result
// naming the offending lane and files. Lanes that did not complete
// (failed or blocked) are skipped.
func (i *Integrator) Integrate(ctx context.Context, repoRoot, featureBranch, baseBranch string, lanes map[string]types.LaneSpec, topoOrder []string, states map[string]types.LaneState) (Result, error) {
	if err := i.git.Checkout(ctx, repoRoot, baseBranch); err != nil {
		return Result{}, fmt.Errorf("checkout base branch %s: %w", baseBranch, err)
	}
	if err := i.git.CheckoutNewBranch(ctx, repoRoot, featureBranch, baseBranch); err != nil {
		return Result{}, fmt.Errorf("create feature branch %s: %w", featureBranch, err)
	}

	for _, name := range topoOrder {
		state, ok := states[name]
		if !ok || state.Status != types.LaneCompleted || state.PipelineBranch == "" {
			continue
		}

		priorCommit, err := i.git.CommitHash(ctx, repoRoot)
		if err != nil {
			return Result{}, fmt.Errorf("read integrated branch HEAD before merging %s: %w", name, err)
		}

		i.log.Info("merging lane into feature branch", "lane", name, "branch", state.PipelineBranch)
		mergeResult, err := i.git.SafeMerge(ctx, repoRoot, state.PipelineBranch, git.MergeOptions{
			NoFF: true, Message: "integrate lane " + name, AbortOnConflict: true,
		})
		if err != nil {
			return Result{}, fmt.Errorf("merge lane %s: %w", name, err)
		}
		if mergeResult.Conflict {
			if resetErr := i.git.ResetToCommit(ctx, repoRoot, priorCommit); resetErr != nil {
				i.log.Error("failed to restore integrated branch after conflict", "error", resetErr)
			}
			return Result{
				Success: false, IntegratedBranch: featureBranch,
				Error:         "Merge conflict during integration",
				ConflictLane:  name, ConflictFiles: mergeResult.ConflictingFiles,
			}, nil
		}
	}

	if err := i.git.Push(ctx, repoRoot, featureBranch, false); err != nil {
		i.log.Warn("push of integrated branch failed (continuing, may be a local-only run)", "error", err)
	}

	if i.cfg.CleanupLaneBranchesOnIntegration {
		i.cleanupLaneBranches(ctx, repoRoot, topoOrder, states)
	}

	return Result{Success: true, IntegratedBranch: featureBranch}, nil
}

// cleanupLaneBranches best-effort deletes each completed lane's
// pipeline branch, local and remote, once integration has succeeded.
func (i *Integrator) cleanupLaneBranches(ctx context.Context, repoRoot string, order []string, states map[string]types.LaneState) {
	for _, name := range order {
		state, ok := states[name]
		if !ok || state.Status != types.LaneCompleted || state.PipelineBranch == "" {
			continue
		}
		if err := i.git.DeleteBranch(ctx, repoRoot, state.PipelineBranch, i.git.HasRemote(ctx, repoRoot)); err != nil {
			i.log.Warn("failed to clean up lane branch", "lane", name, "branch", state.PipelineBranch, "error", err)
		}
	}
}
