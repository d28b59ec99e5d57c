package statestore

import (
	"os"

	"github.com/lanehive/lanehive/internal/procutil"
	"github.com/lanehive/lanehive/internal/types"
)

// ValidateOptions controls which cross-checks Validate performs.
type ValidateOptions struct {
	CheckWorktree bool
	CheckBranch   bool
	AutoRepair    bool
	// BranchExists is supplied by the caller (internal/git) so this
	// package never shells out to git itself.
	BranchExists func(branch string) bool
}

// ValidateResult reports issues found in a persisted LaneState and,
// if AutoRepair was requested, the repaired value.
type ValidateResult struct {
	Valid         bool
	Issues        []string
	Repaired      bool
	RepairedState *types.LaneState
}

// Validate loads the LaneState at path and checks its invariants:
// currentTaskIndex <= totalTasks, referenced worktree exists,
// referenced branch exists. With AutoRepair, indices are clamped,
// dangling fields cleared, and status forced to pending so the lane
// can resume.
func Validate(path string, opts ValidateOptions) (ValidateResult, error) {
	state, ok, err := Load[types.LaneState](path)
	if err != nil {
		return ValidateResult{}, err
	}
	if !ok {
		return ValidateResult{Valid: true}, nil
	}

	var issues []string

	if state.Label == "" {
		issues = append(issues, "missing field: label")
	}
	if state.CurrentTaskIndex > state.TotalTasks {
		issues = append(issues, "currentTaskIndex exceeds totalTasks")
	}
	if opts.CheckWorktree && state.WorktreeDir != "" {
		if _, statErr := os.Stat(state.WorktreeDir); statErr != nil {
			issues = append(issues, "referenced worktree missing: "+state.WorktreeDir)
		}
	}
	if opts.CheckBranch && state.PipelineBranch != "" && opts.BranchExists != nil {
		if !opts.BranchExists(state.PipelineBranch) {
			issues = append(issues, "referenced branch absent: "+state.PipelineBranch)
		}
	}

	result := ValidateResult{Valid: len(issues) == 0, Issues: issues}

	if len(issues) == 0 || !opts.AutoRepair {
		return result, nil
	}

	repaired := state
	if repaired.CurrentTaskIndex > repaired.TotalTasks {
		repaired.CurrentTaskIndex = repaired.TotalTasks
	}
	if opts.CheckWorktree && repaired.WorktreeDir != "" {
		if _, statErr := os.Stat(repaired.WorktreeDir); statErr != nil {
			repaired.WorktreeDir = ""
		}
	}
	if opts.CheckBranch && repaired.PipelineBranch != "" && opts.BranchExists != nil {
		if !opts.BranchExists(repaired.PipelineBranch) {
			repaired.PipelineBranch = ""
		}
	}
	repaired.Status = types.LanePending
	repaired.Error = ""

	result.Repaired = true
	result.RepairedState = &repaired
	return result, nil
}

// NeedsRecovery reports whether the persisted LaneState at path has
// status running/reviewing but its recorded pid is no longer alive.
func NeedsRecovery(path string) (bool, error) {
	state, ok, err := Load[types.LaneState](path)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if state.Status != types.LaneRunning && state.Status != types.LaneReviewing {
		return false, nil
	}
	if state.PID == nil {
		return true, nil
	}

	return !procutil.IsAlive(*state.PID), nil
}
