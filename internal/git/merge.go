package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// CheckMergeConflict predicts whether merging branch into the currently
// checked-out ref in dir would conflict, without touching the working
// tree or index (uses `git merge-tree`, a pure read operation).
func (f *Facade) CheckMergeConflict(ctx context.Context, dir, branch string) (MergeConflictCheck, error) {
	head, err := f.CurrentBranch(ctx, dir)
	if err != nil {
		return MergeConflictCheck{}, err
	}

	base, _, err := f.run(ctx, dir, "merge-base", head, branch)
	if err != nil {
		return MergeConflictCheck{}, fmt.Errorf("merge-base %s %s: %w", head, branch, err)
	}

	out, _, err := f.run(ctx, dir, "merge-tree", base, head, branch)
	if err != nil {
		// merge-tree itself failing (not a conflict marker) is a real error.
		return MergeConflictCheck{}, fmt.Errorf("merge-tree %s into %s: %w", branch, head, err)
	}

	if !strings.Contains(out, "<<<<<<<") {
		return MergeConflictCheck{WillConflict: false}, nil
	}

	var files []string
	seen := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "changed in both") || strings.HasPrefix(line, "added in both") {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(line), "our    ") || strings.HasPrefix(strings.TrimSpace(line), "their  ") {
			fields := strings.Fields(line)
			if len(fields) > 0 {
				name := fields[len(fields)-1]
				if !seen[name] {
					seen[name] = true
					files = append(files, name)
				}
			}
		}
	}
	return MergeConflictCheck{WillConflict: true, ConflictingFiles: files}, nil
}

// SafeMerge merges branch into the checked-out ref in dir, aborting and
// leaving the working tree at its pre-merge commit if a conflict occurs
// and opts.AbortOnConflict is set (the default used by the Flow
// Integrator, which cannot leave a conflicted merge for a human to
// resolve mid-run).
func (f *Facade) SafeMerge(ctx context.Context, dir, branch string, opts MergeOptions) (MergeResult, error) {
	args := []string{"merge"}
	if opts.NoFF {
		args = append(args, "--no-ff")
	}
	if opts.Message != "" {
		args = append(args, "-m", opts.Message)
	}
	if opts.Strategy != "" {
		args = append(args, "-X", opts.Strategy)
	}
	args = append(args, branch)

	_, stderr, err := f.run(ctx, dir, args...)
	if err == nil {
		return MergeResult{Success: true}, nil
	}

	check, checkErr := f.CheckMergeConflict(ctx, dir, branch)
	isConflict := checkErr == nil && check.WillConflict
	if !isConflict && strings.Contains(strings.ToLower(stderr), "conflict") {
		isConflict = true
	}
	if !isConflict {
		return MergeResult{}, errors.Wrapf(err, "merge %s", branch)
	}

	result := MergeResult{Conflict: true, ConflictingFiles: check.ConflictingFiles, Error: errors.Wrapf(err, "merge %s", branch)}
	if opts.AbortOnConflict {
		if _, _, abortErr := f.run(ctx, dir, "merge", "--abort"); abortErr != nil {
			return result, errors.Wrap(abortErr, "abort conflicted merge")
		}
		result.Aborted = true
	}
	return result, nil
}

// SyncBranchWithRemote fast-forwards branch to match origin/branch. No
// component in this module calls it; the Lane Runner does not sync a
// resumed worktree's branch with the remote.
func (f *Facade) SyncBranchWithRemote(ctx context.Context, dir, branch string) error {
	if !f.HasRemote(ctx, dir) {
		return nil
	}
	if _, _, err := f.run(ctx, dir, "fetch", "origin", branch); err != nil {
		return fmt.Errorf("fetch %s: %w", branch, err)
	}
	if !f.BranchExists(ctx, dir, branch, true) {
		return nil
	}
	if _, _, err := f.run(ctx, dir, "merge", "--ff-only", "origin/"+branch); err != nil {
		return fmt.Errorf("fast-forward %s: %w", branch, err)
	}
	return nil
}

// EnsureUnshallow converts a shallow clone into a full one, since worktree
// and merge-base operations across lane branches require full history.
func (f *Facade) EnsureUnshallow(ctx context.Context, dir string) error {
	out, _, err := f.run(ctx, dir, "rev-parse", "--is-shallow-repository")
	if err != nil {
		return fmt.Errorf("check shallow: %w", err)
	}
	if out != "true" {
		return nil
	}
	if _, _, err := f.run(ctx, dir, "fetch", "--unshallow"); err != nil {
		return fmt.Errorf("unshallow: %w", err)
	}
	return nil
}

// ResetToCommit hard-resets dir to commitHash, used when restoring a
// lane's worktree to a checkpointed Git state.
func (f *Facade) ResetToCommit(ctx context.Context, dir, commitHash string) error {
	_, _, err := f.run(ctx, dir, "reset", "--hard", commitHash)
	if err != nil {
		return fmt.Errorf("reset to %s: %w", commitHash, err)
	}
	return nil
}

// GetLastOperationStats returns a short human-readable description of
// the most recent commit. Checkpoints and post-mortems do not include
// its output.
func (f *Facade) GetLastOperationStats(ctx context.Context, dir string) (string, error) {
	out, _, err := f.run(ctx, dir, "log", "-1", "--stat", "--oneline")
	if err != nil {
		return "", fmt.Errorf("last operation stats: %w", err)
	}
	return out, nil
}
