package git

import (
	"context"
	"fmt"
)

// Checkout switches dir's working tree to an existing branch.
func (f *Facade) Checkout(ctx context.Context, dir, branch string) error {
	if _, _, err := f.run(ctx, dir, "checkout", branch); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	return nil
}

// CheckoutNewBranch creates and switches dir's working tree to a new
// branch cut from base, without creating a separate worktree. Used for
// the per-task branches a lane cuts from its pipeline branch.
func (f *Facade) CheckoutNewBranch(ctx context.Context, dir, branch, base string) error {
	if _, _, err := f.run(ctx, dir, "checkout", "-b", branch, base); err != nil {
		return fmt.Errorf("checkout -b %s %s: %w", branch, base, err)
	}
	return nil
}

// DeleteBranch removes branch locally, and from origin too when
// includeRemote is set. Best-effort: a remote that rejects the delete
// (already gone, protected) is not a fatal error for the caller.
func (f *Facade) DeleteBranch(ctx context.Context, dir, branch string, includeRemote bool) error {
	if _, _, err := f.run(ctx, dir, "branch", "-D", branch); err != nil {
		return fmt.Errorf("delete local branch %s: %w", branch, err)
	}
	if includeRemote {
		if _, _, err := f.run(ctx, dir, "push", "origin", "--delete", branch); err != nil {
			return fmt.Errorf("delete remote branch %s: %w", branch, err)
		}
	}
	return nil
}
