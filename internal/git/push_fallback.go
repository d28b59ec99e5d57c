package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/lanehive/lanehive/internal/ids"
)

// PushWithFallbackBranchName pushes branch to origin, and if the push is
// rejected as a non-fast-forward (another run already pushed a branch of
// the same name, e.g. after a restart reused a lane label), renames the
// local branch with a short random suffix and retries up to maxRetries
// times. It is a no-op, reporting success, when there is no origin.
func (f *Facade) PushWithFallbackBranchName(ctx context.Context, dir, branch string, maxRetries int) (PushFallbackResult, error) {
	if !f.HasRemote(ctx, dir) {
		return PushFallbackResult{Success: true, FinalBranchName: branch}, nil
	}

	current := branch
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := f.Push(ctx, dir, current, false)
		if err == nil {
			return PushFallbackResult{Success: true, FinalBranchName: current, Renamed: current != branch}, nil
		}
		if !isNonFastForward(err) || attempt == maxRetries {
			return PushFallbackResult{}, fmt.Errorf("push %s (attempt %d/%d): %w", current, attempt+1, maxRetries+1, err)
		}

		renamed := fmt.Sprintf("%s-%s", branch, ids.Rand5())
		if _, _, rerr := f.run(ctx, dir, "branch", "-m", current, renamed); rerr != nil {
			return PushFallbackResult{}, fmt.Errorf("rename %s to %s: %w", current, renamed, rerr)
		}
		current = renamed
	}
	return PushFallbackResult{}, fmt.Errorf("exhausted push retries for %s", branch)
}

func isNonFastForward(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "non-fast-forward") ||
		strings.Contains(msg, "fetch first") ||
		strings.Contains(msg, "rejected")
}
