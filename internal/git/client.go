// Package git wraps the system git binary behind an operation contract
// wide enough for worktree-per-lane orchestration: branch and worktree
// lifecycle, conflict-aware merging, and push-with-fallback naming.
// Every operation shells out to the real git binary; there is no libgit2
// or go-git dependency, matching the teacher's os/exec client.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/lanehive/lanehive/internal/lockmgr"
)

// defaultTimeout bounds any single git invocation.
const defaultTimeout = 30 * time.Second

// Facade is the Git Facade (component A): every filesystem-touching git
// operation the rest of the system needs, with worktree creation
// serialized through a named lock to avoid concurrent `git worktree add`
// races against the same repository.
type Facade struct {
	log      hclog.Logger
	locks    *lockmgr.Manager
	timeout  time.Duration
	noGit    bool
}

// Option configures a Facade.
type Option func(*Facade)

// WithTimeout overrides the per-operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Facade) { f.timeout = d }
}

// WithNoGit switches the facade into directory-copy mode for worktree
// creation: a plain directory copy replaces `git worktree add`, and
// branch machinery is skipped. Only the facade's own tests set it; the
// Config.NoGit flag does not switch it on.
func WithNoGit() Option {
	return func(f *Facade) { f.noGit = true }
}

// New returns a Facade. locks may be nil if worktree serialization is not
// needed (e.g. single-lane debug runs).
func New(log hclog.Logger, locks *lockmgr.Manager, opts ...Option) *Facade {
	f := &Facade{log: log.Named("git"), locks: locks, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// run executes git with args in dir, honoring ctx cancellation and the
// facade's default timeout.
func (f *Facade) run(ctx context.Context, dir string, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := strings.TrimSpace(stdout.String())
	errOut := strings.TrimSpace(filterNoise(stderr.String()))

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return out, errOut, fmt.Errorf("git %s timed out after %s", args[0], f.timeout)
		}
		return out, errOut, fmt.Errorf("git %s failed: %w (stderr: %s)", args[0], err, errOut)
	}
	return out, errOut, nil
}

// filterNoise strips GitHub's "Create a pull request" hint lines that
// git prints to stderr on a successful push, which would otherwise look
// like an error in logs.
func filterNoise(stderr string) string {
	lines := strings.Split(stderr, "\n")
	kept := lines[:0]
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if strings.HasPrefix(t, "remote:") && (strings.Contains(t, "pull request") || strings.Contains(t, "http")) {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

// IsInstalled reports whether the git binary is reachable on PATH.
func (f *Facade) IsInstalled() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// IsGitRepo reports whether dir is inside a git working tree.
func (f *Facade) IsGitRepo(ctx context.Context, dir string) bool {
	_, _, err := f.run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// RepoRoot returns the top-level directory of the worktree containing dir.
func (f *Facade) RepoRoot(ctx context.Context, dir string) (string, error) {
	out, _, err := f.run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("repo root: %w", err)
	}
	return out, nil
}

// MainRepoRoot returns the root of the primary checkout backing a
// worktree, i.e. the `.git` common directory's parent, so lanes created
// as linked worktrees can find their way back to the shared repository.
func (f *Facade) MainRepoRoot(ctx context.Context, dir string) (string, error) {
	out, _, err := f.run(ctx, dir, "rev-parse", "--path-format=absolute", "--git-common-dir")
	if err != nil {
		return "", fmt.Errorf("main repo root: %w", err)
	}
	out = strings.TrimSuffix(out, "/.git")
	out = strings.TrimSuffix(out, ".git")
	return strings.TrimRight(out, "/"), nil
}

// CurrentBranch returns the checked-out branch name in dir.
func (f *Facade) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, _, err := f.run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	return out, nil
}

// BranchExists reports whether branch exists locally (or, if remote is
// true, on origin).
func (f *Facade) BranchExists(ctx context.Context, dir, branch string, remote bool) bool {
	ref := "refs/heads/" + branch
	if remote {
		ref = "refs/remotes/origin/" + branch
	}
	_, _, err := f.run(ctx, dir, "show-ref", "--verify", "--quiet", ref)
	return err == nil
}

// HasRemote reports whether origin is configured, used to silently skip
// push operations in fully-local (no-origin) test repos.
func (f *Facade) HasRemote(ctx context.Context, dir string) bool {
	out, _, err := f.run(ctx, dir, "remote")
	if err != nil {
		return false
	}
	for _, r := range strings.Fields(out) {
		if r == "origin" {
			return true
		}
	}
	return false
}

// IsClean reports whether dir has no uncommitted changes.
func (f *Facade) IsClean(ctx context.Context, dir string) (bool, error) {
	out, _, err := f.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("is clean: %w", err)
	}
	return out == "", nil
}

// ChangedFiles lists paths with uncommitted changes in dir.
func (f *Facade) ChangedFiles(ctx context.Context, dir string) ([]string, error) {
	out, _, err := f.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("changed files: %w", err)
	}
	if out == "" {
		return nil, nil
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files, nil
}

// CommitHash returns the current HEAD commit hash in dir.
func (f *Facade) CommitHash(ctx context.Context, dir string) (string, error) {
	out, _, err := f.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("commit hash: %w", err)
	}
	return out, nil
}

// AddAll stages every change in dir.
func (f *Facade) AddAll(ctx context.Context, dir string) error {
	_, _, err := f.run(ctx, dir, "add", "-A")
	if err != nil {
		return fmt.Errorf("add all: %w", err)
	}
	return nil
}

// Commit stages everything and commits with message. A clean tree is not
// an error; it is reported so callers can skip pushing an empty commit.
func (f *Facade) Commit(ctx context.Context, dir, message string) (committed bool, err error) {
	clean, err := f.IsClean(ctx, dir)
	if err != nil {
		return false, err
	}
	if clean {
		return false, nil
	}
	if err := f.AddAll(ctx, dir); err != nil {
		return false, err
	}
	if _, _, err := f.run(ctx, dir, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// Push pushes branch to origin, setting upstream on first push. It is a
// silent no-op when no origin remote is configured, so hermetic (no
// network) lanes can run the full task loop unmodified.
func (f *Facade) Push(ctx context.Context, dir, branch string, force bool) error {
	if !f.HasRemote(ctx, dir) {
		f.log.Debug("skipping push, no origin remote", "dir", dir)
		return nil
	}
	args := []string{"push", "-u", "origin", branch}
	if force {
		args = append(args, "--force-with-lease")
	}
	_, _, err := f.run(ctx, dir, args...)
	if err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}
