package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/lanehive/lanehive/internal/lockmgr"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "init", "-b", "main")
	run(t, dir, "config", "user.email", "test@example.com")
	run(t, dir, "config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644))
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-m", "initial")
	return dir
}

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, out)
}

func newFacade(t *testing.T) *Facade {
	t.Helper()
	return New(hclog.NewNullLogger(), lockmgr.New(t.TempDir()))
}

func TestCurrentBranchAndRepoRoot(t *testing.T) {
	dir := initRepo(t)
	f := newFacade(t)
	ctx := context.Background()

	branch, err := f.CurrentBranch(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, "main", branch)

	root, err := f.RepoRoot(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, dir, root)
}

func TestCreateWorktreeNewBranch(t *testing.T) {
	dir := initRepo(t)
	f := newFacade(t)
	ctx := context.Background()

	wtPath := filepath.Join(t.TempDir(), "lane-a")
	err := f.CreateWorktree(ctx, dir, wtPath, "lane/lane-a", "main")
	require.NoError(t, err)
	require.True(t, f.IsValidWorktree(wtPath))

	branch, err := f.CurrentBranch(ctx, wtPath)
	require.NoError(t, err)
	require.Equal(t, "lane/lane-a", branch)
}

func TestCommitSkipsWhenClean(t *testing.T) {
	dir := initRepo(t)
	f := newFacade(t)
	ctx := context.Background()

	committed, err := f.Commit(ctx, dir, "no-op")
	require.NoError(t, err)
	require.False(t, committed)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644))
	committed, err = f.Commit(ctx, dir, "add a")
	require.NoError(t, err)
	require.True(t, committed)
}

func TestCheckMergeConflictDetectsConflict(t *testing.T) {
	dir := initRepo(t)
	f := newFacade(t)
	ctx := context.Background()

	run(t, dir, "checkout", "-b", "feature")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("feature change\n"), 0644))
	run(t, dir, "commit", "-am", "feature change")

	run(t, dir, "checkout", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("main change\n"), 0644))
	run(t, dir, "commit", "-am", "main change")

	check, err := f.CheckMergeConflict(ctx, dir, "feature")
	require.NoError(t, err)
	require.True(t, check.WillConflict)
}

func TestSafeMergeAbortsOnConflict(t *testing.T) {
	dir := initRepo(t)
	f := newFacade(t)
	ctx := context.Background()

	run(t, dir, "checkout", "-b", "feature")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("feature change\n"), 0644))
	run(t, dir, "commit", "-am", "feature change")

	run(t, dir, "checkout", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("main change\n"), 0644))
	run(t, dir, "commit", "-am", "main change")

	result, err := f.SafeMerge(ctx, dir, "feature", MergeOptions{NoFF: true, Message: "merge feature", AbortOnConflict: true})
	require.NoError(t, err)
	require.True(t, result.Conflict)
	require.True(t, result.Aborted)

	clean, err := f.IsClean(ctx, dir)
	require.NoError(t, err)
	require.True(t, clean)
}

func TestNoGitCreateWorktreeCopiesTree(t *testing.T) {
	dir := initRepo(t)
	f := New(hclog.NewNullLogger(), nil, WithNoGit())
	ctx := context.Background()

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, f.CreateWorktree(ctx, dir, dst, "ignored", "ignored"))

	data, err := os.ReadFile(filepath.Join(dst, "README.md"))
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(data))

	_, err = os.Stat(filepath.Join(dst, ".git"))
	require.True(t, os.IsNotExist(err))
}
