package checkpoint

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/lanehive/lanehive/internal/git"
	"github.com/lanehive/lanehive/internal/lockmgr"
	"github.com/lanehive/lanehive/internal/types"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, out)
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-b", "main")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("v1\n"), 0644))
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "initial")
	return dir
}

func TestCreateAndTrimRing(t *testing.T) {
	laneDir := t.TempDir()
	mgr := New(laneDir, nil, hclog.NewNullLogger())
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := mgr.Create(ctx, types.LaneState{Label: "lane-a", CurrentTaskIndex: i}, "", "step")
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	entries, err := mgr.list()
	require.NoError(t, err)
	require.Len(t, entries, maxCheckpoints)
}

func TestCreateCapturesGitState(t *testing.T) {
	repo := initRepo(t)
	laneDir := t.TempDir()
	facade := git.New(hclog.NewNullLogger(), lockmgr.New(t.TempDir()))
	mgr := New(laneDir, facade, hclog.NewNullLogger())
	ctx := context.Background()

	cp, err := mgr.Create(ctx, types.LaneState{Label: "lane-a"}, repo, "before task 1")
	require.NoError(t, err)
	require.NotNil(t, cp.Git)
	require.False(t, cp.Git.UncommittedChanges)
	require.NotEmpty(t, cp.Git.CommitHash)
}

func TestRestoreResetsWorktreeToCheckpointCommit(t *testing.T) {
	repo := initRepo(t)
	laneDir := t.TempDir()
	facade := git.New(hclog.NewNullLogger(), lockmgr.New(t.TempDir()))
	mgr := New(laneDir, facade, hclog.NewNullLogger())
	ctx := context.Background()

	cp, err := mgr.Create(ctx, types.LaneState{Label: "lane-a"}, repo, "checkpoint 1")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "a.txt"), []byte("v2\n"), 0644))
	runGit(t, repo, "commit", "-am", "second change")

	restored, err := mgr.Restore(ctx, cp.ID, repo)
	require.NoError(t, err)
	require.Equal(t, cp.Git.CommitHash, restored.Git.CommitHash)

	data, err := os.ReadFile(filepath.Join(repo, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "v1\n", string(data))
}

func TestLatestReturnsFalseWhenEmpty(t *testing.T) {
	mgr := New(t.TempDir(), nil, hclog.NewNullLogger())
	_, ok, err := mgr.Latest(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}
