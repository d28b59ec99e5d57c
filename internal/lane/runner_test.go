package lane

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/lanehive/lanehive/internal/config"
	"github.com/lanehive/lanehive/internal/depcoord"
	"github.com/lanehive/lanehive/internal/eventbus"
	"github.com/lanehive/lanehive/internal/git"
	"github.com/lanehive/lanehive/internal/lockmgr"
	"github.com/lanehive/lanehive/internal/statestore"
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
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644))
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "initial")
	return dir
}

func testDeps(t *testing.T, repo string, bus *eventbus.Bus) Deps {
	t.Helper()
	logsRoot := t.TempDir()
	runID := "run-test"
	laneDir := filepath.Join(logsRoot, "runs", runID, "lanes", "lane-a")

	// Stub agent: CreateChat never passes --resume, Send always does,
	// so the script can tell which call it's answering.
	stubScript := `case "$*" in
  *--resume*) touch done.txt; echo '{"type":"result","status":"success"}' ;;
  *) echo '{"chatId":"chat-1"}' ;;
esac`

	cfg := config.DefaultConfig()
	cfg.AgentCommand = []string{"bash", "-c", stubScript}
	cfg.WorktreeRoot = filepath.Join(logsRoot, "worktrees")
	cfg.BaseBranch = "main"

	facade := git.New(hclog.NewNullLogger(), lockmgr.New(t.TempDir()))
	coord := depcoord.New(func(lane string) string {
		return filepath.Join(logsRoot, "runs", runID, "lanes", lane, "state.json")
	})

	return Deps{
		Config:   cfg,
		Log:      hclog.NewNullLogger(),
		Bus:      bus,
		Git:      facade,
		DepCoord: coord,
		RunID:    runID,
		RepoRoot: repo,
		LaneDir:  laneDir,
		PofDir:   filepath.Join(logsRoot, "pof"),
	}
}

func TestRunnerCompletesSingleTaskLane(t *testing.T) {
	repo := initRepo(t)
	var events []string
	bus := eventbus.New("run-test")
	bus.Subscribe(eventbus.All, func(e eventbus.Event) { events = append(events, e.Type) })

	deps := testDeps(t, repo, bus)
	spec := types.LaneSpec{
		Tasks: []types.TaskSpec{{Name: "write-file", Prompt: "create done.txt"}},
	}

	r := New(deps, spec, "lane-a")
	err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.LaneCompleted, r.state.Status)
	require.Contains(t, events, "lane.completed")

	persisted, ok, err := statestore.Load[types.LaneState](filepath.Join(deps.LaneDir, "state.json"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.LaneCompleted, persisted.Status)
	require.Equal(t, []string{"write-file"}, persisted.CompletedTasks)
}

func TestRunnerResumesFromPersistedState(t *testing.T) {
	repo := initRepo(t)
	bus := eventbus.New("run-test")
	deps := testDeps(t, repo, bus)

	spec := types.LaneSpec{
		Tasks: []types.TaskSpec{
			{Name: "task-1", Prompt: "do thing one"},
			{Name: "task-2", Prompt: "do thing two"},
		},
	}

	worktreeDir := filepath.Join(deps.Config.WorktreeRoot, "lane-a")
	require.NoError(t, deps.Git.CreateWorktree(context.Background(), repo, worktreeDir, "lane/lane-a", "main"))

	require.NoError(t, statestore.Save(filepath.Join(deps.LaneDir, "state.json"), types.LaneState{
		Label:            "lane-a",
		Status:           types.LaneRunning,
		CurrentTaskIndex: 1,
		TotalTasks:       2,
		WorktreeDir:      worktreeDir,
		PipelineBranch:   "lane/lane-a",
		CompletedTasks:   []string{"task-1"},
		ChatID:           "chat-1",
	}))

	r := New(deps, spec, "lane-a")
	err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"task-1", "task-2"}, r.state.CompletedTasks)
}

func TestRunnerFailsWhenAgentMissing(t *testing.T) {
	repo := initRepo(t)
	bus := eventbus.New("run-test")
	deps := testDeps(t, repo, bus)
	deps.Config.AgentCommand = []string{"definitely-not-a-real-binary-xyz"}

	spec := types.LaneSpec{Tasks: []types.TaskSpec{{Name: "t1", Prompt: "x"}}}
	r := New(deps, spec, "lane-a")

	err := r.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, types.LaneFailed, r.state.Status)
}
