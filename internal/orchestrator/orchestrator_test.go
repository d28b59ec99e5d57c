package orchestrator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/lanehive/lanehive/internal/config"
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

func writeLaneSpec(t *testing.T, tasksDir, filename, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(tasksDir, filename), []byte(content), 0644))
}

// stub agent: CreateChat never passes --resume, Send always does.
// On Send, it touches "<basename of cwd>.txt" so each lane (a distinct
// worktree) produces a distinctly named file.
const writeFileStub = `case "$*" in
  *--resume*) base=$(basename "$PWD"); touch "$base.txt"; echo '{"type":"result","status":"success"}' ;;
  *) echo '{"chatId":"chat-1"}' ;;
esac`

func testConfig(t *testing.T, stub string) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.AgentCommand = []string{"bash", "-c", stub}
	cfg.WorktreeRoot = filepath.Join(root, "worktrees")
	cfg.LogsRoot = filepath.Join(root, "logs")
	cfg.PofDirectory = filepath.Join(root, "pof")
	cfg.BaseBranch = "main"
	cfg.MaxConcurrentLanes = 4
	return cfg
}

func newTestFacade() *git.Facade {
	return git.New(hclog.NewNullLogger(), lockmgr.New(filepath.Join(os.TempDir(), "lanehive-orch-locks")))
}

// S1 — two independent lanes complete and their files both land on the
// integrated branch; exit code 0.
func TestRunTwoIndependentLanesIntegrate(t *testing.T) {
	repo := initRepo(t)
	tasksDir := t.TempDir()
	writeLaneSpec(t, tasksDir, "lane-a.json", `{"tasks":[{"name":"init","prompt":"create a file"}]}`)
	writeLaneSpec(t, tasksDir, "lane-b.json", `{"tasks":[{"name":"init","prompt":"create a file"}]}`)

	cfg := testConfig(t, writeFileStub)
	o := New(cfg, hclog.NewNullLogger(), newTestFacade(), repo, tasksDir)

	code, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ExitSuccess, code)

	featureBranch := featureBranchName(tasksDir, o.RunID())
	runGit(t, repo, "checkout", featureBranch)
	require.FileExists(t, filepath.Join(repo, "lane-a.txt"))
	require.FileExists(t, filepath.Join(repo, "lane-b.txt"))
}

// S3 — a dependency cycle aborts before any worktree is created; exit
// code 3, no lane state files written.
func TestRunCycleAbortsBeforeAnyWork(t *testing.T) {
	repo := initRepo(t)
	tasksDir := t.TempDir()
	writeLaneSpec(t, tasksDir, "lane-a.json", `{"tasks":[{"name":"init","prompt":"x"}],"dependsOn":["lane-b"]}`)
	writeLaneSpec(t, tasksDir, "lane-b.json", `{"tasks":[{"name":"init","prompt":"x"}],"dependsOn":["lane-a"]}`)

	cfg := testConfig(t, writeFileStub)
	o := New(cfg, hclog.NewNullLogger(), newTestFacade(), repo, tasksDir)

	code, err := o.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, ExitDAGValidation, code)

	entries, _ := os.ReadDir(cfg.WorktreeRoot)
	require.Empty(t, entries)
}

// S4 — the agent requests a dependency change the policy disallows;
// the lane ends failed with a populated dependencyRequest, exit code 2,
// and no task branch is merged into the pipeline branch.
func TestRunBlockedDependencyRequestExitsTwo(t *testing.T) {
	repo := initRepo(t)
	tasksDir := t.TempDir()
	writeLaneSpec(t, tasksDir, "lane-a.json", `{"tasks":[{"name":"init","prompt":"needs a new package"}]}`)

	depRequestStub := `case "$*" in
  *--resume*)
    mkdir -p .lanehive
    echo '{"reason":"need left-pad","commands":["npm install left-pad"]}' > .lanehive/dependency-request.json
    echo '{"type":"result","status":"success"}'
    ;;
  *) echo '{"chatId":"chat-1"}' ;;
esac`

	cfg := testConfig(t, depRequestStub)
	o := New(cfg, hclog.NewNullLogger(), newTestFacade(), repo, tasksDir)

	code, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ExitDependencyBlocked, code)

	statePath := filepath.Join(cfg.LogsRoot, "runs", o.RunID(), "lanes", "lane-a", "state.json")
	state, ok, err := statestore.Load[types.LaneState](statePath)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.LaneFailed, state.Status)
	require.NotNil(t, state.DependencyRequest)
	require.Equal(t, "need left-pad", state.DependencyRequest.Reason)
	require.Empty(t, state.CompletedTasks)
}

func TestDetectCycleReportsPath(t *testing.T) {
	lanes, order, err := ParseLaneSpecs(writeTasksDir(t, map[string]string{
		"a.json": `{"tasks":[{"name":"t","prompt":"x"}],"dependsOn":["b"]}`,
		"b.json": `{"tasks":[{"name":"t","prompt":"x"}],"dependsOn":["a"]}`,
	}))
	require.NoError(t, err)
	cycle := DetectCycle(lanes, order)
	require.NotEmpty(t, cycle)
}

func TestValidateLaneSpecsRejectsUnknownDependency(t *testing.T) {
	lanes, _, err := ParseLaneSpecs(writeTasksDir(t, map[string]string{
		"a.json": `{"tasks":[{"name":"t","prompt":"x"}],"dependsOn":["nope"]}`,
	}))
	require.NoError(t, err)
	err = ValidateLaneSpecs(lanes)
	require.Error(t, err)
}

// Preflight failure (no resolvable agent binary) aborts before any
// lane is scheduled; exit code 4.
func TestRunPreflightFailureExitsFour(t *testing.T) {
	repo := initRepo(t)
	tasksDir := t.TempDir()
	writeLaneSpec(t, tasksDir, "lane-a.json", `{"tasks":[{"name":"init","prompt":"x"}]}`)

	cfg := testConfig(t, writeFileStub)
	cfg.AgentCommand = []string{"definitely-not-a-real-binary-xyz"}
	o := New(cfg, hclog.NewNullLogger(), newTestFacade(), repo, tasksDir)

	code, err := o.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, ExitPreflightFailure, code)
}

func writeTasksDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}
