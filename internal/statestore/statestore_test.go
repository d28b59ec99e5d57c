package statestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lanehive/lanehive/internal/types"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lane", "state.json")
	state := types.LaneState{
		Label:            "lane-a",
		Status:           types.LaneRunning,
		CurrentTaskIndex: 1,
		TotalTasks:       3,
		UpdatedAt:        time.Now().Truncate(time.Second),
	}

	require.NoError(t, Save(path, state))

	loaded, ok, err := Load[types.LaneState](path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, state.Label, loaded.Label)
	require.Equal(t, state.CurrentTaskIndex, loaded.CurrentTaskIndex)
}

func TestLoadMissingFile(t *testing.T) {
	_, ok, err := Load[types.LaneState](filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadInvalidJSONReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, ok, err := Load[types.LaneState](path)
	require.Error(t, err)
	require.False(t, ok)
}

func TestSaveIsAtomicNoStaleTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	require.NoError(t, Save(path, types.LaneState{Label: "lane-a"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "state.json", entries[0].Name())
}

func TestAppendLogCreatesLineDelimitedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversation.jsonl")

	require.NoError(t, AppendLog(path, map[string]string{"role": "user", "fullText": "hi"}))
	require.NoError(t, AppendLog(path, map[string]string{"role": "assistant", "fullText": "hello"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	require.Equal(t, 2, lines)
}

func TestValidateClampsCurrentTaskIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, Save(path, types.LaneState{
		Label: "lane-a", CurrentTaskIndex: 9, TotalTasks: 3, Status: types.LaneRunning,
	}))

	result, err := Validate(path, ValidateOptions{AutoRepair: true})
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.True(t, result.Repaired)
	require.Equal(t, 3, result.RepairedState.CurrentTaskIndex)
	require.Equal(t, types.LanePending, result.RepairedState.Status)
}

func TestValidateMissingWorktreeIsAnIssue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, Save(path, types.LaneState{
		Label: "lane-a", WorktreeDir: "/nonexistent/path/xyz", TotalTasks: 1, Status: types.LaneRunning,
	}))

	result, err := Validate(path, ValidateOptions{CheckWorktree: true})
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Contains(t, result.Issues[0], "worktree missing")
}

func TestNeedsRecoveryDeadPid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	deadPid := 999999
	require.NoError(t, Save(path, types.LaneState{
		Label: "lane-a", Status: types.LaneRunning, PID: &deadPid,
	}))

	needs, err := NeedsRecovery(path)
	require.NoError(t, err)
	require.True(t, needs)
}

func TestNeedsRecoveryFalseWhenCompleted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, Save(path, types.LaneState{Label: "lane-a", Status: types.LaneCompleted}))

	needs, err := NeedsRecovery(path)
	require.NoError(t, err)
	require.False(t, needs)
}
