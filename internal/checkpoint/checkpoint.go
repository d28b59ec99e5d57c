// Package checkpoint implements the Checkpoint Manager (component D):
// durable, ring-bounded snapshots of a lane's persisted state plus its
// Git HEAD. The Lane Runner writes one before each task starts; it
// takes none before dependency merges or agent restarts, and it does
// not consult Latest or Restore when a lane resumes.
package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/lanehive/lanehive/internal/git"
	"github.com/lanehive/lanehive/internal/ids"
	"github.com/lanehive/lanehive/internal/statestore"
	"github.com/lanehive/lanehive/internal/types"
)

// maxCheckpoints bounds the ring; the oldest is dropped once exceeded.
const maxCheckpoints = 5

// Manager creates and restores checkpoints for a single lane, rooted at
// <laneDir>/checkpoints/.
type Manager struct {
	dir string
	git *git.Facade
	log hclog.Logger
}

// New returns a Manager writing under laneDir/checkpoints.
func New(laneDir string, gitFacade *git.Facade, log hclog.Logger) *Manager {
	return &Manager{dir: filepath.Join(laneDir, "checkpoints"), git: gitFacade, log: log.Named("checkpoint")}
}

// Create snapshots state and, if worktreeDir is non-empty, the Git HEAD
// and dirty status of that worktree, then trims the ring to the newest
// maxCheckpoints entries.
func (m *Manager) Create(ctx context.Context, state types.LaneState, worktreeDir, description string) (types.Checkpoint, error) {
	cp := types.Checkpoint{
		ID:          ids.CheckpointID(time.Now()),
		Timestamp:   time.Now(),
		LaneName:    state.Label,
		State:       state,
		TaskIndex:   state.CurrentTaskIndex,
		Description: description,
	}

	if worktreeDir != "" && m.git != nil {
		gitState, err := m.captureGitState(ctx, worktreeDir)
		if err != nil {
			m.log.Warn("failed to capture git state for checkpoint", "error", err)
		} else {
			cp.Git = &gitState
		}
	}

	path := filepath.Join(m.dir, cp.ID+".json")
	if err := statestore.Save(path, cp); err != nil {
		return types.Checkpoint{}, errors.Wrap(err, "save checkpoint")
	}

	if err := m.trim(); err != nil {
		m.log.Warn("failed to trim checkpoint ring", "error", err)
	}
	return cp, nil
}

func (m *Manager) captureGitState(ctx context.Context, worktreeDir string) (types.GitState, error) {
	branch, err := m.git.CurrentBranch(ctx, worktreeDir)
	if err != nil {
		return types.GitState{}, err
	}
	hash, err := m.git.CommitHash(ctx, worktreeDir)
	if err != nil {
		return types.GitState{}, err
	}
	clean, err := m.git.IsClean(ctx, worktreeDir)
	if err != nil {
		return types.GitState{}, err
	}
	var changed []string
	if !clean {
		changed, err = m.git.ChangedFiles(ctx, worktreeDir)
		if err != nil {
			return types.GitState{}, err
		}
	}
	return types.GitState{Branch: branch, CommitHash: hash, UncommittedChanges: !clean, ChangedFiles: changed}, nil
}

// Latest returns the most recent checkpoint, if any exist.
func (m *Manager) Latest(ctx context.Context) (types.Checkpoint, bool, error) {
	entries, err := m.list()
	if err != nil {
		return types.Checkpoint{}, false, err
	}
	if len(entries) == 0 {
		return types.Checkpoint{}, false, nil
	}
	latest, ok, err := statestore.Load[types.Checkpoint](entries[len(entries)-1])
	if err != nil {
		return types.Checkpoint{}, false, errors.Wrap(err, "load latest checkpoint")
	}
	return latest, ok, nil
}

// Restore loads the checkpoint with the given id, and — if the
// checkpoint carries Git state and worktreeDir is non-empty — resets
// the worktree to the captured commit hash so lane resume starts from
// exactly the snapshotted tree.
func (m *Manager) Restore(ctx context.Context, id, worktreeDir string) (types.Checkpoint, error) {
	path := filepath.Join(m.dir, id+".json")
	cp, ok, err := statestore.Load[types.Checkpoint](path)
	if err != nil {
		return types.Checkpoint{}, errors.Wrapf(err, "load checkpoint %s", id)
	}
	if !ok {
		return types.Checkpoint{}, errors.Errorf("checkpoint %s not found", id)
	}

	if cp.Git != nil && worktreeDir != "" && m.git != nil {
		if err := m.git.ResetToCommit(ctx, worktreeDir, cp.Git.CommitHash); err != nil {
			return types.Checkpoint{}, errors.Wrapf(err, "restore worktree to checkpoint %s commit %s", id, cp.Git.CommitHash)
		}
	}
	return cp, nil
}

// list returns checkpoint file paths sorted oldest-to-newest by name
// (names are time-ordered: "cp-<unixMs>-<rand5>.json").
func (m *Manager) list() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(m.dir, "cp-*.json"))
	if err != nil {
		return nil, fmt.Errorf("glob checkpoints: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// trim removes the oldest checkpoints beyond maxCheckpoints.
func (m *Manager) trim() error {
	entries, err := m.list()
	if err != nil {
		return err
	}
	if len(entries) <= maxCheckpoints {
		return nil
	}
	for _, stale := range entries[:len(entries)-maxCheckpoints] {
		if err := statestore.Remove(stale); err != nil {
			return err
		}
	}
	return nil
}
