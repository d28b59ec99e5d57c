package lane

import (
	"path/filepath"
	"time"

	"github.com/lanehive/lanehive/internal/statestore"
	"github.com/lanehive/lanehive/internal/types"
)

// writePostMortem records a POF document under pofDir when a lane's
// recovery ladder reaches ABORT, carrying enough diagnostic context
// for a human to resume or discard the run.
func writePostMortem(pofDir, runID string, state types.LaneState, rs types.RecoveryState, diag types.DiagnosticInfo, rootCause types.RootCause) error {
	pof := types.PostMortem{
		Title:       "lane " + state.Label + " aborted",
		RunID:       runID,
		FailureTime: time.Now(),
		Summary:     "lane " + state.Label + " exhausted the auto-recovery ladder and was aborted",
		RootCause:   rootCause,
		PossibleCauses: diagnosticNotes(diag),
		AffectedLanes: []types.AffectedLane{
			{LaneName: state.Label, RecoveryAttempts: rs.FailureHistory},
		},
		Recovery: types.RecoveryCommands{
			Command:            "lanehive resume --run " + runID + " --lane " + state.Label,
			AlternativeCommand: "lanehive resume --run " + runID,
		},
	}
	path := filepath.Join(pofDir, runID+"-"+state.Label+".json")
	return statestore.Save(path, pof)
}

func diagnosticNotes(diag types.DiagnosticInfo) []string {
	var notes []string
	if !diag.AgentInstalled {
		notes = append(notes, "agent executable was not found on PATH")
	}
	if !diag.Authenticated {
		notes = append(notes, "agent authentication probe failed")
	}
	if !diag.FilesystemOK {
		notes = append(notes, "worktree filesystem check failed")
	}
	if !diag.RemoteOK {
		notes = append(notes, "git remote was unreachable")
	}
	if diag.Notes != "" {
		notes = append(notes, diag.Notes)
	}
	return notes
}
