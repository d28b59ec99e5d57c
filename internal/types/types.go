// Package types holds the shared data model (§3 of the spec): Flow,
// Lane, Task, Lane State, Checkpoint, Recovery State, and Post-Mortem.
// It has no dependencies on other lanehive packages so every component
// can import it without creating cycles.
package types

import "time"

// FlowStatus is the terminal/running status of an entire flow.
type FlowStatus string

const (
	FlowRunning   FlowStatus = "running"
	FlowCompleted FlowStatus = "completed"
	FlowFailed    FlowStatus = "failed"
	FlowPartial   FlowStatus = "partial"
)

// Flow describes one orchestration run: a DAG of lanes.
type Flow struct {
	RunID          string     `json:"run_id"`
	BaseBranch     string     `json:"base_branch"`
	BranchPrefix   string     `json:"branch_prefix"`
	FeatureBranch  string     `json:"feature_branch"`
	StartTime      time.Time  `json:"start_time"`
	Status         FlowStatus `json:"status"`
	IntegratedRef  string     `json:"integrated_ref,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// DependencyPolicy controls whether a lane's tasks may change package
// dependencies or lockfiles.
type DependencyPolicy struct {
	AllowDependencyChange bool `json:"allow_dependency_change"`
	LockfileReadOnly      bool `json:"lockfile_read_only"`
}

// TaskSpec is one task within a Lane Spec (input JSON, §6).
type TaskSpec struct {
	Name       string   `json:"name"`
	Prompt     string   `json:"prompt"`
	Model      string   `json:"model,omitempty"`
	TimeoutMs  int      `json:"timeout,omitempty"`
	DependsOn  []string `json:"dependsOn,omitempty"` // "lane:task" references
}

// LaneSpec is the input JSON for one lane (§6).
type LaneSpec struct {
	Name             string            `json:"name,omitempty"`
	Tasks            []TaskSpec        `json:"tasks"`
	DependsOn        []string          `json:"dependsOn,omitempty"`
	BaseBranch       string            `json:"baseBranch,omitempty"`
	BranchPrefix     string            `json:"branchPrefix,omitempty"`
	PipelineBranch   string            `json:"pipelineBranch,omitempty"`
	WorktreeRoot     string            `json:"worktreeRoot,omitempty"`
	DependencyPolicy *DependencyPolicy `json:"dependencyPolicy,omitempty"`
	TimeoutMs        int               `json:"timeout,omitempty"`
}

// LaneStatus is the lifecycle status of a Lane.
type LaneStatus string

const (
	LanePending   LaneStatus = "pending"
	LaneRunning   LaneStatus = "running"
	LaneWaiting   LaneStatus = "waiting"
	LaneReviewing LaneStatus = "reviewing"
	LaneCompleted LaneStatus = "completed"
	LaneFailed    LaneStatus = "failed"
)

// IsTerminal reports whether status is a final state.
func (s LaneStatus) IsTerminal() bool {
	return s == LaneCompleted || s == LaneFailed
}

// IsActive reports whether the lane is currently being worked.
func (s LaneStatus) IsActive() bool {
	return s == LaneRunning || s == LaneWaiting || s == LaneReviewing
}

// LaneLogEntry mirrors the teacher's task.LogEntry shape, widened to
// lane-level loop steps.
type LaneLogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Phase   string    `json:"phase,omitempty"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// DependencyRequest is the structured signal an agent uses to ask for
// external dependency changes instead of making them itself.
type DependencyRequest struct {
	Reason   string   `json:"reason"`
	Commands []string `json:"commands"`
	Changes  []string `json:"changes,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// LaneState is the durable, persisted state of one lane.
type LaneState struct {
	Label             string              `json:"label"`
	Status            LaneStatus          `json:"status"`
	CurrentTaskIndex  int                 `json:"currentTaskIndex"`
	TotalTasks        int                 `json:"totalTasks"`
	WorktreeDir       string              `json:"worktreeDir"`
	PipelineBranch    string              `json:"pipelineBranch"`
	StartTime         time.Time           `json:"startTime"`
	EndTime           *time.Time          `json:"endTime,omitempty"`
	Error             string              `json:"error,omitempty"`
	DependencyRequest *DependencyRequest  `json:"dependencyRequest,omitempty"`
	TasksFile         string              `json:"tasksFile,omitempty"`
	DependsOn         []string            `json:"dependsOn,omitempty"`
	CompletedTasks    []string            `json:"completedTasks"`
	WaitingFor        []string            `json:"waitingFor,omitempty"`
	ChatID            string              `json:"chatId,omitempty"`
	PID               *int                `json:"pid,omitempty"`
	UpdatedAt         time.Time           `json:"updatedAt"`
	Logs              []LaneLogEntry      `json:"logs,omitempty"`
}

// AddLog appends a log entry, trimming to the newest 200 (bounded
// ring), mirroring the teacher's task.Task.AddLog / Logs field.
func (s *LaneState) AddLog(level, phase, message string, data any) {
	s.Logs = append(s.Logs, LaneLogEntry{
		Time: time.Now(), Level: level, Phase: phase, Message: message, Data: data,
	})
	const maxLogs = 200
	if len(s.Logs) > maxLogs {
		s.Logs = s.Logs[len(s.Logs)-maxLogs:]
	}
	s.UpdatedAt = time.Now()
}

// GitState is the Git-side snapshot captured by a Checkpoint.
type GitState struct {
	Branch             string   `json:"branch"`
	CommitHash         string   `json:"commitHash"`
	UncommittedChanges bool     `json:"uncommittedChanges"`
	ChangedFiles       []string `json:"changedFiles,omitempty"`
}

// Checkpoint is an immutable snapshot of lane state plus captured Git
// HEAD, written before critical operations.
type Checkpoint struct {
	ID          string     `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	LaneName    string     `json:"laneName"`
	State       LaneState  `json:"state"`
	Git         *GitState  `json:"git,omitempty"`
	TaskIndex   int        `json:"taskIndex"`
	Description string     `json:"description"`
}

// RecoveryStage is a rung on the Stall Detector's recovery ladder.
type RecoveryStage string

const (
	StageNormal          RecoveryStage = "NORMAL"
	StageContinueSignal  RecoveryStage = "CONTINUE_SIGNAL"
	StageStrongerPrompt  RecoveryStage = "STRONGER_PROMPT"
	StageRestart         RecoveryStage = "RESTART"
	StageDiagnose        RecoveryStage = "DIAGNOSE"
	StageAbort           RecoveryStage = "ABORT"
)

// FailureRecord is one entry in a RecoveryState's failure history.
type FailureRecord struct {
	Time   time.Time     `json:"time"`
	Stage  RecoveryStage `json:"stage"`
	Reason string        `json:"reason"`
}

// RecoveryState is the per-lane, in-memory state of the recovery
// ladder.
type RecoveryState struct {
	LaneName            string          `json:"laneName"`
	RunID               string          `json:"runId"`
	Stage               RecoveryStage   `json:"stage"`
	LastActivityTime    time.Time       `json:"lastActivityTime"`
	TotalBytesReceived  int64           `json:"totalBytesReceived"`
	LastOutput          []string        `json:"lastOutput,omitempty"`
	RestartCount        int             `json:"restartCount"`
	ContinueSignalsSent int             `json:"continueSignalsSent"`
	LastStageChangeTime time.Time       `json:"lastStageChangeTime"`
	IsLongOperation     bool            `json:"isLongOperation"`
	FailureHistory      []FailureRecord `json:"failureHistory,omitempty"`
}

// DiagnosticInfo is recorded at the DIAGNOSE stage.
type DiagnosticInfo struct {
	AgentInstalled bool   `json:"agentInstalled"`
	Authenticated  bool   `json:"authenticated"`
	FilesystemOK   bool   `json:"filesystemOk"`
	RemoteOK       bool   `json:"remoteOk"`
	Notes          string `json:"notes,omitempty"`
}

// AffectedLane is one lane's recovery history as recorded in a POF.
type AffectedLane struct {
	LaneName         string          `json:"laneName"`
	RecoveryAttempts []FailureRecord `json:"recoveryAttempts"`
}

// RecoveryCommands are the suggested resume invocations in a POF.
type RecoveryCommands struct {
	Command            string `json:"command"`
	AlternativeCommand string `json:"alternativeCommand"`
}

// RootCause describes a POF's diagnosed failure.
type RootCause struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Symptoms    []string `json:"symptoms,omitempty"`
}

// PostMortem (POF) is the durable record emitted on abort.
type PostMortem struct {
	Title           string         `json:"title"`
	RunID           string         `json:"runId"`
	FailureTime     time.Time      `json:"failureTime"`
	Summary         string         `json:"summary"`
	RootCause       RootCause      `json:"rootCause"`
	AffectedLanes   []AffectedLane `json:"affectedLanes"`
	PossibleCauses  []string       `json:"possibleCauses,omitempty"`
	Recovery        RecoveryCommands `json:"recovery"`
	PreviousFailures []PostMortem  `json:"previousFailures,omitempty"`
}
