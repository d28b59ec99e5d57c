// Package config handles loading and validation of flow-level
// configuration: agent invocation, concurrency limits, recovery
// ladder timings, and dependency policy defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config represents the flow configuration for one orchestrator run.
type Config struct {
	// AgentCommand is the executable and leading args for the external
	// coding agent CLI (e.g. ["claude"]).
	AgentCommand []string `json:"agent_command"`

	// MaxConcurrentLanes bounds how many lane runners may be admitted
	// (i.e. running) at once.
	MaxConcurrentLanes int `json:"max_concurrent_lanes"`

	// DefaultTaskTimeoutSeconds is used when neither a task nor the
	// flow specifies a timeout (spec default: 10 minutes).
	DefaultTaskTimeoutSeconds int `json:"default_task_timeout_seconds"`

	// DependencyWaitTimeoutSeconds bounds how long a lane waits on a
	// lane:task dependency (spec default: 30 minutes).
	DependencyWaitTimeoutSeconds int `json:"dependency_wait_timeout_seconds"`

	// GitTimeoutSeconds bounds a single git subprocess invocation.
	GitTimeoutSeconds int `json:"git_timeout_seconds"`

	// LogDirectory is the root directory for run/lane logs.
	LogDirectory string `json:"log_directory"`

	// LogLevel sets logging verbosity (debug, info, warn, error).
	LogLevel string `json:"log_level"`

	// LogsRoot is the root directory under which run directories
	// (<logsRoot>/runs/<runId>/...) are created.
	LogsRoot string `json:"logs_root"`

	// PofDirectory is where post-mortem documents are written.
	PofDirectory string `json:"pof_directory"`

	// InternalDir is the repo-relative directory used for locks and
	// the dependency-request/lane-state marker files (default ".lanehive").
	InternalDir string `json:"internal_dir"`

	// BaseBranch is the default branch lanes fork from and the flow
	// integrates back onto.
	BaseBranch string `json:"base_branch"`

	// BranchPrefix is prepended to auto-generated pipeline branch names.
	BranchPrefix string `json:"branch_prefix"`

	// WorktreeRoot is the parent directory for per-lane worktrees.
	WorktreeRoot string `json:"worktree_root"`

	// NoGit, when true, makes the Orchestrator's preflight skip its
	// git-installed and git-repository checks. It does not put the Git
	// Facade into directory-copy mode; only git.WithNoGit does that.
	NoGit bool `json:"no_git"`

	// CleanupLaneBranchesOnIntegration deletes lane branches (local and
	// remote) once the Flow Integrator succeeds.
	CleanupLaneBranchesOnIntegration bool `json:"cleanup_lane_branches_on_integration"`

	// DependencyPolicy holds the default dependency policy applied to
	// a lane when its spec omits one.
	DependencyPolicy DependencyPolicy `json:"dependency_policy"`

	// Recovery holds the Stall Detector / Auto-Recovery ladder timings.
	Recovery RecoveryConfig `json:"recovery"`
}

// DependencyPolicy controls whether a lane's tasks may change package
// dependencies or lockfiles.
type DependencyPolicy struct {
	AllowDependencyChange bool `json:"allow_dependency_change"`
	LockfileReadOnly      bool `json:"lockfile_read_only"`
}

// RecoveryConfig holds the tiered recovery ladder's timings.
type RecoveryConfig struct {
	// IdleTimeoutSeconds is the idle threshold before NORMAL escalates.
	IdleTimeoutSeconds int `json:"idle_timeout_seconds"`

	// LongOperationGraceSeconds extends the idle grace once a "long
	// operation" pattern has been observed in recent output.
	LongOperationGraceSeconds int `json:"long_operation_grace_seconds"`

	// TickIntervalSeconds is how often the ladder is evaluated.
	TickIntervalSeconds int `json:"tick_interval_seconds"`

	// StageGraceSeconds bounds the minimum dwell time at each stage
	// before the next escalation is permitted.
	StageGraceSeconds int `json:"stage_grace_seconds"`

	// MaxRestarts is the number of RESTART attempts before the ladder
	// proceeds to DIAGNOSE.
	MaxRestarts int `json:"max_restarts"`

	// LongOperationPatterns is a list of regexp sources matched
	// against output snippets to detect long-running steps (installs,
	// compiles, downloads). Default: empty (spec.md §9 open question 2).
	LongOperationPatterns []string `json:"long_operation_patterns"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AgentCommand:                 []string{"agent"},
		MaxConcurrentLanes:           10,
		DefaultTaskTimeoutSeconds:    600,
		DependencyWaitTimeoutSeconds: 1800,
		GitTimeoutSeconds:            30,
		LogDirectory:                 "./logs",
		LogLevel:                     "info",
		LogsRoot:                     "./logs",
		PofDirectory:                 "./logs/pof",
		InternalDir:                  ".lanehive",
		BaseBranch:                   "main",
		BranchPrefix:                 "lane/",
		WorktreeRoot:                 "./.worktrees",
		NoGit:                        false,
		DependencyPolicy: DependencyPolicy{
			AllowDependencyChange: false,
			LockfileReadOnly:      true,
		},
		Recovery: RecoveryConfig{
			IdleTimeoutSeconds:        120,
			LongOperationGraceSeconds: 600,
			TickIntervalSeconds:       10,
			StageGraceSeconds:         30,
			MaxRestarts:               2,
			LongOperationPatterns:     nil,
		},
	}
}

// Load reads configuration from a JSON file. If the file doesn't
// exist, it returns DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-valued fields after an overlay load.
func (c *Config) applyDefaults() {
	d := DefaultConfig()

	if len(c.AgentCommand) == 0 {
		c.AgentCommand = d.AgentCommand
	}
	if c.MaxConcurrentLanes <= 0 {
		c.MaxConcurrentLanes = d.MaxConcurrentLanes
	}
	if c.DefaultTaskTimeoutSeconds <= 0 {
		c.DefaultTaskTimeoutSeconds = d.DefaultTaskTimeoutSeconds
	}
	if c.DependencyWaitTimeoutSeconds <= 0 {
		c.DependencyWaitTimeoutSeconds = d.DependencyWaitTimeoutSeconds
	}
	if c.GitTimeoutSeconds <= 0 {
		c.GitTimeoutSeconds = d.GitTimeoutSeconds
	}
	if c.LogDirectory == "" {
		c.LogDirectory = d.LogDirectory
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogsRoot == "" {
		c.LogsRoot = d.LogsRoot
	}
	if c.PofDirectory == "" {
		c.PofDirectory = d.PofDirectory
	}
	if c.InternalDir == "" {
		c.InternalDir = d.InternalDir
	}
	if c.BaseBranch == "" {
		c.BaseBranch = d.BaseBranch
	}
	if c.BranchPrefix == "" {
		c.BranchPrefix = d.BranchPrefix
	}
	if c.WorktreeRoot == "" {
		c.WorktreeRoot = d.WorktreeRoot
	}
	if c.Recovery.IdleTimeoutSeconds <= 0 {
		c.Recovery.IdleTimeoutSeconds = d.Recovery.IdleTimeoutSeconds
	}
	if c.Recovery.LongOperationGraceSeconds <= 0 {
		c.Recovery.LongOperationGraceSeconds = d.Recovery.LongOperationGraceSeconds
	}
	if c.Recovery.TickIntervalSeconds <= 0 {
		c.Recovery.TickIntervalSeconds = d.Recovery.TickIntervalSeconds
	}
	if c.Recovery.StageGraceSeconds <= 0 {
		c.Recovery.StageGraceSeconds = d.Recovery.StageGraceSeconds
	}
	if c.Recovery.MaxRestarts <= 0 {
		c.Recovery.MaxRestarts = d.Recovery.MaxRestarts
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.MaxConcurrentLanes < 1 {
		return fmt.Errorf("max_concurrent_lanes must be at least 1, got %d", c.MaxConcurrentLanes)
	}
	if c.DefaultTaskTimeoutSeconds < 1 {
		return fmt.Errorf("default_task_timeout_seconds must be at least 1, got %d", c.DefaultTaskTimeoutSeconds)
	}
	if len(c.AgentCommand) == 0 {
		return fmt.Errorf("agent_command cannot be empty")
	}
	if c.Recovery.MaxRestarts < 0 {
		return fmt.Errorf("recovery.max_restarts cannot be negative")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
