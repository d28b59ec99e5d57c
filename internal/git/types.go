package git

// Result is the typed outcome of a raw git invocation.
type Result struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
}

// MergeConflictCheck is the result of checkMergeConflict.
type MergeConflictCheck struct {
	WillConflict     bool
	ConflictingFiles []string
}

// MergeResult is the result of safeMerge.
type MergeResult struct {
	Success          bool
	Conflict         bool
	ConflictingFiles []string
	Aborted          bool
	Error            error
}

// MergeOptions configures safeMerge.
type MergeOptions struct {
	NoFF           bool
	Message        string
	AbortOnConflict bool
	Strategy       string
}

// PushFallbackResult is the result of pushWithFallbackBranchName.
type PushFallbackResult struct {
	Success        bool
	FinalBranchName string
	Renamed        bool
}

// WorktreeInfo is one entry from `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path   string
	Head   string
	Branch string
}
