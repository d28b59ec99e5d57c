// Package recovery implements the Stall Detector / Auto-Recovery
// component (F): a per-lane ladder that escalates from a nudge to a
// full abort when the agent stops producing output, generalized from
// the teacher's single restart-with-cooldown counter into five
// distinct stages with per-stage dwell grace and failure history.
package recovery

import (
	"regexp"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/lanehive/lanehive/internal/config"
	"github.com/lanehive/lanehive/internal/types"
)

// Action is what the ladder wants the Lane Runner to do after a tick.
type Action string

const (
	ActionNone            Action = "none"
	ActionSendContinue    Action = "send_continue"
	ActionSendStronger    Action = "send_stronger_prompt"
	ActionRestartAgent    Action = "restart_agent"
	ActionDiagnose        Action = "diagnose"
	ActionAbort           Action = "abort"
)

// Detector tracks one lane's activity and evaluates the recovery
// ladder on each tick.
type Detector struct {
	log hclog.Logger
	rc  config.RecoveryConfig

	longOpPatterns []*regexp.Regexp

	mu    sync.Mutex
	state types.RecoveryState
}

// New returns a Detector for one lane.
func New(log hclog.Logger, rc config.RecoveryConfig, laneName, runID string) *Detector {
	var patterns []*regexp.Regexp
	for _, src := range rc.LongOperationPatterns {
		if re, err := regexp.Compile(src); err == nil {
			patterns = append(patterns, re)
		}
	}
	return &Detector{
		log: log.Named("recovery"),
		rc:  rc,
		longOpPatterns: patterns,
		state: types.RecoveryState{
			LaneName:            laneName,
			RunID:               runID,
			Stage:               types.StageNormal,
			LastActivityTime:    time.Now(),
			LastStageChangeTime: time.Now(),
		},
	}
}

// OnActivity records output activity, resetting the idle clock and
// checking whether the snippet indicates a known long-running
// operation (install, compile, download), which extends the idle
// grace period.
func (d *Detector) OnActivity(bytesRead int, snippet string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state.LastActivityTime = time.Now()
	d.state.TotalBytesReceived += int64(bytesRead)
	d.state.LastOutput = append(d.state.LastOutput, snippet)
	if len(d.state.LastOutput) > 20 {
		d.state.LastOutput = d.state.LastOutput[len(d.state.LastOutput)-20:]
	}

	d.state.IsLongOperation = false
	for _, re := range d.longOpPatterns {
		if re.MatchString(snippet) {
			d.state.IsLongOperation = true
			break
		}
	}
}

// Reset returns the ladder to NORMAL, used after a task completes.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.Stage = types.StageNormal
	d.state.RestartCount = 0
	d.state.ContinueSignalsSent = 0
	d.state.LastActivityTime = time.Now()
	d.state.LastStageChangeTime = time.Now()
}

// State returns a copy of the current recovery state.
func (d *Detector) State() types.RecoveryState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Evaluate runs one ladder tick and returns the action the Lane Runner
// should take, if any. It is idempotent between escalations: called
// repeatedly while idle, it returns ActionNone until enough idle time
// (plus per-stage dwell grace) has passed to justify the next rung.
func (d *Detector) Evaluate(reason string) Action {
	d.mu.Lock()
	defer d.mu.Unlock()

	idleThreshold := time.Duration(d.rc.IdleTimeoutSeconds) * time.Second
	if d.state.IsLongOperation {
		idleThreshold = time.Duration(d.rc.LongOperationGraceSeconds) * time.Second
	}
	idleFor := time.Since(d.state.LastActivityTime)
	if idleFor < idleThreshold {
		return ActionNone
	}

	dwellGrace := time.Duration(d.rc.StageGraceSeconds) * time.Second
	if time.Since(d.state.LastStageChangeTime) < dwellGrace && d.state.Stage != types.StageNormal {
		return ActionNone
	}

	next, action := d.nextStage()
	d.recordFailure(next, reason)
	d.state.Stage = next
	d.state.LastStageChangeTime = time.Now()
	return action
}

func (d *Detector) nextStage() (types.RecoveryStage, Action) {
	switch d.state.Stage {
	case types.StageNormal:
		d.state.ContinueSignalsSent++
		return types.StageContinueSignal, ActionSendContinue
	case types.StageContinueSignal:
		return types.StageStrongerPrompt, ActionSendStronger
	case types.StageStrongerPrompt:
		return types.StageRestart, ActionRestartAgent
	case types.StageRestart:
		d.state.RestartCount++
		if d.state.RestartCount < d.rc.MaxRestarts {
			return types.StageRestart, ActionRestartAgent
		}
		return types.StageDiagnose, ActionDiagnose
	case types.StageDiagnose:
		return types.StageAbort, ActionAbort
	default:
		return types.StageAbort, ActionAbort
	}
}

func (d *Detector) recordFailure(stage types.RecoveryStage, reason string) {
	d.state.FailureHistory = append(d.state.FailureHistory, types.FailureRecord{
		Time: time.Now(), Stage: stage, Reason: reason,
	})
}

// Ticker runs Evaluate on a fixed interval until Stop is called,
// invoking onAction for every non-ActionNone result.
type Ticker struct {
	cron *cron.Cron
	log  hclog.Logger
}

// StartTicker schedules periodic evaluation, matching the Stall
// Detector's tick cadence (spec default 10s) via robfig/cron rather
// than a hand-rolled time.Ticker, for consistency with the Agent
// Supervisor's heartbeat.
func StartTicker(log hclog.Logger, interval time.Duration, evaluate func() Action, onAction func(Action)) *Ticker {
	c := cron.New(cron.WithSeconds())
	spec := "@every " + interval.String()
	t := &Ticker{cron: c, log: log.Named("recovery.ticker")}
	if _, err := c.AddFunc(spec, func() {
		if action := evaluate(); action != ActionNone {
			onAction(action)
		}
	}); err != nil {
		t.log.Error("failed to schedule recovery tick", "error", err)
	}
	c.Start()
	return t
}

// Stop halts the ticker.
func (t *Ticker) Stop() { <-t.cron.Stop().Done() }

// DiagnoseError wraps a diagnose-stage failure with its cause chain.
// The Lane Runner's diagnose step does not call it: a failed probe is
// recorded as a false field of DiagnosticInfo instead.
func DiagnoseError(op string, err error) error {
	return errors.Wrapf(err, "diagnose: %s", op)
}
