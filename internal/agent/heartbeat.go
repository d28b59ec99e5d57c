package agent

import (
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
)

// Heartbeat ticks every 30 seconds while a send is in flight; the
// Supervisor uses each tick to log elapsed time and bytes received.
// Ticks are not fed to the Stall Detector.
type Heartbeat struct {
	cron *cron.Cron
	log  hclog.Logger
}

// NewHeartbeat returns a Heartbeat that calls onTick every 30s once
// Start is called.
func NewHeartbeat(log hclog.Logger, onTick func()) *Heartbeat {
	c := cron.New(cron.WithSeconds())
	h := &Heartbeat{cron: c, log: log.Named("agent.heartbeat")}
	if _, err := c.AddFunc("@every 30s", onTick); err != nil {
		h.log.Error("failed to schedule heartbeat", "error", err)
	}
	return h
}

// Start begins ticking in the background.
func (h *Heartbeat) Start() { h.cron.Start() }

// Stop halts ticking and waits for any in-flight tick to finish.
func (h *Heartbeat) Stop() { <-h.cron.Stop().Done() }
