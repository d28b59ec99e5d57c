package agent

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// SignalKind identifies which operator signal file appeared.
type SignalKind string

const (
	SignalIntervention SignalKind = "intervention"
	SignalTimeout      SignalKind = "timeout"
)

// interventionFile and timeoutFile are dropped into a lane's run
// directory by an operator (or a higher-level tool) while a send runs:
// intervention.txt is logged for the operator to follow up on, and
// timeout.txt reschedules the send's hard deadline.
const interventionFile = "intervention.txt"
const timeoutFile = "timeout.txt"

// SignalHandler is invoked when an operator signal file is created.
type SignalHandler func(kind SignalKind, content string)

// Watcher watches a lane's run directory for operator signal files
// using fsnotify, repurposed here from the teacher's TUI file watcher.
type Watcher struct {
	log hclog.Logger
	dir string
}

// NewWatcher returns a Watcher over dir (the lane's run directory,
// e.g. <logsDir>/runs/<runId>/lanes/<laneName>).
func NewWatcher(log hclog.Logger, dir string) *Watcher {
	return &Watcher{log: log.Named("agent.watcher"), dir: dir}
}

// Run watches until ctx is cancelled, invoking handler for every
// signal file create or write event. Pre-existing signal files present at
// startup are also reported once before the watch loop begins.
func (w *Watcher) Run(ctx context.Context, handler SignalHandler) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	w.checkExisting(handler)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.dispatch(event.Name, handler)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) checkExisting(handler SignalHandler) {
	w.dispatch(filepath.Join(w.dir, interventionFile), handler)
	w.dispatch(filepath.Join(w.dir, timeoutFile), handler)
}

func (w *Watcher) dispatch(path string, handler SignalHandler) {
	base := filepath.Base(path)
	var kind SignalKind
	switch base {
	case interventionFile:
		kind = SignalIntervention
	case timeoutFile:
		kind = SignalTimeout
	default:
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	handler(kind, string(data))
	os.Remove(path)
}
