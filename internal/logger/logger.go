// Package logger provides structured logging for the orchestrator,
// lane runners, and their supervised components.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/lanehive/lanehive/internal/config"
)

// NewSystemLogger creates the main orchestrator logger: JSON to a file
// under the configured log directory (cfg.LogDirectory), mirrored to
// stdout.
func NewSystemLogger(cfg *config.Config) (hclog.Logger, error) {
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		return nil, err
	}

	logPath := filepath.Join(cfg.LogDirectory, "orchestrator.log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	multi := io.MultiWriter(os.Stdout, file)

	return hclog.New(&hclog.LoggerOptions{
		Name:       "lanehive",
		Level:      ParseLevel(cfg.LogLevel),
		Output:     multi,
		JSONFormat: true,
	}), nil
}

// NewEmbeddedLogger creates a logger that writes only to file, for
// callers (e.g. a future TUI) that render their own console output.
func NewEmbeddedLogger(cfg *config.Config) (hclog.Logger, error) {
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		return nil, err
	}

	logPath := filepath.Join(cfg.LogDirectory, "orchestrator.log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       "lanehive",
		Level:      ParseLevel(cfg.LogLevel),
		Output:     file,
		JSONFormat: true,
	}), nil
}

// NewLaneLogger creates a named sub-logger for one lane, writing JSON
// lines into the lane's own run directory.
func NewLaneLogger(cfg *config.Config, laneDir, laneName string) (hclog.Logger, func(), error) {
	if err := os.MkdirAll(laneDir, 0755); err != nil {
		return nil, nil, err
	}

	logPath := filepath.Join(laneDir, "lane.log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}

	base := hclog.New(&hclog.LoggerOptions{
		Name:       "lanehive",
		Level:      ParseLevel(cfg.LogLevel),
		Output:     file,
		JSONFormat: true,
	})

	cleanup := func() { file.Close() }
	return base.Named(laneName), cleanup, nil
}

// NewConsoleLogger creates a simple console-only logger, for debug
// entrypoints like cmd/lanerunner.
func NewConsoleLogger(cfg *config.Config) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "lanehive",
		Level:  ParseLevel(cfg.LogLevel),
		Output: os.Stdout,
	})
}

// ParseLevel converts a string log level to an hclog.Level.
func ParseLevel(level string) hclog.Level {
	switch level {
	case "debug":
		return hclog.Debug
	case "info":
		return hclog.Info
	case "warn":
		return hclog.Warn
	case "error":
		return hclog.Error
	default:
		return hclog.Info
	}
}
