// Package statestore provides durable, atomically-written JSON state
// and append-only JSONL logs, generalizing the teacher's
// task.Manager save/load discipline (temp-file-then-rename) from "one
// tasks slice" to "any JSON value at any path."
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lanehive/lanehive/internal/ids"
)

// Save writes value to path atomically: marshal, write to
// "<path>.<rand5>.tmp", then rename over path. The parent directory is
// created if missing; the temp file is removed on any error.
func Save(path string, value any) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%s.tmp", path, ids.Rand5())
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Load reads and unmarshals a JSON value at path into a new T. A
// missing file returns (zero, false, nil); a present-but-invalid file
// returns (zero, false, err) so callers can distinguish "nothing
// there yet" from "state corrupted."
func Load[T any](path string) (T, bool, error) {
	var out T

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, false, nil
		}
		return out, false, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return out, false, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}

	return out, true, nil
}

// Remove deletes the file at path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// AppendLog appends one JSON-encoded line to a line-delimited log
// file, creating it (and its parent directory) if necessary.
func AppendLog(path string, entry any) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	return nil
}
