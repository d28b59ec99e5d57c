package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/lanehive/lanehive/internal/types"
)

var taskNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidationError is a ConfigError (spec §7): a problem with the lane
// specs themselves, fatal before any lane starts.
type ValidationError struct {
	Reason string
	Cycle  []string // populated only for a dependency cycle
}

func (e *ValidationError) Error() string { return e.Reason }

// ParseLaneSpecs reads every *.json file under dir as a Lane Spec,
// defaulting a lane's name to its filename stem when the spec omits
// one, and returns them keyed by name in a stable (sorted) order.
func ParseLaneSpecs(dir string) (map[string]types.LaneSpec, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read tasks directory %s: %w", dir, err)
	}

	lanes := make(map[string]types.LaneSpec)
	var order []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read lane spec %s: %w", path, err)
		}
		var spec types.LaneSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, nil, &ValidationError{Reason: fmt.Sprintf("lane spec %s: invalid JSON: %v", path, err)}
		}
		if spec.Name == "" {
			spec.Name = strings.TrimSuffix(entry.Name(), ".json")
		}
		if _, exists := lanes[spec.Name]; exists {
			return nil, nil, &ValidationError{Reason: fmt.Sprintf("duplicate lane name %q", spec.Name)}
		}
		lanes[spec.Name] = spec
		order = append(order, spec.Name)
	}

	sort.Strings(order)
	return lanes, order, nil
}

// ValidateLaneSpecs checks the structural invariants of §4.I: every
// dependsOn reference resolves to a known lane, task names match
// /^[A-Za-z0-9_-]+$/, task prompts are non-empty, and no lane repeats
// a task name. It does not check for cycles; call DetectCycle for that.
func ValidateLaneSpecs(lanes map[string]types.LaneSpec) error {
	for name, spec := range lanes {
		for _, dep := range spec.DependsOn {
			depLane, _, _ := splitDependency(dep)
			if _, ok := lanes[depLane]; !ok {
				return &ValidationError{Reason: fmt.Sprintf("lane %q depends on unknown lane %q", name, depLane)}
			}
		}

		seen := make(map[string]bool, len(spec.Tasks))
		for _, task := range spec.Tasks {
			if !taskNamePattern.MatchString(task.Name) {
				return &ValidationError{Reason: fmt.Sprintf("lane %q: task name %q must match /^[A-Za-z0-9_-]+$/", name, task.Name)}
			}
			if strings.TrimSpace(task.Prompt) == "" {
				return &ValidationError{Reason: fmt.Sprintf("lane %q: task %q has an empty prompt", name, task.Name)}
			}
			if seen[task.Name] {
				return &ValidationError{Reason: fmt.Sprintf("lane %q: duplicate task name %q", name, task.Name)}
			}
			seen[task.Name] = true

			for _, dep := range task.DependsOn {
				depLane, _, _ := splitDependency(dep)
				if _, ok := lanes[depLane]; !ok {
					return &ValidationError{Reason: fmt.Sprintf("lane %q task %q depends on unknown lane %q", name, task.Name, depLane)}
				}
			}
		}
	}
	return nil
}

// splitDependency splits a "lane" or "lane:task" dependency reference.
func splitDependency(dep string) (lane, task string, hasTask bool) {
	if idx := strings.IndexByte(dep, ':'); idx >= 0 {
		return dep[:idx], dep[idx+1:], true
	}
	return dep, "", false
}
