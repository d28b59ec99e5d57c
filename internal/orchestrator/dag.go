package orchestrator

import (
	"fmt"

	"github.com/lanehive/lanehive/internal/types"
)

// dagColor tracks DFS visitation state for cycle detection.
type dagColor int

const (
	colorWhite dagColor = iota
	colorGray
	colorBlack
)

// DetectCycle runs a DFS over the lane dependency graph and returns
// the first cycle found, as an ordered list of lane names closing
// back on itself (e.g. ["a", "b", "a"]). A nil slice means the graph
// is acyclic.
func DetectCycle(lanes map[string]types.LaneSpec, order []string) []string {
	colors := make(map[string]dagColor, len(lanes))
	var path []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		colors[name] = colorGray
		path = append(path, name)

		for _, dep := range lanes[name].DependsOn {
			depLane, _, _ := splitDependency(dep)
			switch colors[depLane] {
			case colorGray:
				// Found the back-edge; slice path from the first
				// occurrence of depLane to close the cycle.
				for i, p := range path {
					if p == depLane {
						cycle = append(append([]string{}, path[i:]...), depLane)
						break
					}
				}
				return true
			case colorWhite:
				if visit(depLane) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		colors[name] = colorBlack
		return false
	}

	for _, name := range order {
		if colors[name] == colorWhite {
			if visit(name) {
				return cycle
			}
		}
	}
	return nil
}

// TopologicalOrder returns lane names in dependency order (a lane
// appears after everything it depends on), assuming the graph is
// already known to be acyclic. Used by the Flow Integrator to merge
// lane branches in a stable order.
func TopologicalOrder(lanes map[string]types.LaneSpec, order []string) ([]string, error) {
	visited := make(map[string]bool, len(lanes))
	visiting := make(map[string]bool, len(lanes))
	result := make([]string, 0, len(lanes))

	var visit func(name string) error
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		if visiting[name] {
			return fmt.Errorf("unexpected cycle at lane %q", name)
		}
		visiting[name] = true
		for _, dep := range lanes[name].DependsOn {
			depLane, _, _ := splitDependency(dep)
			if err := visit(depLane); err != nil {
				return err
			}
		}
		visiting[name] = false
		visited[name] = true
		result = append(result, name)
		return nil
	}

	for _, name := range order {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return result, nil
}
