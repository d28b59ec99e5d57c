package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lanehive/lanehive/internal/config"
	"github.com/lanehive/lanehive/internal/depcoord"
	"github.com/lanehive/lanehive/internal/eventbus"
	"github.com/lanehive/lanehive/internal/git"
	"github.com/lanehive/lanehive/internal/lane"
	"github.com/lanehive/lanehive/internal/lockmgr"
	"github.com/lanehive/lanehive/internal/logger"
	"github.com/lanehive/lanehive/internal/statestore"
	"github.com/lanehive/lanehive/internal/types"
)

// lanerunner drives one lane spec directly, without an Orchestrator
// around it. Useful for iterating on a single lane's prompts. A spec
// naming dependsOn references can't resolve them here (there's no
// sibling lane state to poll) and will time out waiting.
func main() {
	laneFile := flag.String("lane", "", "Path to a single lane spec JSON file")
	name := flag.String("name", "", "Lane label (defaults to the spec file's basename)")
	repoRoot := flag.String("repo", ".", "Path to the git repository the lane runs against")
	logsDir := flag.String("logs", "./logs/lanerunner", "Directory to write this lane's state and log under")
	configPath := flag.String("config", "", "Optional config file (defaults to config.DefaultConfig())")
	flag.Parse()

	if *laneFile == "" {
		fmt.Fprintln(os.Stderr, "Error: --lane is required")
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	data, err := os.ReadFile(*laneFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading lane spec: %v\n", err)
		os.Exit(1)
	}
	var spec types.LaneSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing lane spec: %v\n", err)
		os.Exit(1)
	}

	label := *name
	if label == "" {
		label = spec.Name
	}
	if label == "" {
		base := filepath.Base(*laneFile)
		label = base[:len(base)-len(filepath.Ext(base))]
	}

	repo, err := filepath.Abs(*repoRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving repo path: %v\n", err)
		os.Exit(1)
	}
	laneDir, err := filepath.Abs(*logsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving logs path: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewConsoleLogger(cfg).Named(label)
	log.Info("running single lane", "lane", label, "spec", *laneFile, "repo", repo)

	locks := lockmgr.New(filepath.Join(repo, cfg.InternalDir, "locks"))
	gitFacade := git.New(log.Named("git"), locks)
	coord := depcoord.New(func(string) string { return "" })

	deps := lane.Deps{
		Config:   cfg,
		Log:      log,
		Bus:      eventbus.New("lanerunner-" + label),
		Git:      gitFacade,
		DepCoord: coord,
		RunID:    "lanerunner",
		RepoRoot: repo,
		LaneDir:  laneDir,
		PofDir:   filepath.Join(laneDir, "pof"),
	}

	runner := lane.New(deps, spec, label)
	if err := runner.Run(context.Background()); err != nil {
		log.Error("lane runner returned error", "error", err)
		os.Exit(1)
	}

	state, ok, err := statestore.Load[types.LaneState](filepath.Join(laneDir, "state.json"))
	if err != nil || !ok {
		log.Error("failed to read final lane state", "error", err)
		os.Exit(1)
	}

	fmt.Printf("\n>>> LANE %s FINISHED: %s\n", label, state.Status)
	if state.Error != "" {
		fmt.Printf(">>> ERROR: %s\n", state.Error)
	}

	if state.Status != types.LaneCompleted {
		os.Exit(1)
	}
}
