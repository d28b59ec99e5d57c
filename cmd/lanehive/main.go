package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lanehive/lanehive/internal/config"
	"github.com/lanehive/lanehive/internal/git"
	"github.com/lanehive/lanehive/internal/lockmgr"
	"github.com/lanehive/lanehive/internal/logger"
	"github.com/lanehive/lanehive/internal/orchestrator"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.json", "Path to config file")
	tasksDir := flag.String("tasks", "tasks", "Directory of lane spec JSON files")
	repoRoot := flag.String("repo", ".", "Path to the git repository the flow runs against")
	maxConcurrent := flag.Int("max-concurrent-lanes", 0, "Override max_concurrent_lanes (0 = use config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("lanehive %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *maxConcurrent > 0 {
		cfg.MaxConcurrentLanes = *maxConcurrent
	}

	log, err := logger.NewSystemLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	repo, err := filepath.Abs(*repoRoot)
	if err != nil {
		log.Error("failed to resolve repo path", "error", err)
		os.Exit(orchestrator.ExitPreflightFailure)
	}
	tasks, err := filepath.Abs(*tasksDir)
	if err != nil {
		log.Error("failed to resolve tasks path", "error", err)
		os.Exit(orchestrator.ExitPreflightFailure)
	}

	log.Info("starting lanehive",
		"version", version,
		"config", *configPath,
		"tasks", tasks,
		"repo", repo,
		"max_concurrent_lanes", cfg.MaxConcurrentLanes,
	)

	locks := lockmgr.New(filepath.Join(repo, cfg.InternalDir, "locks"))
	gitFacade := git.New(log.Named("git"), locks)

	orch := orchestrator.New(cfg, log, gitFacade, repo, tasks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	code, err := orch.Run(ctx)
	if err != nil {
		log.Error("flow run finished with error", "error", err, "exit_code", code)
	} else {
		log.Info("flow run finished", "exit_code", code)
	}
	os.Exit(code)
}
