// cmd/sweep-agent/main.go
package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aerobench/sweep-orchestrator/internal/pool"
	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

var (
	configPath string
	serverURLs []string
	agentID    string
	slots      int
	solverCmd  string
	workDir    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sweep-agent",
		Short: "Solver worker that connects to a pool coordinator",
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.Flags().StringSliceVar(&serverURLs, "server", nil, "Coordinator WebSocket URL (repeatable)")
	rootCmd.Flags().StringVar(&agentID, "id", "", "Agent ID")
	rootCmd.Flags().IntVar(&slots, "slots", 1, "Concurrent solver runs")
	rootCmd.Flags().StringVar(&solverCmd, "solver", "", "Solver command")
	rootCmd.Flags().StringVar(&workDir, "workdir", "", "Scratch directory for point runs")

	rootCmd.AddCommand(newServiceCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Config defines the sweep-agent configuration file format
type Config struct {
	Coordinator struct {
		URLs []string `toml:"urls"`
	} `toml:"coordinator"`
	Agent struct {
		ID    string `toml:"id"`
		Host  string `toml:"host"`
		Slots int    `toml:"slots"`
	} `toml:"agent"`
	Solver struct {
		Command string `toml:"command"`
		MPIRun  string `toml:"mpirun"`
	} `toml:"solver"`
	Storage struct {
		WorkDir string `toml:"work_dir"`
	} `toml:"storage"`
}

// Default config file locations (checked in order)
var defaultConfigPaths = []string{
	"/etc/sweep-agent/config.toml",
	"/etc/sweep-agent.toml",
}

func run(cmd *cobra.Command, args []string) error {
	var cfg Config

	cfgPath := configPath
	if cfgPath == "" {
		for _, p := range defaultConfigPaths {
			if _, err := os.Stat(p); err == nil {
				cfgPath = p
				break
			}
		}
	}

	if cfgPath != "" {
		data, err := os.ReadFile(cfgPath)
		if err != nil {
			return fmt.Errorf("reading config %s: %w", cfgPath, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing config %s: %w", cfgPath, err)
		}
		fmt.Printf("Loaded config from %s\n", cfgPath)
	}

	// CLI flags override config (only if explicitly set)
	if len(serverURLs) > 0 {
		cfg.Coordinator.URLs = serverURLs
	}
	if agentID != "" {
		cfg.Agent.ID = agentID
	}
	if cmd.Flags().Changed("slots") {
		cfg.Agent.Slots = slots
	}
	if solverCmd != "" {
		cfg.Solver.Command = solverCmd
	}
	if workDir != "" {
		cfg.Storage.WorkDir = workDir
	}

	// Defaults
	if cfg.Agent.Slots == 0 {
		cfg.Agent.Slots = 1
	}
	if cfg.Agent.ID == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			cfg.Agent.ID = "agent-" + uuid.NewString()[:8]
		} else {
			cfg.Agent.ID = hostname
		}
	}
	if cfg.Storage.WorkDir == "" {
		cfg.Storage.WorkDir = "/tmp/sweep-agent/points"
	}

	if err := checkSolver(cfg.Solver.Command, cfg.Solver.MPIRun); err != nil {
		return err
	}

	agent, err := pool.NewAgent(pool.AgentConfig{
		Endpoints: cfg.Coordinator.URLs,
		AgentID:   cfg.Agent.ID,
		Host:      cfg.Agent.Host,
		SolverCmd: cfg.Solver.Command,
		MPIRun:    cfg.Solver.MPIRun,
		WorkDir:   cfg.Storage.WorkDir,
		Slots:     cfg.Agent.Slots,
	})
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		agent.Stop()
	}()

	fmt.Printf("Starting agent %s with %d slots, coordinators: %s\n",
		cfg.Agent.ID, cfg.Agent.Slots, strings.Join(cfg.Coordinator.URLs, ", "))

	// Run with automatic reconnection (blocks until stopped)
	return agent.Run()
}

// checkSolver verifies the solver, and mpirun when configured, can be
// found before accepting work.
func checkSolver(solver, mpirun string) error {
	if solver == "" {
		return fmt.Errorf("no solver command: set --solver or solver.command in the config")
	}
	bin := strings.Fields(solver)[0]
	if strings.ContainsRune(bin, os.PathSeparator) {
		if _, err := os.Stat(bin); err != nil {
			return fmt.Errorf("solver %s not found: %w", bin, err)
		}
	} else if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("solver %s not found in PATH", bin)
	}
	if mpirun != "" {
		if _, err := exec.LookPath(mpirun); err != nil {
			return fmt.Errorf("mpirun command %s not found in PATH", mpirun)
		}
	}
	return nil
}
