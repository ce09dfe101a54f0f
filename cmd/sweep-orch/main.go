package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time via -ldflags "-X main.version=vX.Y.Z".
var version = "dev"

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "sweep-orch",
		Short: "Simulation sweep orchestrator - hierarchical run management",
		Long: `Sweep Orchestrator runs hierarchical simulation sweeps against a CFD solver.
It resolves layered YAML configurations into a run tree, dispatches each
angle-of-attack point locally, through Slurm or to a pool of agents, and
aggregates the results into per-level summaries, CSV tables and reports.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "engine config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
