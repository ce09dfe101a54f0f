package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/aerobench/sweep-orchestrator/internal/compare"
	"github.com/aerobench/sweep-orchestrator/internal/config"
	"github.com/aerobench/sweep-orchestrator/internal/dispatch"
	"github.com/aerobench/sweep-orchestrator/internal/domain"
	"github.com/aerobench/sweep-orchestrator/internal/history"
	"github.com/aerobench/sweep-orchestrator/internal/notify"
	"github.com/aerobench/sweep-orchestrator/internal/pool"
	"github.com/aerobench/sweep-orchestrator/internal/report"
	"github.com/aerobench/sweep-orchestrator/internal/resolver"
	"github.com/aerobench/sweep-orchestrator/internal/resultstore"
	"github.com/aerobench/sweep-orchestrator/internal/sweep"
	"github.com/aerobench/sweep-orchestrator/internal/templates"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	runOut         string
	runMode        string
	runWorkers     int
	runTimeoutMin  int
	runRetryFailed bool
	runNotify      bool

	historyLimit  int
	historyStatus string
	historyOut    string

	compareRef string
	compareTol float64
	compareCSV bool

	reportTemplates string
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run CONFIG",
		Short: "Execute a sweep",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runOut, "out", "", "override the output root")
	runCmd.Flags().StringVar(&runMode, "mode", "", "execution mode: local, hpc or pool")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "concurrent points (default from engine config)")
	runCmd.Flags().IntVar(&runTimeoutMin, "timeout", 0, "per-point timeout in minutes")
	runCmd.Flags().BoolVar(&runRetryFailed, "retry-failed", false, "re-dispatch previously failed points")
	runCmd.Flags().BoolVar(&runNotify, "notify", false, "desktop notification when the sweep finishes")
	rootCmd.AddCommand(runCmd)

	// validate command
	validateCmd := &cobra.Command{
		Use:   "validate CONFIG",
		Short: "Resolve a configuration without running it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	rootCmd.AddCommand(validateCmd)

	// list command
	listCmd := &cobra.Command{
		Use:   "list CONFIG",
		Short: "Print the expanded run point table",
		Args:  cobra.ExactArgs(1),
		RunE:  runList,
	}
	rootCmd.AddCommand(listCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status [OUT_DIR]",
		Short: "Summarize an output tree",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent invocations",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "max invocations to list")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "filter by status")
	historyCmd.Flags().StringVar(&historyOut, "out", "", "filter by output root")
	rootCmd.AddCommand(historyCmd)

	// compare command
	compareCmd := &cobra.Command{
		Use:   "compare LEVEL_DIR [LEVEL_DIR...]",
		Short: "Align level results against each other and reference data",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCompare,
	}
	compareCmd.Flags().StringVar(&compareRef, "ref", "", "reference dataset (CSV or YAML)")
	compareCmd.Flags().Float64Var(&compareTol, "tolerance", 0, "AoA match tolerance in degrees")
	compareCmd.Flags().BoolVar(&compareCSV, "csv", false, "write comparison.csv next to the first level instead of stdout")
	rootCmd.AddCommand(compareCmd)

	// report command
	reportCmd := &cobra.Command{
		Use:   "report [OUT_DIR]",
		Short: "Regenerate the markdown report from stored records",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runReport,
	}
	reportCmd.Flags().StringVar(&reportTemplates, "templates", "", "template override directory")
	rootCmd.AddCommand(reportCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadWithLocalFallback(config.DefaultConfigPath())
}

// sweepOverrides carries per-invocation settings, from run flags or a
// schedule entry, on top of the engine config.
type sweepOverrides struct {
	Out        string
	Mode       string
	Workers    int
	TimeoutMin int
	Retry      bool
	Notify     bool
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = executeSweep(ctx, cfg, args[0], sweepOverrides{
		Out:        runOut,
		Mode:       runMode,
		Workers:    runWorkers,
		TimeoutMin: runTimeoutMin,
		Retry:      runRetryFailed,
		Notify:     runNotify,
	})
	return err
}

// executeSweep is the complete run path shared by the run command and the
// batch scheduler: resolve, pick a runner for the mode, dispatch every
// point, record the invocation in the ledger.
func executeSweep(ctx context.Context, cfg *config.Config, treePath string, ov sweepOverrides) (*sweep.Result, error) {
	tree, err := resolver.Resolve(treePath)
	if err != nil {
		return nil, err
	}
	if ov.Out != "" {
		tree.OutDir = ov.Out
	}
	if ov.Mode != "" {
		tree.Mode = domain.ExecMode(ov.Mode)
	}

	workers := ov.Workers
	if workers <= 0 {
		workers = cfg.General.MaxWorkers
	}
	timeout := time.Duration(cfg.Solver.TimeoutMinutes) * time.Minute
	if ov.TimeoutMin > 0 {
		timeout = time.Duration(ov.TimeoutMin) * time.Minute
	}
	solverCmd := tree.SolverCmd
	if solverCmd == "" {
		solverCmd = cfg.Solver.Command
	}
	if solverCmd == "" {
		return nil, fmt.Errorf("no solver command: set solver in %s or solver.command in the engine config", treePath)
	}
	procs := tree.Procs
	if procs <= 0 {
		procs = cfg.Solver.DefaultProcs
	}

	var runner dispatch.Runner
	switch tree.Mode {
	case domain.ModeLocal:
		runner = dispatch.NewLocalRunner()
	case domain.ModeHPC:
		runner = dispatch.NewSlurmRunner(tree.Cluster, cfg.HPC.SubmitCmd, cfg.HPC.QueryCmd,
			time.Duration(cfg.HPC.PollSeconds)*time.Second)
	case domain.ModePool:
		coord := pool.NewCoordinator(pool.CoordinatorConfig{
			Port:    cfg.Pool.Port,
			Procs:   procs,
			Timeout: timeout,
		})
		go func() {
			if err := coord.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "pool coordinator: %v\n", err)
			}
		}()
		defer coord.Stop()
		fmt.Printf("Pool coordinator on :%d, points queue until agents connect\n", cfg.Pool.Port)
		runner = coord
	default:
		return nil, fmt.Errorf("unknown execution mode %q", tree.Mode)
	}

	disp := dispatch.New(runner, dispatch.Options{
		SolverCmd: solverCmd,
		MPIRun:    cfg.Solver.MPIRun,
		Procs:     procs,
		Timeout:   timeout,
	})

	// The ledger is best-effort. A sweep never fails because sqlite is
	// unavailable.
	var hist *history.Store
	var rec *history.Recorder
	if hs, err := history.New(config.ExpandPath(cfg.General.DatabasePath)); err != nil {
		fmt.Fprintf(os.Stderr, "warning: invocation ledger unavailable: %v\n", err)
	} else {
		hist = hs
		defer hist.Close()
		rec = history.NewRecorder(hist)
		defer rec.Stop()
	}

	absPath, err := filepath.Abs(treePath)
	if err != nil {
		absPath = treePath
	}
	started := time.Now()
	inv := &domain.Invocation{
		ID:         history.NewInvocationID(),
		ConfigPath: absPath,
		OutDir:     tree.OutDir,
		Mode:       tree.Mode,
		Status:     domain.InvocationRunning,
		PID:        os.Getpid(),
		StartedAt:  &started,
		Total:      tree.PointCount(),
	}
	if rec != nil {
		rec.Save(inv)
	}

	ncfg := cfg.Notifications
	if ov.Notify {
		ncfg.Desktop = true
	}
	notifier := notify.FromConfig(ncfg)

	events := sweep.Events{
		PointFinished: func(id domain.PointID, r *domain.RunRecord, err error) {
			status := domain.PointSucceeded
			var wall float64
			if r != nil {
				wall = r.WallSeconds()
			}
			if err != nil {
				status = domain.PointFailed
				fmt.Printf("  fail %-44s %v\n", id.String(), err)
				if ncfg.PointFailures {
					diag := ""
					if r != nil {
						diag = r.Diagnostics
					}
					_ = notifier.Send(notify.PointFailed(id.String(), diag))
				}
			} else {
				fmt.Printf("  ok   %-44s CL=%8.4f CD=%8.4f  %s\n", id.String(), r.CL, r.CD, r.WallTime)
			}
			if rec != nil {
				rec.Dispatch(inv.ID, id, status, wall)
			}
		},
		PointSkipped: func(id domain.PointID, r *domain.RunRecord) {
			state := "converged"
			if r.Failed() {
				state = "failed"
			}
			fmt.Printf("  skip %-44s already %s\n", id.String(), state)
		},
	}

	prov, err := os.ReadFile(treePath)
	if err != nil {
		return nil, err
	}

	store := resultstore.New(tree.OutDir)
	orch := sweep.New(tree, store, disp, sweep.Config{
		Workers:     workers,
		RetryFailed: ov.Retry,
		Provenance:  prov,
		Events:      events,
	})

	fmt.Printf("Sweep %s: %d points, %d workers, %s mode -> %s\n",
		shortID(inv.ID), tree.PointCount(), workers, tree.Mode, tree.OutDir)

	res, runErr := orch.Run(ctx)

	finished := time.Now()
	inv.FinishedAt = &finished
	inv.Succeeded = res.Succeeded
	inv.Failed = res.Failed
	inv.Skipped = res.Skipped
	switch {
	case runErr != nil:
		inv.Status = domain.InvocationInterrupted
	case res.Failed > 0:
		inv.Status = domain.InvocationWithFailures
	default:
		inv.Status = domain.InvocationCompleted
	}
	if rec != nil {
		rec.Save(inv)
	}

	for _, warning := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}
	fmt.Printf("\n%d succeeded, %d failed, %d skipped of %d points in %s\n",
		res.Succeeded, res.Failed, res.Skipped, res.Total, res.Duration.Round(time.Second))

	if runErr != nil {
		return res, fmt.Errorf("sweep interrupted: %w", runErr)
	}
	_ = notifier.Send(notify.SweepFinished(treePath, res.Succeeded, res.Failed, res.Skipped, res.Duration))
	return res, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	tree, err := resolver.Resolve(args[0])
	if err != nil {
		return err
	}

	var cases, scenarios int
	for _, h := range tree.Hierarchies {
		cases += len(h.Cases)
		for _, c := range h.Cases {
			scenarios += len(c.Scenarios)
		}
	}

	fmt.Printf("Configuration OK: %d hierarchies, %d cases, %d scenarios, %d points\n",
		len(tree.Hierarchies), cases, scenarios, tree.PointCount())
	fmt.Printf("Mode: %s | Output: %s\n", tree.Mode, tree.OutDir)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	tree, err := resolver.Resolve(args[0])
	if err != nil {
		return err
	}

	chains := sweep.Expand(tree)
	total := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POINT\tMESH\tWARM START")
	for _, chain := range chains {
		for _, pt := range chain.Points {
			warm := "-"
			if chain.Case.WarmStart && pt.Seq > 0 {
				warm = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", pt.ID.String(), filepath.Base(chain.MeshFile), warm)
			total++
		}
	}
	w.Flush()
	fmt.Printf("\n%d points in %d chains\n", total, len(chains))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}

	store := resultstore.New(root)
	points, err := store.Scan()
	if err != nil {
		return err
	}
	if len(points) == 0 {
		fmt.Printf("No terminal points under %s\n", root)
		return nil
	}

	type counts struct{ converged, failed int }
	byScenario := make(map[string]*counts)
	var order []string
	totalOK, totalFail := 0, 0
	for _, p := range points {
		key := fmt.Sprintf("%s/%s/%s/L%d", p.ID.Hierarchy, p.ID.Case, p.ID.Scenario, p.ID.Level)
		c, ok := byScenario[key]
		if !ok {
			c = &counts{}
			byScenario[key] = c
			order = append(order, key)
		}
		if p.Record.Failed() {
			c.failed++
			totalFail++
		} else {
			c.converged++
			totalOK++
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCENARIO\tCONVERGED\tFAILED")
	for _, key := range order {
		c := byScenario[key]
		fmt.Fprintf(w, "%s\t%d\t%d\n", key, c.converged, c.failed)
	}
	w.Flush()

	fmt.Printf("\n%d points recorded: %d converged, %d failed\n", len(points), totalOK, totalFail)
	if overall, err := store.LoadOverall(); err == nil && overall != nil && overall.EndTime != "" {
		fmt.Printf("Sweep finished %s, total wall time %s\n", overall.EndTime, overall.TotalWallTime)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	hist, err := history.New(config.ExpandPath(cfg.General.DatabasePath))
	if err != nil {
		return err
	}
	defer hist.Close()

	// Invocations whose process died without finishing stay "running"
	// forever unless someone checks the PID.
	if n, err := hist.Reconcile(dispatch.ProcessRunning); err == nil && n > 0 {
		fmt.Printf("Marked %d stale invocations interrupted\n\n", n)
	}

	invs, err := hist.ListInvocations(history.ListOptions{
		OutDir: historyOut,
		Status: domain.InvocationStatus(historyStatus),
		Limit:  historyLimit,
	})
	if err != nil {
		return err
	}
	if len(invs) == 0 {
		fmt.Println("No recorded invocations")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tMODE\tSTATUS\tOK\tFAIL\tSKIP\tCONFIG")
	for _, inv := range invs {
		started := "-"
		if inv.StartedAt != nil {
			started = humanize.Time(*inv.StartedAt)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			shortID(inv.ID), started, inv.Mode, inv.Status,
			inv.Succeeded, inv.Failed, inv.Skipped, inv.ConfigPath)
	}
	w.Flush()
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runCompare(cmd *cobra.Command, args []string) error {
	req := compare.Request{
		RefPath:   compareRef,
		Tolerance: compareTol,
	}
	for _, dir := range args {
		req.Levels = append(req.Levels, compare.LevelInput{
			Label:   levelLabel(dir),
			CSVPath: filepath.Join(dir, resultstore.LevelCSVName),
		})
	}

	comparison, err := compare.Run(req)
	if err != nil {
		return err
	}

	if compareCSV {
		out := filepath.Join(args[0], "comparison.csv")
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := comparison.WriteCSV(f); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", out)
		return nil
	}
	return comparison.WriteCSV(os.Stdout)
}

// levelLabel condenses a level directory path into a readable series label,
// keeping at most case/scenario/level.
func levelLabel(dir string) string {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(dir)), "/")
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}
	return strings.Join(parts, "/")
}

func runReport(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}

	var loader *templates.Loader
	if reportTemplates != "" {
		loader = templates.NewLoader(reportTemplates)
	} else {
		loader = templates.NewLoader()
	}

	path, err := report.Write(resultstore.New(root), loader)
	if err != nil {
		return err
	}
	fmt.Printf("Report written to %s\n", path)
	return nil
}
