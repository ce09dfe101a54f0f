//go:build integration

package integration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aerobench/sweep-orchestrator/internal/dispatch"
	"github.com/aerobench/sweep-orchestrator/internal/domain"
	"github.com/aerobench/sweep-orchestrator/internal/report"
	"github.com/aerobench/sweep-orchestrator/internal/resolver"
	"github.com/aerobench/sweep-orchestrator/internal/resultstore"
	"github.com/aerobench/sweep-orchestrator/internal/sweep"
	"github.com/aerobench/sweep-orchestrator/internal/templates"
)

// localSweep runs the resolved tree in-process with a local runner.
func localSweep(t *testing.T, tree *domain.Tree, solverCmd string, retryFailed bool) (*sweep.Result, *resultstore.Store) {
	t.Helper()

	store := resultstore.New(tree.OutDir)
	disp := dispatch.New(dispatch.NewLocalRunner(), dispatch.Options{
		SolverCmd: solverCmd,
		Timeout:   time.Minute,
	})
	orch := sweep.New(tree, store, disp, sweep.Config{
		Workers:     2,
		RetryFailed: retryFailed,
	})

	res, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return res, store
}

// TestSweepFlow_ResolveRunScan tests the full pipeline:
// config -> resolver -> dispatch -> result store
func TestSweepFlow_ResolveRunScan(t *testing.T) {
	tmp := t.TempDir()
	meshDir := writeMeshes(t, tmp, "naca0012_L0.cgns")
	solver := writeFakeSolver(t, tmp)
	cfgPath := writeSweepConfig(t, tmp, meshDir, solver, "0, 5")

	// Step 1: Resolve the configuration
	tree, err := resolver.Resolve(cfgPath)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := tree.PointCount(); got != 2 {
		t.Errorf("PointCount() = %d, want 2", got)
	}

	// Step 2: Run every point locally
	res, store := localSweep(t, tree, tree.SolverCmd, false)
	if res.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", res.Succeeded)
	}
	if res.Failed != 0 {
		t.Errorf("Failed = %d, want 0", res.Failed)
	}

	// Step 3: Scan the tree back without the configuration
	points, err := store.Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("Scanned point count = %d, want 2", len(points))
	}

	// Sorted by ID string, so aoa_0 comes first
	if points[0].ID.AoA != 0 || points[1].ID.AoA != 5 {
		t.Errorf("Scanned AoAs = %v, %v, want 0, 5", points[0].ID.AoA, points[1].ID.AoA)
	}
	// The fake solver reports cl = 0.1<aoa>
	if points[0].Record.CL != 0.10 {
		t.Errorf("CL(aoa=0) = %v, want 0.10", points[0].Record.CL)
	}
	if points[1].Record.CL != 0.15 {
		t.Errorf("CL(aoa=5) = %v, want 0.15", points[1].Record.CL)
	}
	for _, p := range points {
		if p.Record.Failed() {
			t.Errorf("Point %s unexpectedly failed", p.ID.String())
		}
	}

	// Step 4: The overall summary marks the sweep finished
	overall, err := store.LoadOverall()
	if err != nil {
		t.Fatalf("LoadOverall failed: %v", err)
	}
	if overall == nil {
		t.Fatal("Overall summary not written")
	}
	if overall.EndTime == "" {
		t.Error("Overall summary has no end time")
	}
}

// TestSweepFlow_ResumeSkipsConverged tests that a rerun over a finished tree
// dispatches nothing
func TestSweepFlow_ResumeSkipsConverged(t *testing.T) {
	tmp := t.TempDir()
	meshDir := writeMeshes(t, tmp, "naca0012_L0.cgns")
	solver := writeFakeSolver(t, tmp)
	cfgPath := writeSweepConfig(t, tmp, meshDir, solver, "0, 5")

	tree, err := resolver.Resolve(cfgPath)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res, _ := localSweep(t, tree, tree.SolverCmd, false); res.Succeeded != 2 {
		t.Fatalf("First run succeeded = %d, want 2", res.Succeeded)
	}

	// A fresh resolve sees the same tree; prior records make every point a skip
	tree2, err := resolver.Resolve(cfgPath)
	if err != nil {
		t.Fatalf("Second resolve failed: %v", err)
	}
	res2, _ := localSweep(t, tree2, tree2.SolverCmd, false)
	if res2.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", res2.Skipped)
	}
	if res2.Succeeded != 0 || res2.Failed != 0 {
		t.Errorf("Second run dispatched points: %d succeeded, %d failed", res2.Succeeded, res2.Failed)
	}
}

// TestSweepFlow_RetryFailedPoint tests that failed records are kept on rerun
// and recomputed only with retry enabled
func TestSweepFlow_RetryFailedPoint(t *testing.T) {
	tmp := t.TempDir()
	meshDir := writeMeshes(t, tmp, "naca0012_L0.cgns")
	badSolver := writeFakeSolver(t, tmp, "12")
	cfgPath := writeSweepConfig(t, tmp, meshDir, badSolver, "5, 12")

	tree, err := resolver.Resolve(cfgPath)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	res, store := localSweep(t, tree, badSolver, false)
	if res.Succeeded != 1 || res.Failed != 1 {
		t.Fatalf("First run = %d succeeded, %d failed, want 1 and 1", res.Succeeded, res.Failed)
	}

	failedID := domain.PointID{Hierarchy: "2d_clean", Case: "NACA0012", Scenario: "cruise", Level: 0, AoA: 12}
	if rec, ok := store.Lookup(failedID); !ok || !rec.Failed() {
		t.Fatalf("Lookup(%s) = %v, %v, want a failed record", failedID.String(), rec, ok)
	}

	// Without retry the failed record is final
	tree2, _ := resolver.Resolve(cfgPath)
	res2, _ := localSweep(t, tree2, badSolver, false)
	if res2.Skipped != 2 {
		t.Errorf("Skipped without retry = %d, want 2", res2.Skipped)
	}

	// With retry only the failed point is re-dispatched, this time against a
	// solver that converges everywhere
	goodSolver := writeFakeSolver(t, t.TempDir())
	tree3, _ := resolver.Resolve(cfgPath)
	res3, store3 := localSweep(t, tree3, goodSolver, true)
	if res3.Succeeded != 1 {
		t.Errorf("Retried succeeded = %d, want 1", res3.Succeeded)
	}
	if res3.Skipped != 1 {
		t.Errorf("Retried skipped = %d, want 1", res3.Skipped)
	}

	rec, ok := store3.Lookup(failedID)
	if !ok {
		t.Fatalf("Lookup(%s) after retry found nothing", failedID.String())
	}
	if rec.Failed() {
		t.Error("Record still failed after retry")
	}
	if rec.CL != 0.112 {
		t.Errorf("CL after retry = %v, want 0.112", rec.CL)
	}
}

// TestSweepFlow_ReportFromStore tests report generation over a swept tree
func TestSweepFlow_ReportFromStore(t *testing.T) {
	tmp := t.TempDir()
	meshDir := writeMeshes(t, tmp, "naca0012_L0.cgns")
	solver := writeFakeSolver(t, tmp)
	cfgPath := writeSweepConfig(t, tmp, meshDir, solver, "0, 5")

	tree, err := resolver.Resolve(cfgPath)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	_, store := localSweep(t, tree, tree.SolverCmd, false)

	path, err := report.Write(store, templates.NewLoader())
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	content := readFile(t, path)
	if !strings.Contains(content, "# Sweep Report") {
		t.Error("Report missing title")
	}
	if !strings.Contains(content, "2d_clean / NACA0012 / cruise / L0") {
		t.Error("Report missing level section")
	}
	if !strings.Contains(content, "0.1500") {
		t.Errorf("Report missing CL value, got:\n%s", content)
	}
	if !strings.Contains(content, "converged") {
		t.Error("Report missing point status")
	}
}
