package report

import (
	"os"
	"strings"
	"testing"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
	"github.com/aerobench/sweep-orchestrator/internal/resultstore"
	"github.com/aerobench/sweep-orchestrator/internal/templates"
)

func seedStore(t *testing.T) *resultstore.Store {
	t.Helper()
	store := resultstore.New(t.TempDir())

	recs := []struct {
		id  string
		rec domain.RunRecord
	}{
		{"2d_clean/NACA0012/cruise/L0/aoa_5", domain.RunRecord{AoA: 5, CL: 0.55, CD: 0.012, WallTime: "10.50 sec"}},
		{"2d_clean/NACA0012/cruise/L0/aoa_10", domain.RunRecord{AoA: 10, CL: 1.05, CD: 0.025, WallTime: "12.80 sec"}},
		{"2d_clean/NACA0012/cruise/L0/aoa_12", domain.RunRecord{AoA: 12, FailFlag: 1, WallTime: "3.10 sec", Diagnostics: "/out/aoa_12/solver.log"}},
		{"2d_clean/NACA0012/cruise/L1/aoa_5", domain.RunRecord{AoA: 5, CL: 0.54, CD: 0.013, WallTime: "5.20 sec"}},
	}
	for _, r := range recs {
		id, err := domain.ParsePointID(r.id)
		if err != nil {
			t.Fatal(err)
		}
		rec := r.rec
		if err := store.WriteRecord(id, &rec); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func TestBuild(t *testing.T) {
	store := seedStore(t)

	data, err := Build(store)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if data.Total != 4 || data.Succeeded != 3 || data.Failed != 1 {
		t.Errorf("counts = %d/%d/%d, want 4/3/1", data.Total, data.Succeeded, data.Failed)
	}

	if len(data.Scenarios) != 2 {
		t.Fatalf("sections = %d, want 2", len(data.Scenarios))
	}
	if data.Scenarios[0].Title != "2d_clean / NACA0012 / cruise / L0" {
		t.Errorf("first section = %q", data.Scenarios[0].Title)
	}

	// Rows in numeric AoA order, not lexicographic.
	l0 := data.Scenarios[0].Rows
	if len(l0) != 3 {
		t.Fatalf("L0 rows = %d, want 3", len(l0))
	}
	if l0[0].Alpha != "5" || l0[1].Alpha != "10" || l0[2].Alpha != "12" {
		t.Errorf("L0 row order = %s, %s, %s", l0[0].Alpha, l0[1].Alpha, l0[2].Alpha)
	}
	if l0[0].CL != "0.5500" || l0[0].Status != "converged" {
		t.Errorf("converged row = %+v", l0[0])
	}
	if l0[2].Status != "failed" || l0[2].CL != "-" || l0[2].CD != "-" {
		t.Errorf("failed row = %+v", l0[2])
	}

	var diagWarn, overallWarn bool
	for _, w := range data.Warnings {
		if strings.Contains(w, "solver.log") {
			diagWarn = true
		}
		if strings.Contains(w, "overall summary") {
			overallWarn = true
		}
	}
	if !diagWarn {
		t.Errorf("Warnings = %v, want failed-point diagnostics entry", data.Warnings)
	}
	if !overallWarn {
		t.Errorf("Warnings = %v, want missing-overall entry", data.Warnings)
	}

	// Once the overall summary exists the warning goes away.
	if err := store.FinalizeOverall(&domain.OverallSummary{StartTime: "2026-08-20 08:00:00"}); err != nil {
		t.Fatal(err)
	}
	data, err = Build(store)
	if err != nil {
		t.Fatal(err)
	}
	for _, w := range data.Warnings {
		if strings.Contains(w, "overall summary") {
			t.Errorf("Warnings = %v, overall entry should be gone", data.Warnings)
		}
	}
}

func TestBuildEmptyTree(t *testing.T) {
	store := resultstore.New(t.TempDir())

	data, err := Build(store)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if data.Total != 0 || len(data.Scenarios) != 0 {
		t.Errorf("empty tree data = %+v", data)
	}
	if len(data.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none for an empty tree", data.Warnings)
	}
}

func TestWrite(t *testing.T) {
	store := seedStore(t)

	path, err := Write(store, templates.NewLoader())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(content)

	if !strings.HasPrefix(text, "# Sweep Report") {
		t.Errorf("report starts with %q", text[:min(len(text), 40)])
	}
	for _, want := range []string{
		"## 2d_clean / NACA0012 / cruise / L0",
		"| 5 | 0.5500 | 0.0120 | converged | 10.50 sec |",
		"| 12 | - | - | failed | 3.10 sec |",
		"## Warnings",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if strings.Contains(text, "---\nid:") {
		t.Error("frontmatter leaked into the rendered report")
	}
}
