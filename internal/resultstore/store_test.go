package resultstore

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

func testPoint(aoa float64) domain.PointID {
	return domain.PointID{
		Hierarchy: "2d_clean",
		Case:      "NACA0012",
		Scenario:  "cruise",
		Level:     0,
		AoA:       aoa,
	}
}

func testRecord(aoa float64) *domain.RunRecord {
	return &domain.RunRecord{
		AoA:      aoa,
		CL:       0.5 + aoa/100,
		CD:       0.01,
		FailFlag: 0,
		WallTime: "10.50 sec",
		OutDir:   "unused",
	}
}

func TestLayoutPaths(t *testing.T) {
	l := Layout{Root: "out"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"point zero", l.PointDir(testPoint(0)), filepath.Join("out", "2d_clean", "NACA0012", "cruise", "L0", "aoa_0")},
		{"point five", l.PointDir(testPoint(5)), filepath.Join("out", "2d_clean", "NACA0012", "cruise", "L0", "aoa_5")},
		{"fractional", l.PointDir(testPoint(2.5)), filepath.Join("out", "2d_clean", "NACA0012", "cruise", "L0", "aoa_2.5")},
		{"negative", l.PointDir(testPoint(-3)), filepath.Join("out", "2d_clean", "NACA0012", "cruise", "L0", "aoa_-3")},
		{"record", l.RecordPath(testPoint(5)), filepath.Join("out", "2d_clean", "NACA0012", "cruise", "L0", "aoa_5", "aoa_5.yaml")},
		{"csv", l.CSVPath("2d_clean", "NACA0012", "cruise", 1), filepath.Join("out", "2d_clean", "NACA0012", "cruise", "L1", "aerodynamics.csv")},
		{"level info", l.LevelInfoPath("2d_clean", "NACA0012", "cruise", 0), filepath.Join("out", "2d_clean", "NACA0012", "cruise", "L0", "level_info.yaml")},
		{"overall", l.OverallPath(), filepath.Join("out", "overall_sim_info.yaml")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestWriteRecordLookup(t *testing.T) {
	store := New(t.TempDir())
	id := testPoint(5)

	if _, ok := store.Lookup(id); ok {
		t.Fatal("Lookup() found a record before any write")
	}

	rec := testRecord(5)
	if err := store.WriteRecord(id, rec); err != nil {
		t.Fatalf("WriteRecord() error = %v", err)
	}

	got, ok := store.Lookup(id)
	if !ok {
		t.Fatal("Lookup() did not find the written record")
	}
	if got.AoA != 5 || got.CL != rec.CL || got.WallTime != "10.50 sec" {
		t.Errorf("Lookup() = %+v, want %+v", got, rec)
	}
}

func TestLookupIgnoresMalformedRecord(t *testing.T) {
	store := New(t.TempDir())
	id := testPoint(0)

	dir, err := store.EnsurePointDir(id)
	if err != nil {
		t.Fatalf("EnsurePointDir() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "aoa_0.yaml"), []byte("{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := store.Lookup(id); ok {
		t.Error("Lookup() accepted a malformed record")
	}
}

func TestWriteRecordLeavesOthersUntouched(t *testing.T) {
	store := New(t.TempDir())

	if err := store.WriteRecord(testPoint(0), testRecord(0)); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(store.Layout().RecordPath(testPoint(0)))
	if err != nil {
		t.Fatal(err)
	}

	if err := store.WriteRecord(testPoint(5), testRecord(5)); err != nil {
		t.Fatal(err)
	}

	after, err := os.ReadFile(store.Layout().RecordPath(testPoint(0)))
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("record for aoa_0 changed after writing aoa_5")
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestAppendCSVOrderAndFailures(t *testing.T) {
	store := New(t.TempDir())

	failed := &domain.RunRecord{AoA: 5, CL: math.NaN(), CD: math.NaN(), FailFlag: 1, WallTime: "3.00 sec"}
	for _, step := range []struct {
		id  domain.PointID
		rec *domain.RunRecord
	}{
		{testPoint(0), testRecord(0)},
		{testPoint(5), failed},
		{testPoint(10), testRecord(10)},
	} {
		if err := store.AppendCSV(step.id, step.rec); err != nil {
			t.Fatalf("AppendCSV(%v) error = %v", step.id.AoA, err)
		}
	}

	rows := readCSV(t, store.Layout().CSVPath("2d_clean", "NACA0012", "cruise", 0))
	if len(rows) != 4 {
		t.Fatalf("csv has %d rows, want 4", len(rows))
	}
	if got, want := strings.Join(rows[0], ","), "Alpha,CL,CD,FFlag,WTime"; got != want {
		t.Errorf("header = %q, want %q", got, want)
	}
	for i, wantAlpha := range []string{"0", "5", "10"} {
		if rows[i+1][0] != wantAlpha {
			t.Errorf("row %d Alpha = %q, want %q", i, rows[i+1][0], wantAlpha)
		}
	}
	if rows[2][1] != "NaN" || rows[2][3] != "1" {
		t.Errorf("failed row = %v, want NaN coefficients and FFlag 1", rows[2])
	}
	if rows[1][4] != "10.50" {
		t.Errorf("WTime = %q, want %q", rows[1][4], "10.50")
	}
}

func TestAppendCSVIdempotent(t *testing.T) {
	root := t.TempDir()
	store := New(root)

	if err := store.AppendCSV(testPoint(0), testRecord(0)); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendCSV(testPoint(0), testRecord(0)); err != nil {
		t.Fatal(err)
	}

	// A fresh store against the same root must see the existing row.
	resumed := New(root)
	if err := resumed.AppendCSV(testPoint(0), testRecord(0)); err != nil {
		t.Fatal(err)
	}
	if err := resumed.AppendCSV(testPoint(5), testRecord(5)); err != nil {
		t.Fatal(err)
	}

	rows := readCSV(t, store.Layout().CSVPath("2d_clean", "NACA0012", "cruise", 0))
	if len(rows) != 3 {
		t.Fatalf("csv has %d rows, want header plus 2", len(rows))
	}
	if rows[1][0] != "0" || rows[2][0] != "5" {
		t.Errorf("rows = %v, want alphas 0 then 5", rows[1:])
	}
}

func TestWriteLevelSummary(t *testing.T) {
	store := New(t.TempDir())

	recs := []domain.RunRecord{
		*testRecord(0),
		{AoA: 5, FailFlag: 1, WallTime: "1.00 sec"},
	}
	sum, err := store.WriteLevelSummary("2d_clean", "NACA0012", "cruise", 0, recs)
	if err != nil {
		t.Fatalf("WriteLevelSummary() error = %v", err)
	}

	if len(sum.Points) != 2 {
		t.Errorf("summary has %d points, want 2", len(sum.Points))
	}
	if _, ok := sum.Points["aoa_0"]; !ok {
		t.Error("summary missing key aoa_0")
	}
	if len(sum.FailedAoA) != 1 || sum.FailedAoA[0] != 5 {
		t.Errorf("FailedAoA = %v, want [5]", sum.FailedAoA)
	}
	if _, err := os.Stat(store.Layout().LevelInfoPath("2d_clean", "NACA0012", "cruise", 0)); err != nil {
		t.Errorf("level_info.yaml not written: %v", err)
	}
}

func TestOverallAbsentUntilFinalized(t *testing.T) {
	store := New(t.TempDir())

	if err := store.WriteRecord(testPoint(0), testRecord(0)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(store.Layout().OverallPath()); !os.IsNotExist(err) {
		t.Fatalf("overall summary exists before finalize: %v", err)
	}

	sum := &domain.OverallSummary{
		StartTime: "2026-01-02 15:04:05",
		EndTime:   "2026-01-02 15:14:05",
		Hierarchies: map[string]map[string]domain.CaseSummary{
			"2d_clean": {"NACA0012": {Scenarios: map[string]domain.ScenarioSummary{}}},
		},
	}
	if err := store.FinalizeOverall(sum); err != nil {
		t.Fatalf("FinalizeOverall() error = %v", err)
	}
	if _, err := os.Stat(store.Layout().OverallPath()); err != nil {
		t.Errorf("overall summary missing after finalize: %v", err)
	}
}

func TestFinalizeOverallMergesPriorInvocations(t *testing.T) {
	store := New(t.TempDir())

	first := &domain.OverallSummary{
		StartTime: "2026-01-01 08:00:00",
		EndTime:   "2026-01-01 09:00:00",
		Hierarchies: map[string]map[string]domain.CaseSummary{
			"2d_clean": {
				"NACA0012": {Scenarios: map[string]domain.ScenarioSummary{
					"cruise": {Levels: map[string]domain.LevelSummary{"L0": {OutDir: "a"}}},
				}},
			},
		},
	}
	if err := store.FinalizeOverall(first); err != nil {
		t.Fatal(err)
	}

	second := &domain.OverallSummary{
		StartTime: "2026-01-02 08:00:00",
		EndTime:   "2026-01-02 09:00:00",
		Hierarchies: map[string]map[string]domain.CaseSummary{
			"2d_clean": {
				"NACA0012": {Scenarios: map[string]domain.ScenarioSummary{
					"cruise": {Levels: map[string]domain.LevelSummary{"L1": {OutDir: "b"}}},
				}},
			},
			"3d_wing": {
				"CRM": {Scenarios: map[string]domain.ScenarioSummary{}},
			},
		},
	}
	if err := store.FinalizeOverall(second); err != nil {
		t.Fatal(err)
	}

	merged, err := store.LoadOverall()
	if err != nil {
		t.Fatalf("LoadOverall() error = %v", err)
	}
	if merged.StartTime != "2026-01-02 08:00:00" {
		t.Errorf("StartTime = %q, want the later invocation's", merged.StartTime)
	}
	if _, ok := merged.Hierarchies["3d_wing"]; !ok {
		t.Error("merged summary missing hierarchy 3d_wing")
	}
	levels := merged.Hierarchies["2d_clean"]["NACA0012"].Scenarios["cruise"].Levels
	if len(levels) != 2 {
		t.Fatalf("merged scenario has %d levels, want 2", len(levels))
	}
	if levels["L0"].OutDir != "a" || levels["L1"].OutDir != "b" {
		t.Errorf("levels = %+v, want L0 from first run and L1 from second", levels)
	}
}

func TestScan(t *testing.T) {
	store := New(t.TempDir())

	for _, aoa := range []float64{5, 0} {
		if err := store.WriteRecord(testPoint(aoa), testRecord(aoa)); err != nil {
			t.Fatal(err)
		}
	}
	// Solver artifacts inside a point dir must not confuse the walk.
	dir, _ := store.EnsurePointDir(testPoint(0))
	if err := os.MkdirAll(filepath.Join(dir, "solver_scratch"), 0o755); err != nil {
		t.Fatal(err)
	}

	points, err := store.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("Scan() found %d points, want 2", len(points))
	}
	if points[0].ID.AoA != 0 || points[1].ID.AoA != 5 {
		t.Errorf("Scan() order = [%v %v], want sorted by ID", points[0].ID, points[1].ID)
	}
}

func TestScanMissingRoot(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "never_created"))
	points, err := store.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(points) != 0 {
		t.Errorf("Scan() = %d points, want none", len(points))
	}
}

func TestProvenanceAndSnapshots(t *testing.T) {
	store := New(t.TempDir())

	raw := []byte("out_dir: /tmp/x\n")
	if err := store.WriteProvenance(raw); err != nil {
		t.Fatalf("WriteProvenance() error = %v", err)
	}
	got, err := os.ReadFile(store.Layout().ProvenancePath())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(raw) {
		t.Errorf("provenance = %q, want verbatim input %q", got, raw)
	}

	c := &domain.Case{Name: "NACA0012", Kind: domain.KindAero, MeshFiles: []string{"m0.cgns"}, RefChord: 1, RefArea: 1}
	if err := store.WriteCaseInfo("2d_clean", c); err != nil {
		t.Fatalf("WriteCaseInfo() error = %v", err)
	}
	sc := &domain.Scenario{Name: "cruise", AoAList: []float64{0, 5}, Reynolds: 5e6, Mach: 0.2, Temperature: 288.15}
	if err := store.WriteScenarioInfo("2d_clean", "NACA0012", sc); err != nil {
		t.Fatalf("WriteScenarioInfo() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(store.Layout().CaseDir("2d_clean", "NACA0012"), CaseInfoFileName)); err != nil {
		t.Errorf("case_info.yaml not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Layout().ScenarioDir("2d_clean", "NACA0012", "cruise"), ScenarioInfoName)); err != nil {
		t.Errorf("scenario_info.yaml not written: %v", err)
	}
}
