package resultstore

import (
	"fmt"
	"path/filepath"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

// Names of the files the store writes. Everything else inside a point
// directory belongs to the solver.
const (
	OverallFileName    = "overall_sim_info.yaml"
	ProvenanceFileName = "input_file.yaml"
	CaseInfoFileName   = "case_info.yaml"
	ScenarioInfoName   = "scenario_info.yaml"
	LevelInfoFileName  = "level_info.yaml"
	LevelCSVName       = "aerodynamics.csv"
)

// Layout computes every output path as a pure function of identity. No two
// points map to the same directory and the mapping is stable across runs,
// which is what makes resumption by inspection possible.
type Layout struct {
	Root string
}

func (l Layout) HierarchyDir(hierarchy string) string {
	return filepath.Join(l.Root, hierarchy)
}

func (l Layout) CaseDir(hierarchy, caseName string) string {
	return filepath.Join(l.Root, hierarchy, caseName)
}

func (l Layout) ScenarioDir(hierarchy, caseName, scenario string) string {
	return filepath.Join(l.Root, hierarchy, caseName, scenario)
}

func (l Layout) LevelDir(hierarchy, caseName, scenario string, level int) string {
	return filepath.Join(l.Root, hierarchy, caseName, scenario, fmt.Sprintf("L%d", level))
}

// PointDir is Root joined with the point ID's canonical string.
func (l Layout) PointDir(id domain.PointID) string {
	return filepath.Join(l.Root, id.String())
}

// RecordPath is the per-point YAML record inside the point directory,
// named aoa_<value>.yaml.
func (l Layout) RecordPath(id domain.PointID) string {
	return filepath.Join(l.PointDir(id), fmt.Sprintf("aoa_%s.yaml", domain.FormatAoA(id.AoA)))
}

func (l Layout) CSVPath(hierarchy, caseName, scenario string, level int) string {
	return filepath.Join(l.LevelDir(hierarchy, caseName, scenario, level), LevelCSVName)
}

func (l Layout) LevelInfoPath(hierarchy, caseName, scenario string, level int) string {
	return filepath.Join(l.LevelDir(hierarchy, caseName, scenario, level), LevelInfoFileName)
}

func (l Layout) OverallPath() string {
	return filepath.Join(l.Root, OverallFileName)
}

func (l Layout) ProvenancePath() string {
	return filepath.Join(l.Root, ProvenanceFileName)
}
