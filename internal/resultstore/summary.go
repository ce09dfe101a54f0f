package resultstore

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

// WriteLevelSummary builds the summary of one refinement level from its
// terminal records and persists it as level_info.yaml. Records must be in
// AoA-list order.
func (s *Store) WriteLevelSummary(hierarchy, caseName, scenario string, level int, recs []domain.RunRecord) (domain.LevelSummary, error) {
	sum := domain.LevelSummary{
		OutDir:  s.layout.LevelDir(hierarchy, caseName, scenario, level),
		CSVFile: s.layout.CSVPath(hierarchy, caseName, scenario, level),
		Points:  make(map[string]domain.RunRecord, len(recs)),
	}
	for _, rec := range recs {
		sum.Points[fmt.Sprintf("aoa_%s", domain.FormatAoA(rec.AoA))] = rec
		if rec.Failed() {
			sum.FailedAoA = append(sum.FailedAoA, rec.AoA)
		}
	}
	path := s.layout.LevelInfoPath(hierarchy, caseName, scenario, level)
	if err := s.writeYAML(path, &sum); err != nil {
		return sum, err
	}
	return sum, nil
}

// LoadOverall reads the overall summary from a previous invocation. A
// missing file yields nil without error.
func (s *Store) LoadOverall() (*domain.OverallSummary, error) {
	data, err := os.ReadFile(s.layout.OverallPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Path: s.layout.OverallPath(), Err: err}
	}
	var sum domain.OverallSummary
	if err := yaml.Unmarshal(data, &sum); err != nil {
		return nil, &PersistenceError{Path: s.layout.OverallPath(), Err: err}
	}
	return &sum, nil
}

// FinalizeOverall writes overall_sim_info.yaml once every point of the
// invocation is terminal. Results from earlier invocations against the same
// root are merged in, so partial sweeps accumulate instead of clobbering
// each other.
func (s *Store) FinalizeOverall(sum *domain.OverallSummary) error {
	prev, err := s.LoadOverall()
	if err != nil {
		return err
	}
	merged := mergeOverall(prev, sum)
	return s.writeYAML(s.layout.OverallPath(), merged)
}

// mergeOverall overlays next onto prev. Timestamps come from the current
// invocation; hierarchy entries merge down to the refinement level, where
// next wins.
func mergeOverall(prev, next *domain.OverallSummary) *domain.OverallSummary {
	if prev == nil {
		return next
	}
	out := domain.OverallSummary{
		StartTime:     next.StartTime,
		EndTime:       next.EndTime,
		TotalWallTime: next.TotalWallTime,
		Hierarchies:   make(map[string]map[string]domain.CaseSummary),
	}
	for name, cases := range prev.Hierarchies {
		out.Hierarchies[name] = copyCases(cases)
	}
	for name, cases := range next.Hierarchies {
		dst, ok := out.Hierarchies[name]
		if !ok {
			out.Hierarchies[name] = copyCases(cases)
			continue
		}
		for caseName, cs := range cases {
			dst[caseName] = mergeCase(dst[caseName], cs)
		}
	}
	return &out
}

func copyCases(cases map[string]domain.CaseSummary) map[string]domain.CaseSummary {
	out := make(map[string]domain.CaseSummary, len(cases))
	for name, cs := range cases {
		out[name] = cs
	}
	return out
}

func mergeCase(prev, next domain.CaseSummary) domain.CaseSummary {
	if prev.Scenarios == nil {
		return next
	}
	out := domain.CaseSummary{Scenarios: make(map[string]domain.ScenarioSummary, len(prev.Scenarios))}
	for name, sc := range prev.Scenarios {
		out.Scenarios[name] = sc
	}
	for name, sc := range next.Scenarios {
		out.Scenarios[name] = mergeScenario(out.Scenarios[name], sc)
	}
	return out
}

func mergeScenario(prev, next domain.ScenarioSummary) domain.ScenarioSummary {
	if prev.Levels == nil {
		return next
	}
	out := domain.ScenarioSummary{Levels: make(map[string]domain.LevelSummary, len(prev.Levels))}
	for name, lv := range prev.Levels {
		out.Levels[name] = lv
	}
	for name, lv := range next.Levels {
		out.Levels[name] = lv
	}
	return out
}
