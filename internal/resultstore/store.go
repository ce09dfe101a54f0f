// Package resultstore persists sweep results under a fixed directory scheme.
//
// Every operating point owns one directory derived purely from its identity
// (hierarchy/case/scenario/L<level>/aoa_<value>), holding the solver's raw
// artifacts plus one YAML record written when the point reaches a terminal
// state. Records are the source of truth: the per-level CSV and the summary
// files are derived from them, and a later invocation decides what to skip
// by looking records up, never by consulting a database.
package resultstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

// PersistenceError describes a failed write of a derived artifact. Callers
// treat these as warnings: the sweep continues, the error is reported at the
// end.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Store owns all writes beneath a single output root.
type Store struct {
	layout Layout

	mu     sync.Mutex
	levels map[string]*levelCSV
}

func New(root string) *Store {
	return &Store{
		layout: Layout{Root: root},
		levels: make(map[string]*levelCSV),
	}
}

func (s *Store) Layout() Layout {
	return s.layout
}

// EnsurePointDir creates the point's directory and returns its path.
func (s *Store) EnsurePointDir(id domain.PointID) (string, error) {
	dir := s.layout.PointDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &PersistenceError{Path: dir, Err: err}
	}
	return dir, nil
}

// Lookup reports whether a terminal record already exists for the point.
// Unreadable or malformed records count as absent so the point runs again.
func (s *Store) Lookup(id domain.PointID) (*domain.RunRecord, bool) {
	data, err := os.ReadFile(s.layout.RecordPath(id))
	if err != nil {
		return nil, false
	}
	var rec domain.RunRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

// WriteRecord persists the terminal record for a point. The record write is
// the commit point: once it exists the point is skipped by later invocations.
func (s *Store) WriteRecord(id domain.PointID, rec *domain.RunRecord) error {
	if _, err := s.EnsurePointDir(id); err != nil {
		return err
	}
	path := s.layout.RecordPath(id)
	data, err := yaml.Marshal(rec)
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	return nil
}

// WriteProvenance stores a verbatim copy of the input configuration at the
// root so a finished tree documents what produced it.
func (s *Store) WriteProvenance(raw []byte) error {
	if err := os.MkdirAll(s.layout.Root, 0o755); err != nil {
		return &PersistenceError{Path: s.layout.Root, Err: err}
	}
	path := s.layout.ProvenancePath()
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	return nil
}

type caseInfo struct {
	Name      string   `yaml:"name"`
	Problem   string   `yaml:"problem"`
	MeshFiles []string `yaml:"mesh_files"`
	ChordRef  float64  `yaml:"chordRef"`
	AreaRef   float64  `yaml:"areaRef"`
}

// WriteCaseInfo snapshots the case definition into its directory.
func (s *Store) WriteCaseInfo(hierarchy string, c *domain.Case) error {
	dir := s.layout.CaseDir(hierarchy, c.Name)
	info := caseInfo{
		Name:      c.Name,
		Problem:   string(c.Kind),
		MeshFiles: c.MeshFiles,
		ChordRef:  c.RefChord,
		AreaRef:   c.RefArea,
	}
	return s.writeYAML(filepath.Join(dir, CaseInfoFileName), &info)
}

type scenarioInfo struct {
	Name        string    `yaml:"name"`
	AoAList     []float64 `yaml:"aoa_list"`
	Reynolds    float64   `yaml:"Re"`
	Mach        float64   `yaml:"mach"`
	Temperature float64   `yaml:"Temp"`
}

// WriteScenarioInfo snapshots the scenario definition into its directory.
func (s *Store) WriteScenarioInfo(hierarchy, caseName string, sc *domain.Scenario) error {
	dir := s.layout.ScenarioDir(hierarchy, caseName, sc.Name)
	info := scenarioInfo{
		Name:        sc.Name,
		AoAList:     sc.AoAList,
		Reynolds:    sc.Reynolds,
		Mach:        sc.Mach,
		Temperature: sc.Temperature,
	}
	return s.writeYAML(filepath.Join(dir, ScenarioInfoName), &info)
}

func (s *Store) writeYAML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	return nil
}

// ScannedPoint pairs a point identity found on disk with its record.
type ScannedPoint struct {
	ID     domain.PointID
	Record domain.RunRecord
}

// Scan walks the output tree and returns every readable terminal record,
// sorted by point ID string. Status reporting works from this view alone,
// without the configuration that produced the tree.
func (s *Store) Scan() ([]ScannedPoint, error) {
	var points []ScannedPoint
	root := s.layout.Root
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root && os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		id, parseErr := domain.ParsePointID(filepath.ToSlash(rel))
		if parseErr != nil {
			return nil
		}
		if rec, ok := s.Lookup(id); ok {
			points = append(points, ScannedPoint{ID: id, Record: *rec})
		}
		return filepath.SkipDir
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].ID.String() < points[j].ID.String()
	})
	return points, nil
}

// ReadLevelRecords loads the records of one refinement level in the order of
// the given AoA list, skipping points that never reached a terminal state.
func (s *Store) ReadLevelRecords(hierarchy, caseName, scenario string, level int, aoaList []float64) []domain.RunRecord {
	var recs []domain.RunRecord
	for _, aoa := range aoaList {
		id := domain.PointID{
			Hierarchy: hierarchy,
			Case:      caseName,
			Scenario:  scenario,
			Level:     level,
			AoA:       aoa,
		}
		if rec, ok := s.Lookup(id); ok {
			recs = append(recs, *rec)
		}
	}
	return recs
}

func levelKey(hierarchy, caseName, scenario string, level int) string {
	return strings.Join([]string{hierarchy, caseName, scenario, fmt.Sprintf("L%d", level)}, "/")
}
