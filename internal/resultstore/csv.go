package resultstore

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

var csvHeader = []string{"Alpha", "CL", "CD", "FFlag", "WTime"}

// levelCSV serializes appends to one refinement level's CSV file. Rows
// already present on disk are never written twice, so a resumed sweep can
// re-append its skipped points without duplicating them.
type levelCSV struct {
	path   string
	loaded bool
	have   map[string]bool
}

// AppendCSV appends the record's row to its level CSV. The call is a no-op
// when the row is already present. Rows from one level always arrive in AoA
// order because points of a level run sequentially; concurrent levels write
// to different files.
func (s *Store) AppendCSV(id domain.PointID, rec *domain.RunRecord) error {
	lc := s.level(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !lc.loaded {
		if err := lc.load(); err != nil {
			return &PersistenceError{Path: lc.path, Err: err}
		}
	}
	alpha := domain.FormatAoA(rec.AoA)
	if lc.have[alpha] {
		return nil
	}
	if err := lc.append(recordRow(rec)); err != nil {
		return &PersistenceError{Path: lc.path, Err: err}
	}
	lc.have[alpha] = true
	return nil
}

func (s *Store) level(id domain.PointID) *levelCSV {
	key := levelKey(id.Hierarchy, id.Case, id.Scenario, id.Level)
	s.mu.Lock()
	defer s.mu.Unlock()
	lc, ok := s.levels[key]
	if !ok {
		lc = &levelCSV{
			path: s.layout.CSVPath(id.Hierarchy, id.Case, id.Scenario, id.Level),
			have: make(map[string]bool),
		}
		s.levels[key] = lc
	}
	return lc
}

func (lc *levelCSV) load() error {
	data, err := os.ReadFile(lc.path)
	if os.IsNotExist(err) {
		lc.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return err
	}
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		lc.have[row[0]] = true
	}
	lc.loaded = true
	return nil
}

func (lc *levelCSV) append(row []string) error {
	if err := os.MkdirAll(filepath.Dir(lc.path), 0o755); err != nil {
		return err
	}
	writeHeader := false
	if fi, err := os.Stat(lc.path); os.IsNotExist(err) || (err == nil && fi.Size() == 0) {
		writeHeader = true
	}
	f, err := os.OpenFile(lc.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(csvHeader); err != nil {
			return err
		}
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

// RewriteLevelCSV regenerates one level's CSV from its records. Appends
// cannot change an existing row, so this is how a retried point's outcome
// replaces its old row. Records must be in AoA-list order.
func (s *Store) RewriteLevelCSV(hierarchy, caseName, scenario string, level int, recs []domain.RunRecord) error {
	id := domain.PointID{Hierarchy: hierarchy, Case: caseName, Scenario: scenario, Level: level}
	lc := s.level(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return &PersistenceError{Path: lc.path, Err: err}
	}
	have := make(map[string]bool, len(recs))
	for i := range recs {
		if err := w.Write(recordRow(&recs[i])); err != nil {
			return &PersistenceError{Path: lc.path, Err: err}
		}
		have[domain.FormatAoA(recs[i].AoA)] = true
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return &PersistenceError{Path: lc.path, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(lc.path), 0o755); err != nil {
		return &PersistenceError{Path: lc.path, Err: err}
	}
	tmp := lc.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return &PersistenceError{Path: lc.path, Err: err}
	}
	if err := os.Rename(tmp, lc.path); err != nil {
		return &PersistenceError{Path: lc.path, Err: err}
	}
	lc.loaded = true
	lc.have = have
	return nil
}

// recordRow renders one CSV row. Failed points keep their row, with NaN
// coefficients and the failure flag set, so the CSV mirrors the sweep plan.
func recordRow(rec *domain.RunRecord) []string {
	secs := rec.WallSeconds()
	return []string{
		domain.FormatAoA(rec.AoA),
		strconv.FormatFloat(rec.CL, 'g', -1, 64),
		strconv.FormatFloat(rec.CD, 'g', -1, 64),
		strconv.Itoa(rec.FailFlag),
		fmt.Sprintf("%.2f", secs),
	}
}
