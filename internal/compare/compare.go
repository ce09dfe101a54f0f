// Package compare aligns computed sweep results with reference datasets.
//
// Alignment is simulation-centric: every computed point appears exactly
// once, matched to the nearest reference angle within a tolerance or
// flagged as simulation-only. Rendering is out of scope; the output is the
// aligned tuple set and a flat CSV of it.
package compare

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

// DefaultTolerance is the maximum angle distance, in degrees, at which a
// computed point and a reference point are considered the same condition.
const DefaultTolerance = 0.5

// SimPoint is one computed row of a level CSV.
type SimPoint struct {
	AoA    float64
	CL     float64
	CD     float64
	Failed bool
}

// RefPoint is one row of a reference dataset.
type RefPoint struct {
	AoA float64
	CL  float64
	CD  float64
}

// Pair is one aligned row.
type Pair struct {
	Sim     SimPoint
	Ref     RefPoint
	HasRef  bool
	DeltaCL float64
	DeltaCD float64
}

// Series is the aligned result of one refinement level.
type Series struct {
	Label string
	Pairs []Pair
}

// LevelInput names one level CSV for a comparison request.
type LevelInput struct {
	Label   string
	CSVPath string
}

// Request describes one comparison: any number of levels, possibly from
// different cases, against at most one reference dataset.
type Request struct {
	Levels    []LevelInput
	RefPath   string  // optional
	Tolerance float64 // 0 means DefaultTolerance
}

// Comparison is the aligned output of a request.
type Comparison struct {
	Series    []Series
	Reference []RefPoint
}

// Run loads every input and aligns each level against the reference.
func Run(req Request) (*Comparison, error) {
	tol := req.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}

	var ref []RefPoint
	if req.RefPath != "" {
		var err error
		ref, err = LoadReference(req.RefPath)
		if err != nil {
			return nil, fmt.Errorf("reference data: %w", err)
		}
	}

	cmp := &Comparison{Reference: ref}
	for _, in := range req.Levels {
		sim, err := LoadLevelCSV(in.CSVPath)
		if err != nil {
			return nil, fmt.Errorf("level %s: %w", in.Label, err)
		}
		cmp.Series = append(cmp.Series, Series{
			Label: in.Label,
			Pairs: Align(sim, ref, tol),
		})
	}
	return cmp, nil
}

// Align matches each computed point to the nearest reference angle within
// tol. Failed points stay simulation-only; their coefficients are not
// comparable.
func Align(sim []SimPoint, ref []RefPoint, tol float64) []Pair {
	sorted := make([]RefPoint, len(ref))
	copy(sorted, ref)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AoA < sorted[j].AoA })

	pairs := make([]Pair, 0, len(sim))
	for _, s := range sim {
		p := Pair{Sim: s}
		if !s.Failed {
			if r, ok := nearest(sorted, s.AoA, tol); ok {
				p.Ref = r
				p.HasRef = true
				p.DeltaCL = s.CL - r.CL
				p.DeltaCD = s.CD - r.CD
			}
		}
		pairs = append(pairs, p)
	}
	return pairs
}

// nearest finds the reference point closest to aoa, requiring the distance
// to be within tol. Ties prefer the lower angle.
func nearest(sorted []RefPoint, aoa, tol float64) (RefPoint, bool) {
	if len(sorted) == 0 {
		return RefPoint{}, false
	}
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i].AoA >= aoa })
	best := -1
	for _, cand := range []int{i - 1, i} {
		if cand < 0 || cand >= len(sorted) {
			continue
		}
		if best == -1 || math.Abs(sorted[cand].AoA-aoa) < math.Abs(sorted[best].AoA-aoa) {
			best = cand
		}
	}
	if best == -1 || math.Abs(sorted[best].AoA-aoa) > tol {
		return RefPoint{}, false
	}
	return sorted[best], true
}

// LoadLevelCSV reads a per-level results table (Alpha,CL,CD,FFlag,WTime).
func LoadLevelCSV(path string) ([]SimPoint, error) {
	rows, header, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	alpha, ok := header["alpha"]
	if !ok {
		return nil, fmt.Errorf("%s: no Alpha column", path)
	}
	clCol, cdCol := header["cl"], header["cd"]
	flagCol, hasFlag := header["fflag"]

	var points []SimPoint
	for _, row := range rows {
		p := SimPoint{
			AoA: parseFloat(row, alpha),
			CL:  parseFloat(row, clCol),
			CD:  parseFloat(row, cdCol),
		}
		if hasFlag && parseFloat(row, flagCol) != 0 {
			p.Failed = true
		}
		points = append(points, p)
	}
	return points, nil
}

// LoadReference reads an AoA-indexed lift/drag dataset. Column matching is
// case-insensitive; extra columns are ignored.
func LoadReference(path string) ([]RefPoint, error) {
	rows, header, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	alpha, ok := header["alpha"]
	if !ok {
		alpha, ok = header["aoa"]
	}
	if !ok {
		return nil, fmt.Errorf("%s: no Alpha or AOA column", path)
	}
	clCol, haveCL := header["cl"]
	cdCol, haveCD := header["cd"]
	if !haveCL && !haveCD {
		return nil, fmt.Errorf("%s: no CL or CD column", path)
	}

	var points []RefPoint
	for _, row := range rows {
		p := RefPoint{AoA: parseFloat(row, alpha)}
		if haveCL {
			p.CL = parseFloat(row, clCol)
		}
		if haveCD {
			p.CD = parseFloat(row, cdCol)
		}
		points = append(points, p)
	}
	return points, nil
}

func readCSV(path string) ([][]string, map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("%s: empty file", path)
	}
	header := make(map[string]int, len(all[0]))
	for i, name := range all[0] {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return all[1:], header, nil
}

func parseFloat(row []string, col int) float64 {
	if col < 0 || col >= len(row) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

var comparisonHeader = []string{"Series", "Alpha", "CL", "CD", "FFlag", "RefAlpha", "RefCL", "RefCD", "DeltaCL", "DeltaCD"}

// WriteCSV renders the comparison as one flat table. Cells of unmatched
// reference fields stay empty.
func (c *Comparison) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(comparisonHeader); err != nil {
		return err
	}
	for _, s := range c.Series {
		for _, p := range s.Pairs {
			flag := "0"
			if p.Sim.Failed {
				flag = "1"
			}
			row := []string{
				s.Label,
				domain.FormatAoA(p.Sim.AoA),
				fmtFloat(p.Sim.CL),
				fmtFloat(p.Sim.CD),
				flag,
				"", "", "", "", "",
			}
			if p.HasRef {
				row[5] = domain.FormatAoA(p.Ref.AoA)
				row[6] = fmtFloat(p.Ref.CL)
				row[7] = fmtFloat(p.Ref.CD)
				row[8] = fmtFloat(p.DeltaCL)
				row[9] = fmtFloat(p.DeltaCD)
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
