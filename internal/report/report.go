// Package report regenerates the markdown sweep report from the records
// on disk. The report is derived output and is rewritten whole; the YAML
// records stay the source of truth.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
	"github.com/aerobench/sweep-orchestrator/internal/resultstore"
	"github.com/aerobench/sweep-orchestrator/internal/templates"
)

// FileName is the report written at the output root.
const FileName = "SWEEP_REPORT.md"

const timeLayout = "2006-01-02 15:04:05"

// Data feeds the report template.
type Data struct {
	GeneratedAt string
	Root        string
	Total       int
	Succeeded   int
	Failed      int
	Scenarios   []Section
	Warnings    []string
}

// Section is the table for one refinement level.
type Section struct {
	Title string
	Rows  []Row
}

// Row is one operating-point line.
type Row struct {
	Alpha    string
	CL       string
	CD       string
	Status   string
	WallTime string
}

// Build collects every terminal record under the store's root into report
// data. Levels become sections in path order; rows are in AoA order.
func Build(store *resultstore.Store) (*Data, error) {
	points, err := store.Scan()
	if err != nil {
		return nil, err
	}

	data := &Data{
		GeneratedAt: time.Now().Format(timeLayout),
		Root:        store.Layout().Root,
	}

	groups := make(map[string][]resultstore.ScannedPoint)
	var titles []string
	for _, p := range points {
		title := sectionTitle(p.ID)
		if _, seen := groups[title]; !seen {
			titles = append(titles, title)
		}
		groups[title] = append(groups[title], p)

		data.Total++
		if p.Record.Failed() {
			data.Failed++
			if p.Record.Diagnostics != "" {
				data.Warnings = append(data.Warnings,
					fmt.Sprintf("%s failed, diagnostics at %s", p.ID.String(), p.Record.Diagnostics))
			}
		} else {
			data.Succeeded++
		}
	}

	sort.Strings(titles)
	for _, title := range titles {
		group := groups[title]
		sort.Slice(group, func(i, j int) bool { return group[i].ID.AoA < group[j].ID.AoA })

		sec := Section{Title: title}
		for _, p := range group {
			sec.Rows = append(sec.Rows, recordRow(p))
		}
		data.Scenarios = append(data.Scenarios, sec)
	}

	overall, err := store.LoadOverall()
	if err != nil {
		data.Warnings = append(data.Warnings, err.Error())
	} else if overall == nil && data.Total > 0 {
		data.Warnings = append(data.Warnings, "overall summary not written, sweep incomplete or interrupted")
	}

	return data, nil
}

// Write renders the report at the output root and returns its path.
func Write(store *resultstore.Store, loader *templates.Loader) (string, error) {
	data, err := Build(store)
	if err != nil {
		return "", err
	}

	out, err := loader.Execute("report/summary.md.tmpl", data)
	if err != nil {
		return "", err
	}

	path := filepath.Join(store.Layout().Root, FileName)
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func sectionTitle(id domain.PointID) string {
	return fmt.Sprintf("%s / %s / %s / L%d", id.Hierarchy, id.Case, id.Scenario, id.Level)
}

func recordRow(p resultstore.ScannedPoint) Row {
	row := Row{
		Alpha:    domain.FormatAoA(p.ID.AoA),
		Status:   "converged",
		WallTime: p.Record.WallTime,
	}
	if p.Record.Failed() {
		row.Status = "failed"
		row.CL, row.CD = "-", "-"
		return row
	}
	row.CL = fmt.Sprintf("%.4f", p.Record.CL)
	row.CD = fmt.Sprintf("%.4f", p.Record.CD)
	return row
}
