package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RunRecord is the persisted outcome of one operating point.
type RunRecord struct {
	AoA         float64 `yaml:"AOA"`
	CL          float64 `yaml:"cl"`
	CD          float64 `yaml:"cd"`
	FailFlag    int     `yaml:"fail_flag"`
	WallTime    string  `yaml:"wall_time"`
	OutDir      string  `yaml:"out_dir"`
	Diagnostics string  `yaml:"diagnostics,omitempty"`
}

// Failed reports whether the point ended in failure.
func (r *RunRecord) Failed() bool {
	return r.FailFlag != 0
}

// WallSeconds parses the wall-time field back into seconds. Returns 0 for a
// missing or malformed field.
func (r *RunRecord) WallSeconds() float64 {
	s := strings.TrimSuffix(r.WallTime, " sec")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// FormatWallTime renders a duration in the record wall-time format.
func FormatWallTime(d time.Duration) string {
	return fmt.Sprintf("%.2f sec", d.Seconds())
}

// LevelSummary aggregates one refinement level's records.
type LevelSummary struct {
	OutDir    string               `yaml:"out_dir"`
	CSVFile   string               `yaml:"csv_file"`
	FailedAoA []float64            `yaml:"failed_aoa"`
	Points    map[string]RunRecord `yaml:"points"` // keyed aoa_<value>
}

// ScenarioSummary nests level summaries keyed L<index>.
type ScenarioSummary struct {
	Levels map[string]LevelSummary `yaml:"levels"`
}

// CaseSummary nests scenario summaries by name.
type CaseSummary struct {
	Scenarios map[string]ScenarioSummary `yaml:"scenarios"`
}

// OverallSummary is the invocation-wide record written at the output root.
// EndTime and TotalWallTime are set only once every point is terminal.
type OverallSummary struct {
	StartTime     string                            `yaml:"start_time"`
	EndTime       string                            `yaml:"end_time,omitempty"`
	TotalWallTime string                            `yaml:"total_wall_time,omitempty"`
	Hierarchies   map[string]map[string]CaseSummary `yaml:"hierarchies,omitempty"`
}

// InvocationStatus represents the outcome of one engine invocation
type InvocationStatus string

const (
	InvocationRunning      InvocationStatus = "running"
	InvocationCompleted    InvocationStatus = "completed"
	InvocationWithFailures InvocationStatus = "completed_with_failures"
	InvocationInterrupted  InvocationStatus = "interrupted"
)

// Invocation records one run of the engine in the history ledger. PID is the
// engine process that owns the invocation while it is running, so a later
// status query can tell an interrupted run from a live one.
type Invocation struct {
	ID         string
	ConfigPath string
	OutDir     string
	Mode       ExecMode
	Status     InvocationStatus
	PID        int
	StartedAt  *time.Time
	FinishedAt *time.Time
	Total      int
	Succeeded  int
	Failed     int
	Skipped    int
}

// PointDispatch records one dispatched point within an invocation.
type PointDispatch struct {
	ID           int
	InvocationID string
	PointID      string
	Status       PointStatus
	WallSeconds  float64
	FinishedAt   *time.Time
}
