package domain

import (
	"fmt"
	"regexp"
	"strconv"
)

var pointIDRegex = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9_.-]*)/([A-Za-z0-9][A-Za-z0-9_.-]*)/([A-Za-z0-9][A-Za-z0-9_.-]*)/L(\d+)/aoa_(-?\d+(?:\.\d+)?)$`)

// PointID uniquely identifies an operating point as
// hierarchy/case/scenario/L<level>/aoa_<value>. The string form doubles as
// the point's output path relative to the sweep output root.
type PointID struct {
	Hierarchy string
	Case      string
	Scenario  string
	Level     int
	AoA       float64
}

// ParsePointID parses a string like "2d_clean/NACA0012/cruise/L0/aoa_5".
func ParsePointID(s string) (PointID, error) {
	matches := pointIDRegex.FindStringSubmatch(s)
	if matches == nil {
		return PointID{}, fmt.Errorf("invalid point ID format: %q (expected hierarchy/case/scenario/L#/aoa_#)", s)
	}
	level, _ := strconv.Atoi(matches[4])
	aoa, _ := strconv.ParseFloat(matches[5], 64)
	return PointID{
		Hierarchy: matches[1],
		Case:      matches[2],
		Scenario:  matches[3],
		Level:     level,
		AoA:       aoa,
	}, nil
}

// String returns the canonical string representation.
func (p PointID) String() string {
	return fmt.Sprintf("%s/%s/%s/L%d/aoa_%s", p.Hierarchy, p.Case, p.Scenario, p.Level, FormatAoA(p.AoA))
}

// FormatAoA renders an angle of attack the way path segments and record keys
// spell it: shortest decimal form, no trailing zeros ("0", "5", "2.5").
func FormatAoA(aoa float64) string {
	return strconv.FormatFloat(aoa, 'f', -1, 64)
}

// PointStatus represents the lifecycle state of an operating point
type PointStatus string

const (
	PointPending   PointStatus = "pending"
	PointRunning   PointStatus = "running"
	PointSucceeded PointStatus = "succeeded"
	PointFailed    PointStatus = "failed"
)

// Terminal reports whether the status is final. Terminal points are never
// re-dispatched within an invocation.
func (s PointStatus) Terminal() bool {
	return s == PointSucceeded || s == PointFailed
}

// RunPoint is the atomic unit of work: one solver computation at one angle
// of attack on one refinement level.
type RunPoint struct {
	ID          PointID
	Seq         int // position in the scenario's AoA list
	Case        *Case
	Scenario    *Scenario
	MeshFile    string
	OutDir      string
	RestartFrom string // output dir of the preceding converged point, for warm starts
	Status      PointStatus
}
