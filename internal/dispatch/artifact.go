package dispatch

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

// Files exchanged with the solver adapter inside a point directory. The
// orchestrator writes the invocation, the adapter writes the result.
const (
	InvocationFileName = "invocation.yaml"
	ResultFileName     = "result.yaml"
	LogFileName        = "solver.log"
)

type invocation struct {
	Point       string         `yaml:"point"`
	Case        string         `yaml:"case"`
	Problem     string         `yaml:"problem"`
	MeshFile    string         `yaml:"mesh_file"`
	Geometry    invGeometry    `yaml:"geometry"`
	Conditions  invConditions  `yaml:"conditions"`
	RestartFrom string         `yaml:"restart_from,omitempty"`
	Options     map[string]any `yaml:"options"`
	StructOpts  map[string]any `yaml:"struct_options,omitempty"`
	OutDir      string         `yaml:"out_dir"`
}

type invGeometry struct {
	ChordRef float64 `yaml:"chordRef"`
	AreaRef  float64 `yaml:"areaRef"`
}

type invConditions struct {
	AoA         float64 `yaml:"aoa"`
	Reynolds    float64 `yaml:"Re"`
	Mach        float64 `yaml:"mach"`
	Temperature float64 `yaml:"Temp"`
}

// WriteInvocation renders the solver input for one point into its directory
// and returns the file path. The mesh file is injected as gridFile so the
// adapter works from the options block alone.
func WriteInvocation(pt *domain.RunPoint) (string, error) {
	opts := make(map[string]any, len(pt.Case.SolverOptions)+1)
	for k, v := range pt.Case.SolverOptions {
		opts[k] = v
	}
	opts["gridFile"] = pt.MeshFile

	inv := invocation{
		Point:    pt.ID.String(),
		Case:     pt.Case.Name,
		Problem:  string(pt.Case.Kind),
		MeshFile: pt.MeshFile,
		Geometry: invGeometry{ChordRef: pt.Case.RefChord, AreaRef: pt.Case.RefArea},
		Conditions: invConditions{
			AoA:         pt.ID.AoA,
			Reynolds:    pt.Scenario.Reynolds,
			Mach:        pt.Scenario.Mach,
			Temperature: pt.Scenario.Temperature,
		},
		RestartFrom: pt.RestartFrom,
		Options:     opts,
		OutDir:      pt.OutDir,
	}
	if pt.Case.Kind == domain.KindAeroStructural {
		inv.StructOpts = pt.Case.StructOptions
	}

	data, err := yaml.Marshal(&inv)
	if err != nil {
		return "", err
	}
	path := filepath.Join(pt.OutDir, InvocationFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type result struct {
	CL        float64 `yaml:"cl"`
	CD        float64 `yaml:"cd"`
	Converged bool    `yaml:"converged"`
}

// ReadResult loads the adapter's result.yaml from a point directory.
func ReadResult(dir string) (cl, cd float64, converged bool, err error) {
	path := filepath.Join(dir, ResultFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, false, fmt.Errorf("no result file: %w", err)
	}
	var res result
	if err := yaml.Unmarshal(data, &res); err != nil {
		return 0, 0, false, fmt.Errorf("malformed result file: %w", err)
	}
	return res.CL, res.CD, res.Converged, nil
}
