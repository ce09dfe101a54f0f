// Package resolver loads a hierarchy configuration, merges case overrides
// onto the problem-kind defaults, and validates the result into the
// immutable tree the orchestrator expands. It creates nothing on disk: a
// configuration that does not resolve fails before any dispatch.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

var nameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ConfigError is the only fatal error class: the engine aborts the whole
// invocation when the configuration does not resolve.
type ConfigError struct {
	Where string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Where == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: %s: %s", e.Where, e.Msg)
}

func errf(where, format string, args ...any) *ConfigError {
	return &ConfigError{Where: where, Msg: fmt.Sprintf(format, args...)}
}

// File-shape structs. Key names follow the established input format; the
// resolver is the only place that knows them.

type fileRoot struct {
	OutDir      string          `yaml:"out_dir"`
	MachineType string          `yaml:"machine_type"`
	NProc       int             `yaml:"nproc"`
	SolverCmd   string          `yaml:"solver_cmd"`
	HPCInfo     *fileHPCInfo    `yaml:"hpc_info"`
	Hierarchies []fileHierarchy `yaml:"hierarchies"`
}

type fileHPCInfo struct {
	AccountName string `yaml:"account_name"`
	Partition   string `yaml:"partition"`
	Nodes       int    `yaml:"nodes"`
	NProc       int    `yaml:"nproc"`
	Time        string `yaml:"time"`
	MemPerCPU   string `yaml:"mem_per_cpu"`
	EmailID     string `yaml:"email_id"`
}

type fileHierarchy struct {
	Name  string     `yaml:"name"`
	Cases []fileCase `yaml:"cases"`
}

type fileCase struct {
	Name             string         `yaml:"name"`
	Problem          string         `yaml:"problem"`
	MeshesFolderPath string         `yaml:"meshes_folder_path"`
	MeshFiles        []string       `yaml:"mesh_files"`
	GeometryInfo     fileGeometry   `yaml:"geometry_info"`
	AeroOptions      map[string]any `yaml:"aero_options"`
	StructOptions    map[string]any `yaml:"struct_options"`
	WarmStart        bool           `yaml:"warm_start"`
	Scenarios        []fileScenario `yaml:"scenarios"`
}

type fileGeometry struct {
	ChordRef float64 `yaml:"chordRef"`
	AreaRef  float64 `yaml:"areaRef"`
}

type fileScenario struct {
	Name    string    `yaml:"name"`
	AoAList []float64 `yaml:"aoa_list"`
	Re      float64   `yaml:"Re"`
	Mach    float64   `yaml:"mach"`
	Temp    float64   `yaml:"Temp"`
	ExpData string    `yaml:"exp_data"`
}

// Resolve loads and resolves the hierarchy configuration at path. Relative
// paths in the file are taken relative to the working directory.
func Resolve(path string) (*domain.Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errf("", "reading %s: %v", path, err)
	}
	baseDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return ResolveBytes(data, baseDir)
}

// ResolveBytes resolves a configuration document. baseDir anchors relative
// paths.
func ResolveBytes(data []byte, baseDir string) (*domain.Tree, error) {
	var root fileRoot
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errf("", "parsing yaml: %v", err)
	}

	if root.OutDir == "" {
		return nil, errf("", "out_dir is required")
	}
	if len(root.Hierarchies) == 0 {
		return nil, errf("", "hierarchies must not be empty")
	}

	mode, err := parseMachineType(root.MachineType)
	if err != nil {
		return nil, err
	}
	if mode == domain.ModeHPC && root.HPCInfo == nil {
		return nil, errf("", "machine_type hpc requires an hpc_info section")
	}

	tree := &domain.Tree{
		OutDir:    absPath(baseDir, root.OutDir),
		Mode:      mode,
		Procs:     root.NProc,
		SolverCmd: root.SolverCmd,
	}
	if root.HPCInfo != nil {
		tree.Cluster = domain.ClusterOptions{
			Account:   root.HPCInfo.AccountName,
			Partition: root.HPCInfo.Partition,
			Nodes:     root.HPCInfo.Nodes,
			NTasks:    root.HPCInfo.NProc,
			TimeLimit: root.HPCInfo.Time,
			MemPerCPU: root.HPCInfo.MemPerCPU,
			Mail:      root.HPCInfo.EmailID,
		}
	}

	seenHier := make(map[string]bool)
	for _, fh := range root.Hierarchies {
		if err := checkName("hierarchy", fh.Name); err != nil {
			return nil, err
		}
		if seenHier[fh.Name] {
			return nil, errf("", "duplicate hierarchy name %q", fh.Name)
		}
		seenHier[fh.Name] = true

		hier := domain.Hierarchy{Name: fh.Name}
		seenCase := make(map[string]bool)
		for _, fc := range fh.Cases {
			c, err := resolveCase(fc, fh.Name, baseDir)
			if err != nil {
				return nil, err
			}
			if seenCase[c.Name] {
				return nil, errf("hierarchy "+fh.Name, "duplicate case name %q", c.Name)
			}
			seenCase[c.Name] = true
			hier.Cases = append(hier.Cases, *c)
		}
		tree.Hierarchies = append(tree.Hierarchies, hier)
	}

	return tree, nil
}

func resolveCase(fc fileCase, hierarchy, baseDir string) (*domain.Case, error) {
	where := fmt.Sprintf("case %s/%s", hierarchy, fc.Name)
	if err := checkName("case", fc.Name); err != nil {
		return nil, err
	}

	kind, err := parseProblemKind(fc.Problem, where)
	if err != nil {
		return nil, err
	}

	if len(fc.MeshFiles) == 0 {
		return nil, errf(where, "mesh_files must not be empty")
	}
	meshDir := absPath(baseDir, fc.MeshesFolderPath)
	if fc.MeshesFolderPath == "" {
		return nil, errf(where, "meshes_folder_path is required")
	}
	if _, err := os.Stat(meshDir); err != nil {
		return nil, errf(where, "meshes_folder_path %s does not resolve: %v", fc.MeshesFolderPath, err)
	}
	meshes := make([]string, len(fc.MeshFiles))
	for i, mf := range fc.MeshFiles {
		meshes[i] = filepath.Join(meshDir, mf)
	}

	if fc.GeometryInfo.ChordRef <= 0 {
		return nil, errf(where, "geometry_info.chordRef must be positive")
	}
	if fc.GeometryInfo.AreaRef <= 0 {
		return nil, errf(where, "geometry_info.areaRef must be positive")
	}

	var defaults map[string]any
	switch kind {
	case domain.KindAero:
		defaults = AeroDefaults()
	case domain.KindAeroStructural:
		defaults = AeroStructuralDefaults()
	}
	solverOpts, err := MergeOptions(defaults, fc.AeroOptions, where+".aero_options")
	if err != nil {
		return nil, err
	}

	var structOpts map[string]any
	if kind == domain.KindAeroStructural {
		if err := checkStructOptions(fc.StructOptions, where); err != nil {
			return nil, err
		}
		structOpts, err = MergeOptions(StructuralDefaults(), fc.StructOptions, where+".struct_options")
		if err != nil {
			return nil, err
		}
	}

	c := &domain.Case{
		Name:          fc.Name,
		Kind:          kind,
		MeshFiles:     meshes,
		RefChord:      fc.GeometryInfo.ChordRef,
		RefArea:       fc.GeometryInfo.AreaRef,
		SolverOptions: solverOpts,
		StructOptions: structOpts,
		WarmStart:     fc.WarmStart,
	}

	seenScenario := make(map[string]bool)
	for _, fs := range fc.Scenarios {
		s, err := resolveScenario(fs, where, baseDir)
		if err != nil {
			return nil, err
		}
		if seenScenario[s.Name] {
			return nil, errf(where, "duplicate scenario name %q", s.Name)
		}
		seenScenario[s.Name] = true
		c.Scenarios = append(c.Scenarios, *s)
	}

	return c, nil
}

func resolveScenario(fs fileScenario, caseWhere, baseDir string) (*domain.Scenario, error) {
	where := caseWhere + " scenario " + fs.Name
	if err := checkName("scenario", fs.Name); err != nil {
		return nil, err
	}
	if len(fs.AoAList) == 0 {
		return nil, errf(where, "aoa_list must not be empty")
	}
	s := &domain.Scenario{
		Name:        fs.Name,
		Reynolds:    fs.Re,
		Mach:        fs.Mach,
		Temperature: fs.Temp,
		AoAList:     append([]float64(nil), fs.AoAList...),
	}
	if fs.ExpData != "" {
		s.RefData = absPath(baseDir, fs.ExpData)
	}
	return s, nil
}

// checkStructOptions validates the user-supplied structural section before
// the defaults are merged in: the symmetry axis, structural mesh, load
// specification and shell thickness (or a full property map) have no usable
// defaults and must come from the case.
func checkStructOptions(opts map[string]any, where string) error {
	w := where + ".struct_options"
	if len(opts) == 0 {
		return errf(where, "aerostructural case requires struct_options")
	}
	if _, ok := opts["isym"]; !ok {
		return errf(w, "isym (symmetry axis) is required")
	}
	mesh, ok := opts["mesh_fpath"].(string)
	if !ok || mesh == "" {
		return errf(w, "mesh_fpath is required")
	}
	li, ok := opts["load_info"].(map[string]any)
	if !ok {
		return errf(w, "load_info is required")
	}
	if _, ok := li["load_type"]; !ok {
		return errf(w, "load_info.load_type is required")
	}
	props, hasProps := opts["properties"].(map[string]any)
	if !hasProps {
		return errf(w, "properties with shell thickness t (or a property map) is required")
	}
	if _, hasT := props["t"]; !hasT && len(props) == 0 {
		return errf(w, "properties must set shell thickness t or material properties")
	}
	return nil
}

func checkName(kind, name string) error {
	if name == "" {
		return errf("", "%s name must not be empty", kind)
	}
	if !nameRegex.MatchString(name) {
		return errf("", "%s name %q is not path-safe", kind, name)
	}
	return nil
}

func parseProblemKind(s, where string) (domain.ProblemKind, error) {
	switch strings.ToLower(s) {
	case "aerodynamic", "aero", "flow":
		return domain.KindAero, nil
	case "aerostructural", "structural", "combined":
		return domain.KindAeroStructural, nil
	case "":
		return "", errf(where, "problem is required")
	default:
		return "", errf(where, "unknown problem type %q", s)
	}
}

func parseMachineType(s string) (domain.ExecMode, error) {
	switch strings.ToLower(s) {
	case "", "local", "loc":
		return domain.ModeLocal, nil
	case "hpc", "cluster":
		return domain.ModeHPC, nil
	case "pool", "farm":
		return domain.ModePool, nil
	default:
		return "", errf("", "unknown machine_type %q", s)
	}
}

func absPath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return filepath.Join(baseDir, path)
}
