package resolver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

// writeMeshDir creates a mesh folder with the named files under dir.
func writeMeshDir(t *testing.T, dir string, files ...string) string {
	t.Helper()
	meshDir := filepath.Join(dir, "meshes")
	if err := os.MkdirAll(meshDir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(meshDir, f), []byte("mesh"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return meshDir
}

func minimalConfig(meshDir string) string {
	return fmt.Sprintf(`
out_dir: ./output
hierarchies:
  - name: 2d_clean
    cases:
      - name: NACA0012
        problem: aero
        meshes_folder_path: %s
        mesh_files: [naca0012_L0.cgns]
        geometry_info:
          chordRef: 1.0
          areaRef: 0.1
        scenarios:
          - name: cruise
            aoa_list: [0, 5]
            Re: 5.0e6
            mach: 0.3
            Temp: 288.15
`, meshDir)
}

func TestResolveBytes_Minimal(t *testing.T) {
	dir := t.TempDir()
	meshDir := writeMeshDir(t, dir, "naca0012_L0.cgns")

	tree, err := ResolveBytes([]byte(minimalConfig(meshDir)), dir)
	if err != nil {
		t.Fatalf("ResolveBytes() error = %v", err)
	}

	if tree.Mode != domain.ModeLocal {
		t.Errorf("Mode = %q, want local", tree.Mode)
	}
	if tree.OutDir != filepath.Join(dir, "output") {
		t.Errorf("OutDir = %q, want %q", tree.OutDir, filepath.Join(dir, "output"))
	}
	if len(tree.Hierarchies) != 1 || len(tree.Hierarchies[0].Cases) != 1 {
		t.Fatalf("tree shape = %d hierarchies, want 1 with 1 case", len(tree.Hierarchies))
	}

	c := tree.Hierarchies[0].Cases[0]
	if c.Kind != domain.KindAero {
		t.Errorf("Kind = %q, want aero", c.Kind)
	}
	if want := filepath.Join(meshDir, "naca0012_L0.cgns"); c.MeshFiles[0] != want {
		t.Errorf("MeshFiles[0] = %q, want %q", c.MeshFiles[0], want)
	}
	if c.RefChord != 1.0 || c.RefArea != 0.1 {
		t.Errorf("geometry = (%v, %v), want (1, 0.1)", c.RefChord, c.RefArea)
	}
	if tree.PointCount() != 2 {
		t.Errorf("PointCount() = %d, want 2", tree.PointCount())
	}

	// Defaults are merged in untouched
	if got := c.SolverOptions["equationType"]; got != "RANS" {
		t.Errorf("equationType = %v, want RANS", got)
	}
	if got := c.SolverOptions["CFL"]; got != 0.5 {
		t.Errorf("CFL = %v, want 0.5", got)
	}
}

func TestResolveBytes_OverridesAndPassthrough(t *testing.T) {
	dir := t.TempDir()
	meshDir := writeMeshDir(t, dir, "a.cgns")

	cfg := fmt.Sprintf(`
out_dir: out
hierarchies:
  - name: h
    cases:
      - name: c1
        problem: aero
        meshes_folder_path: %s
        mesh_files: [a.cgns]
        geometry_info: {chordRef: 1.0, areaRef: 1.0}
        aero_options:
          CFL: 1.5
          nCycles: 2000
          customSolverKnob: "free-form"
        scenarios:
          - name: s1
            aoa_list: [2.5]
            Re: 1.0e6
            mach: 0.1
            Temp: 300
`, meshDir)

	tree, err := ResolveBytes([]byte(cfg), dir)
	if err != nil {
		t.Fatalf("ResolveBytes() error = %v", err)
	}
	opts := tree.Hierarchies[0].Cases[0].SolverOptions

	if got := opts["CFL"]; got != 1.5 {
		t.Errorf("CFL = %v, want 1.5", got)
	}
	if got := opts["nCycles"]; got != 2000 {
		t.Errorf("nCycles = %v (%T), want int 2000", got, got)
	}
	if got := opts["customSolverKnob"]; got != "free-form" {
		t.Errorf("unknown key did not pass through, got %v", got)
	}
	// Untouched defaults survive
	if got := opts["smoother"]; got != "DADI" {
		t.Errorf("smoother = %v, want DADI", got)
	}
}

func TestResolveBytes_TypeMismatch(t *testing.T) {
	dir := t.TempDir()
	meshDir := writeMeshDir(t, dir, "a.cgns")

	cfg := fmt.Sprintf(`
out_dir: out
hierarchies:
  - name: h
    cases:
      - name: c1
        problem: aero
        meshes_folder_path: %s
        mesh_files: [a.cgns]
        geometry_info: {chordRef: 1.0, areaRef: 1.0}
        aero_options:
          useANKSolver: "yes please"
        scenarios:
          - name: s1
            aoa_list: [0]
            Re: 1.0e6
            mach: 0.1
            Temp: 300
`, meshDir)

	_, err := ResolveBytes([]byte(cfg), dir)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *ConfigError for type mismatch", err)
	}
}

func TestResolveBytes_MissingMeshFiles(t *testing.T) {
	dir := t.TempDir()
	meshDir := writeMeshDir(t, dir)

	cfg := fmt.Sprintf(`
out_dir: out
hierarchies:
  - name: h
    cases:
      - name: broken
        problem: aero
        meshes_folder_path: %s
        mesh_files: []
        geometry_info: {chordRef: 1.0, areaRef: 1.0}
        scenarios:
          - name: s1
            aoa_list: [0]
            Re: 1.0e6
            mach: 0.1
            Temp: 300
`, meshDir)

	_, err := ResolveBytes([]byte(cfg), dir)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *ConfigError for empty mesh_files", err)
	}
	// The resolver must not have created anything
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "meshes" {
			t.Errorf("resolver created %q, want no side effects", e.Name())
		}
	}
}

func TestResolveBytes_UnresolvableMeshFolder(t *testing.T) {
	dir := t.TempDir()

	cfg := `
out_dir: out
hierarchies:
  - name: h
    cases:
      - name: c1
        problem: aero
        meshes_folder_path: /does/not/exist
        mesh_files: [a.cgns]
        geometry_info: {chordRef: 1.0, areaRef: 1.0}
        scenarios:
          - name: s1
            aoa_list: [0]
            Re: 1.0e6
            mach: 0.1
            Temp: 300
`
	_, err := ResolveBytes([]byte(cfg), dir)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *ConfigError for unresolvable mesh folder", err)
	}
}

func TestResolveBytes_EmptyAoAList(t *testing.T) {
	dir := t.TempDir()
	meshDir := writeMeshDir(t, dir, "a.cgns")

	cfg := fmt.Sprintf(`
out_dir: out
hierarchies:
  - name: h
    cases:
      - name: c1
        problem: aero
        meshes_folder_path: %s
        mesh_files: [a.cgns]
        geometry_info: {chordRef: 1.0, areaRef: 1.0}
        scenarios:
          - name: s1
            aoa_list: []
            Re: 1.0e6
            mach: 0.1
            Temp: 300
`, meshDir)

	_, err := ResolveBytes([]byte(cfg), dir)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *ConfigError for empty aoa_list", err)
	}
}

func TestResolveBytes_AeroStructuralValidation(t *testing.T) {
	dir := t.TempDir()
	meshDir := writeMeshDir(t, dir, "a.cgns")

	base := `
out_dir: out
hierarchies:
  - name: h
    cases:
      - name: wing
        problem: aerostructural
        meshes_folder_path: %s
        mesh_files: [a.cgns]
        geometry_info: {chordRef: 1.0, areaRef: 1.0}
%s
        scenarios:
          - name: s1
            aoa_list: [0]
            Re: 1.0e6
            mach: 0.1
            Temp: 300
`

	tests := []struct {
		name    string
		structs string
		wantErr bool
	}{
		{
			name:    "missing section",
			structs: "",
			wantErr: true,
		},
		{
			name: "missing load_info",
			structs: `        struct_options:
          isym: 1
          mesh_fpath: wing.bdf
          properties: {t: 0.003}`,
			wantErr: true,
		},
		{
			name: "complete",
			structs: `        struct_options:
          isym: 1
          mesh_fpath: wing.bdf
          properties: {t: 0.003}
          load_info: {load_type: cruise}`,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fmt.Sprintf(base, meshDir, tt.structs)
			tree, err := ResolveBytes([]byte(cfg), dir)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				opts := tree.Hierarchies[0].Cases[0].StructOptions
				props, ok := opts["properties"].(map[string]any)
				if !ok {
					t.Fatalf("properties missing from merged struct options")
				}
				// Default material properties fill in around the user's t
				if props["rho"] != 2500.0 {
					t.Errorf("rho = %v, want default 2500", props["rho"])
				}
				if props["t"] != 0.003 {
					t.Errorf("t = %v, want 0.003", props["t"])
				}
			}
		})
	}
}

func TestResolveBytes_DuplicateCaseName(t *testing.T) {
	dir := t.TempDir()
	meshDir := writeMeshDir(t, dir, "a.cgns")

	caseBlock := fmt.Sprintf(`      - name: same
        problem: aero
        meshes_folder_path: %s
        mesh_files: [a.cgns]
        geometry_info: {chordRef: 1.0, areaRef: 1.0}
        scenarios:
          - name: s1
            aoa_list: [0]
            Re: 1.0e6
            mach: 0.1
            Temp: 300
`, meshDir)
	cfg := "out_dir: out\nhierarchies:\n  - name: h\n    cases:\n" + caseBlock + caseBlock

	_, err := ResolveBytes([]byte(cfg), dir)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *ConfigError for duplicate case name", err)
	}
}

func TestParseProblemKind_Aliases(t *testing.T) {
	tests := []struct {
		input   string
		want    domain.ProblemKind
		wantErr bool
	}{
		{"Aerodynamic", domain.KindAero, false},
		{"Aero", domain.KindAero, false},
		{"Flow", domain.KindAero, false},
		{"AeroStructural", domain.KindAeroStructural, false},
		{"Structural", domain.KindAeroStructural, false},
		{"Combined", domain.KindAeroStructural, false},
		{"quantum", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := parseProblemKind(tt.input, "test")
		if (err != nil) != tt.wantErr {
			t.Errorf("parseProblemKind(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseProblemKind(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseMachineType_Aliases(t *testing.T) {
	tests := []struct {
		input string
		want  domain.ExecMode
	}{
		{"", domain.ModeLocal},
		{"local", domain.ModeLocal},
		{"LOC", domain.ModeLocal},
		{"HPC", domain.ModeHPC},
		{"cluster", domain.ModeHPC},
		{"pool", domain.ModePool},
	}

	for _, tt := range tests {
		got, err := parseMachineType(tt.input)
		if err != nil {
			t.Errorf("parseMachineType(%q) error = %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseMachineType(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestResolveBytes_HPCRequiresInfo(t *testing.T) {
	dir := t.TempDir()

	cfg := `
out_dir: out
machine_type: hpc
hierarchies:
  - name: h
    cases: []
`
	_, err := ResolveBytes([]byte(cfg), dir)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *ConfigError when hpc_info missing", err)
	}
}

func TestResolve_FromFile(t *testing.T) {
	dir := t.TempDir()
	meshDir := writeMeshDir(t, dir, "naca0012_L0.cgns")

	path := filepath.Join(dir, "sweep.yaml")
	if err := os.WriteFile(path, []byte(minimalConfig(meshDir)), 0644); err != nil {
		t.Fatal(err)
	}

	tree, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := tree.Hierarchies[0].Cases[0].Name; got != "NACA0012" {
		t.Errorf("case name = %q, want NACA0012", got)
	}
}
