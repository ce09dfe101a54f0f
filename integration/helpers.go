//go:build integration

package integration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeMeshes creates a mesh directory under dir holding the named files.
func writeMeshes(t *testing.T, dir string, names ...string) string {
	t.Helper()
	meshDir := filepath.Join(dir, "meshes")
	if err := os.MkdirAll(meshDir, 0755); err != nil {
		t.Fatalf("Failed to create mesh dir: %v", err)
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(meshDir, name), []byte("mesh"), 0644); err != nil {
			t.Fatalf("Failed to write mesh %s: %v", name, err)
		}
	}
	return meshDir
}

// writeFakeSolver writes a shell script speaking the solver adapter
// contract: read invocation.yaml from the working directory, write
// result.yaml next to it. Angles listed in failAoAs report converged: false
// and exit non-zero.
func writeFakeSolver(t *testing.T, dir string, failAoAs ...string) string {
	t.Helper()

	failPattern := "no-such-aoa"
	if len(failAoAs) > 0 {
		failPattern = strings.Join(failAoAs, "|")
	}

	script := `#!/bin/sh
aoa=$(sed -n 's/^ *aoa: //p' invocation.yaml | head -n 1)
case "$aoa" in
` + failPattern + `)
	printf 'cl: 0\ncd: 0\nconverged: false\n' > result.yaml
	exit 1
	;;
esac
printf "cl: 0.1$aoa\ncd: 0.012\nconverged: true\n" > result.yaml
`

	path := filepath.Join(dir, "fake_solver.sh")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("Failed to write fake solver: %v", err)
	}
	return path
}

// writeSweepConfig renders a one-case sweep configuration. The output tree
// lands at <config dir>/output.
func writeSweepConfig(t *testing.T, dir, meshDir, solver, aoas string) string {
	t.Helper()

	config := fmt.Sprintf(`out_dir: ./output
machine_type: local
solver_cmd: %s
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
            aoa_list: [%s]
            Re: 5.0e6
            mach: 0.3
            Temp: 288.15
`, solver, meshDir, aoas)

	path := filepath.Join(dir, "sweep.yaml")
	if err := os.WriteFile(path, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write sweep config: %v", err)
	}
	return path
}

// writeEngineConfig writes a tool config pointing the ledger at dbPath.
func writeEngineConfig(t *testing.T, dir, dbPath string) string {
	t.Helper()

	config := `[general]
max_workers = 2
database_path = "` + dbPath + `"

[solver]
timeout_minutes = 1

[notifications]
desktop = false

[web]
port = 8080
host = "127.0.0.1"
`

	path := filepath.Join(dir, "engine.toml")
	if err := os.WriteFile(path, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write engine config: %v", err)
	}
	return path
}

// TempDBPath creates a temporary ledger path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "history.db")
}
