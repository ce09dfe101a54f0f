package updater

import (
	"archive/tar"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestNeedsUpdate(t *testing.T) {
	tests := []struct {
		name    string
		current string
		latest  string
		want    bool
	}{
		{"same version", "v0.3.19", "v0.3.19", false},
		{"patch update", "v0.3.19", "v0.3.20", true},
		{"minor update", "v0.3.19", "v0.4.0", true},
		{"major update", "v0.3.19", "v1.0.0", true},
		{"current is newer", "v0.4.0", "v0.3.19", false},
		{"without v prefix", "0.3.19", "0.3.20", true},
		{"mixed prefixes", "v0.3.19", "0.3.20", true},
		{"dev version needs update", "dev", "v0.3.20", true},
		{"dev to dev", "dev", "dev", false},
		{"multi-digit versions", "v0.3.9", "v0.3.10", true},
		{"same major minor", "v1.2.3", "v1.2.3", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NeedsUpdate(tt.current, tt.latest)
			if got != tt.want {
				t.Errorf("NeedsUpdate(%q, %q) = %v, want %v", tt.current, tt.latest, got, tt.want)
			}
		})
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input string
		want  [3]int
	}{
		{"0.3.19", [3]int{0, 3, 19}},
		{"1.0.0", [3]int{1, 0, 0}},
		{"10.20.30", [3]int{10, 20, 30}},
		{"invalid", [3]int{0, 0, 0}},
		{"1.2", [3]int{1, 2, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseVersion(tt.input)
			if got != tt.want {
				t.Errorf("parseVersion(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLatestRelease(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag_name":"v0.2.1","name":"v0.2.1","body":"faster sweeps","published_at":"2026-08-01T10:00:00Z"}`))
	}))
	defer server.Close()

	old := githubAPIURL
	githubAPIURL = server.URL
	defer func() { githubAPIURL = old }()

	release, err := LatestRelease()
	if err != nil {
		t.Fatalf("LatestRelease() error = %v", err)
	}
	if release.TagName != "v0.2.1" {
		t.Errorf("TagName = %q, want v0.2.1", release.TagName)
	}
	if release.Body != "faster sweeps" {
		t.Errorf("Body = %q", release.Body)
	}

	tag, err := CheckLatestVersion()
	if err != nil {
		t.Fatalf("CheckLatestVersion() error = %v", err)
	}
	if tag != "v0.2.1" {
		t.Errorf("CheckLatestVersion() = %q, want v0.2.1", tag)
	}
}

func TestLatestRelease_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	old := githubAPIURL
	githubAPIURL = server.URL
	defer func() { githubAPIURL = old }()

	if _, err := LatestRelease(); err == nil {
		t.Error("LatestRelease() should fail on non-200 response")
	}
}

// writeArchive builds a tar.gz holding name -> content.
func writeArchive(t *testing.T, path, name, content string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	gzw := gzip.NewWriter(f)
	tw := tar.NewWriter(gzw)
	hdr := &tar.Header{Name: name, Mode: 0o755, Size: int64(len(content)), Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gzw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "release.tar.gz")

	// Binary nested in a versioned subdirectory, as goreleaser lays it out.
	writeArchive(t, archive, "sweep-orch_0.2.1_linux_amd64/sweep-orch", "#!/bin/sh\necho new\n")

	if err := extractTarGz(archive, dir, "sweep-orch"); err != nil {
		t.Fatalf("extractTarGz() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sweep-orch"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "#!/bin/sh\necho new\n" {
		t.Errorf("extracted content = %q", data)
	}
}

func TestExtractTarGz_Missing(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "release.tar.gz")
	writeArchive(t, archive, "README.md", "docs only")

	if err := extractTarGz(archive, dir, "sweep-orch"); err == nil {
		t.Error("extractTarGz() should fail when the binary is absent")
	}
}

func TestReplaceBinary(t *testing.T) {
	dir := t.TempDir()
	current := filepath.Join(dir, "sweep-orch")
	next := filepath.Join(dir, "sweep-orch.new")

	if err := os.WriteFile(current, []byte("old"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(next, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := replaceBinary(current, next); err != nil {
		t.Fatalf("replaceBinary() error = %v", err)
	}

	data, err := os.ReadFile(current)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new" {
		t.Errorf("binary content = %q, want new", data)
	}

	info, err := os.Stat(current)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("mode = %v, want 0755 preserved", info.Mode().Perm())
	}

	if _, err := os.Stat(current + ".old"); !os.IsNotExist(err) {
		t.Error("backup file should be removed after a clean swap")
	}
}
