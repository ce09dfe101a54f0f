package observer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitSignal(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal(msg)
	}
}

func TestWatcherConfigChange(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sweep.yaml")
	if err := os.WriteFile(cfgPath, []byte("out_dir: out\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfgCh := make(chan struct{}, 4)
	w, err := NewWatcher(func() { cfgCh <- struct{}{} }, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebounce(20 * time.Millisecond)
	if err := w.WatchConfig(cfgPath); err != nil {
		t.Fatal(err)
	}
	w.Start(context.Background())
	defer w.Stop()

	if err := os.WriteFile(cfgPath, []byte("out_dir: elsewhere\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitSignal(t, cfgCh, "no callback after config rewrite")

	// A sibling file in the same directory must not trigger.
	if err := os.WriteFile(filepath.Join(dir, "notes.yaml"), []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-cfgCh:
		t.Error("sibling file change reported as config change")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherRecordArrivals(t *testing.T) {
	root := t.TempDir()
	levelDir := filepath.Join(root, "2d_clean", "NACA0012", "cruise", "L0")
	if err := os.MkdirAll(levelDir, 0o755); err != nil {
		t.Fatal(err)
	}

	recCh := make(chan []string, 4)
	w, err := NewWatcher(nil, func(files []string) { recCh <- files })
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebounce(20 * time.Millisecond)
	if err := w.WatchTree(root); err != nil {
		t.Fatal(err)
	}
	w.Start(context.Background())
	defer w.Stop()

	// Summary files are not records and must be silent.
	if err := os.WriteFile(filepath.Join(levelDir, "level_info.yaml"), []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The point directory did not exist when the watch started.
	pointDir := filepath.Join(levelDir, "aoa_5")
	if err := os.MkdirAll(pointDir, 0o755); err != nil {
		t.Fatal(err)
	}
	record := filepath.Join(pointDir, "aoa_5.yaml")
	if err := os.WriteFile(record, []byte("AOA: 5\ncl: 0.4\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case files := <-recCh:
		found := false
		for _, f := range files {
			if f == record {
				found = true
			}
			if !isRecordFile(f) {
				t.Errorf("non-record path reported: %s", f)
			}
		}
		if !found {
			t.Errorf("callback files = %v, want %s included", files, record)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no callback for arriving record")
	}
}

func TestWatcherMissingRoot(t *testing.T) {
	w, err := NewWatcher(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.WatchTree(filepath.Join(t.TempDir(), "not_yet")); err != nil {
		t.Errorf("WatchTree on missing root = %v, want nil", err)
	}
}

func TestIsRecordFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/out/h/c/s/L0/aoa_5/aoa_5.yaml", true},
		{"/out/h/c/s/L0/aoa_-2.5/aoa_-2.5.yaml", true},
		{"/out/h/c/s/L0/level_info.yaml", false},
		{"/out/overall_sim_info.yaml", false},
		{"/out/input_file.yaml", false},
		{"/out/h/c/s/L0/aoa_5/solution.dat", false},
	}

	for _, tt := range tests {
		if got := isRecordFile(tt.path); got != tt.want {
			t.Errorf("isRecordFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestObserverStats(t *testing.T) {
	var gotConfig bool
	var gotFiles []string
	o, err := New(Config{
		OnConfigChange: func() { gotConfig = true },
		OnRecords:      func(files []string) { gotFiles = files },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer o.Stop()

	o.configChanged()
	o.recordsArrived([]string{
		"/out/h/c/s/L0/aoa_0/aoa_0.yaml",
		"/out/h/c/s/L0/aoa_5/aoa_5.yaml",
	})

	if !gotConfig {
		t.Error("OnConfigChange not forwarded")
	}
	if len(gotFiles) != 2 {
		t.Errorf("OnRecords files = %v, want 2 entries", gotFiles)
	}

	s := o.Stats()
	if s.ConfigReloads != 1 {
		t.Errorf("ConfigReloads = %d, want 1", s.ConfigReloads)
	}
	if s.RecordsSeen != 2 {
		t.Errorf("RecordsSeen = %d, want 2", s.RecordsSeen)
	}
	if s.LastRecord.IsZero() {
		t.Error("LastRecord should be set")
	}

	// Age the first arrival out of the window.
	o.mu.Lock()
	o.arrivals[0].seenAt = time.Now().Add(-time.Hour)
	o.mu.Unlock()

	recent := o.RecentRecords(time.Minute)
	if len(recent) != 1 || recent[0] != "/out/h/c/s/L0/aoa_5/aoa_5.yaml" {
		t.Errorf("RecentRecords = %v, want only the fresh arrival", recent)
	}
}

func TestObserverQuiet(t *testing.T) {
	o, err := New(Config{QuietThreshold: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer o.Stop()

	if o.Quiet() {
		t.Error("Quiet() before Start should be false")
	}

	o.Start(context.Background())
	if o.Quiet() {
		t.Error("fresh session should not be quiet")
	}

	time.Sleep(120 * time.Millisecond)
	if !o.Quiet() {
		t.Error("session with no activity should go quiet")
	}

	o.recordsArrived([]string{"/out/h/c/s/L0/aoa_1/aoa_1.yaml"})
	if o.Quiet() {
		t.Error("an arrival should reset the quiet clock")
	}
}
