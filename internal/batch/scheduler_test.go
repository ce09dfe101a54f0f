package batch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 22 * * *", false},   // 10 PM daily
		{"0 6 * * 1-5", false},  // 6 AM weekdays
		{"*/5 * * * *", false},  // every 5 minutes
		{"invalid", true},
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestSweepEntry_Validate(t *testing.T) {
	valid := SweepEntry{
		Name:    "nightly",
		Cron:    "0 22 * * *",
		Config:  "sweeps/nightly.yaml",
		Workers: 4,
		Enabled: true,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	tests := []struct {
		name   string
		mutate func(*SweepEntry)
	}{
		{"empty name", func(e *SweepEntry) { e.Name = "" }},
		{"empty cron", func(e *SweepEntry) { e.Cron = "" }},
		{"bad cron", func(e *SweepEntry) { e.Cron = "often" }},
		{"empty config", func(e *SweepEntry) { e.Config = "" }},
		{"negative workers", func(e *SweepEntry) { e.Workers = -1 }},
	}
	for _, tt := range tests {
		e := valid
		tt.mutate(&e)
		if err := e.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil, want error", tt.name)
		}
	}
}

func TestLoadScheduleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedule.toml")
	content := `
[[sweep]]
name = "nightly"
cron = "0 22 * * *"
config = "sweeps/nightly.yaml"
workers = 4
enabled = true
notify = true

[[sweep]]
name = "weekly-fine"
cron = "0 2 * * 6"
config = "/data/sweeps/fine.yaml"
enabled = false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	sf, err := LoadScheduleFile(path)
	if err != nil {
		t.Fatalf("LoadScheduleFile() error = %v", err)
	}
	if len(sf.Sweeps) != 2 {
		t.Fatalf("len(Sweeps) = %d, want 2", len(sf.Sweeps))
	}

	nightly := sf.Sweeps[0]
	if nightly.Name != "nightly" || nightly.Cron != "0 22 * * *" {
		t.Errorf("nightly = %+v", nightly)
	}
	if want := filepath.Join(dir, "sweeps/nightly.yaml"); nightly.Config != want {
		t.Errorf("relative config = %q, want %q", nightly.Config, want)
	}
	if !nightly.Enabled || !nightly.Notify || nightly.Workers != 4 {
		t.Errorf("nightly flags = %+v", nightly)
	}

	weekly := sf.Sweeps[1]
	if weekly.Config != "/data/sweeps/fine.yaml" {
		t.Errorf("absolute config rewritten to %q", weekly.Config)
	}
	if weekly.Enabled {
		t.Error("weekly should be disabled")
	}
}

func TestLoadScheduleFile_InvalidEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.toml")
	content := `
[[sweep]]
name = "broken"
cron = "not a cron"
config = "x.yaml"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadScheduleFile(path); err == nil {
		t.Error("LoadScheduleFile() = nil, want error for bad cron")
	}
}

func TestNewScheduler_DuplicateName(t *testing.T) {
	e := SweepEntry{Name: "dup", Cron: "* * * * *", Config: "a.yaml", Enabled: true}
	if _, err := NewScheduler([]SweepEntry{e, e}); err == nil {
		t.Error("NewScheduler() = nil, want duplicate-name error")
	}
}

func TestScheduler_NextRun(t *testing.T) {
	e := SweepEntry{
		Name:    "nightly",
		Cron:    "0 22 * * *", // 10 PM daily
		Config:  "nightly.yaml",
		Enabled: true,
	}

	sched, err := NewScheduler([]SweepEntry{e})
	if err != nil {
		t.Fatal(err)
	}

	next := sched.NextRun("nightly")
	if next.IsZero() {
		t.Error("NextRun should return a time")
	}
	if !next.After(time.Now()) {
		t.Error("NextRun should be in the future")
	}
	if !sched.NextRun("unknown").IsZero() {
		t.Error("NextRun for unknown entry should be zero")
	}
}

func TestScheduler_ShouldRun(t *testing.T) {
	e := SweepEntry{
		Name:    "minutely",
		Cron:    "* * * * *",
		Config:  "sweep.yaml",
		Enabled: true,
	}

	sched, err := NewScheduler([]SweepEntry{e})
	if err != nil {
		t.Fatal(err)
	}

	if sched.ShouldRun("minutely") {
		t.Error("entry should not be due immediately after construction")
	}

	sched.mu.Lock()
	sched.lastRun["minutely"] = time.Now().Add(-2 * time.Minute)
	sched.mu.Unlock()

	if !sched.ShouldRun("minutely") {
		t.Error("entry should be due after its cron interval passed")
	}
}

func TestScheduler_SkipsDisabledAndRunning(t *testing.T) {
	entries := []SweepEntry{
		{Name: "on", Cron: "* * * * *", Config: "a.yaml", Enabled: true},
		{Name: "off", Cron: "* * * * *", Config: "b.yaml"},
	}

	sched, err := NewScheduler(entries)
	if err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-2 * time.Minute)
	sched.mu.Lock()
	sched.lastRun["on"] = past
	sched.lastRun["off"] = past
	sched.mu.Unlock()

	if sched.ShouldRun("off") {
		t.Error("disabled entry should never be due")
	}
	if !sched.ShouldRun("on") {
		t.Fatal("enabled entry should be due")
	}

	sched.MarkRunning("on")
	if sched.ShouldRun("on") {
		t.Error("running entry should not be due again")
	}

	sched.MarkComplete("on")
	if sched.ShouldRun("on") {
		t.Error("completed entry should wait for its next cron time")
	}
}

func TestScheduler_ListEntries(t *testing.T) {
	entries := []SweepEntry{
		{Name: "zeta", Cron: "* * * * *", Config: "z.yaml"},
		{Name: "alpha", Cron: "* * * * *", Config: "a.yaml"},
	}

	sched, err := NewScheduler(entries)
	if err != nil {
		t.Fatal(err)
	}

	got := sched.ListEntries()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Errorf("ListEntries() = %v, want sorted [alpha zeta]", got)
	}

	if _, ok := sched.GetEntry("alpha"); !ok {
		t.Error("GetEntry(alpha) not found")
	}
	if _, ok := sched.GetEntry("nope"); ok {
		t.Error("GetEntry(nope) should not be found")
	}
}
