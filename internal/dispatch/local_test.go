package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

func shellJob(t *testing.T, script string) *Job {
	t.Helper()
	dir := t.TempDir()
	return &Job{
		Point:   domain.PointID{Hierarchy: "h", Case: "c", Scenario: "s", Level: 0, AoA: 0},
		Dir:     dir,
		Command: []string{"/bin/sh", "-c", script},
		LogPath: filepath.Join(dir, LogFileName),
	}
}

func TestLocalRunnerStreamsOutput(t *testing.T) {
	r := NewLocalRunner()
	job := shellJob(t, "echo from stdout; echo from stderr 1>&2")

	handle, err := r.Submit(context.Background(), job)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := r.Await(context.Background(), job, handle); err != nil {
		t.Fatalf("Await() error = %v", err)
	}

	data, err := os.ReadFile(job.LogPath)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	for _, want := range []string{"from stdout", "from stderr"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log missing %q, got %q", want, data)
		}
	}
}

func TestLocalRunnerExitError(t *testing.T) {
	r := NewLocalRunner()
	job := shellJob(t, "exit 3")

	handle, err := r.Submit(context.Background(), job)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := r.Await(context.Background(), job, handle); err == nil {
		t.Error("Await() = nil, want exit error")
	}
}

func TestLocalRunnerUnknownHandle(t *testing.T) {
	r := NewLocalRunner()
	job := shellJob(t, "true")
	if err := r.Await(context.Background(), job, "99999999"); err == nil {
		t.Error("Await() with unknown handle should fail")
	}
}

func TestLocalRunnerRunningCount(t *testing.T) {
	r := NewLocalRunner()
	job := shellJob(t, "sleep 0.2")

	handle, err := r.Submit(context.Background(), job)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := r.RunningCount(); got != 1 {
		t.Errorf("RunningCount() = %d, want 1", got)
	}
	if err := r.Await(context.Background(), job, handle); err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if got := r.RunningCount(); got != 0 {
		t.Errorf("RunningCount() after Await = %d, want 0", got)
	}
}

func TestProcessRunning(t *testing.T) {
	if !ProcessRunning(os.Getpid()) {
		t.Error("ProcessRunning(self) = false, want true")
	}
	if ProcessRunning(0) {
		t.Error("ProcessRunning(0) = true, want false")
	}
	if ProcessRunning(-1) {
		t.Error("ProcessRunning(-1) = true, want false")
	}
}
