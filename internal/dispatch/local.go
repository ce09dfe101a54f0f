package dispatch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
)

// LocalRunner executes jobs as child processes on this machine. Solver
// output is streamed line by line into the job's log file so a tail of the
// log follows the computation live.
type LocalRunner struct {
	mu    sync.Mutex
	procs map[string]*localProc
}

type localProc struct {
	cmd     *exec.Cmd
	logFile *os.File
	logMu   sync.Mutex
	wg      sync.WaitGroup
}

func NewLocalRunner() *LocalRunner {
	return &LocalRunner{procs: make(map[string]*localProc)}
}

func (r *LocalRunner) Submit(ctx context.Context, job *Job) (string, error) {
	if len(job.Command) == 0 {
		return "", fmt.Errorf("empty command for %s", job.Point)
	}

	logFile, err := os.Create(job.LogPath)
	if err != nil {
		return "", fmt.Errorf("create log file: %w", err)
	}

	cmd := exec.CommandContext(ctx, job.Command[0], job.Command[1:]...)
	cmd.Dir = job.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logFile.Close()
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		logFile.Close()
		return "", fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return "", fmt.Errorf("start solver: %w", err)
	}

	proc := &localProc{cmd: cmd, logFile: logFile}
	proc.wg.Add(2)
	go proc.stream(stdout)
	go proc.stream(stderr)

	handle := strconv.Itoa(cmd.Process.Pid)
	r.mu.Lock()
	r.procs[handle] = proc
	r.mu.Unlock()
	return handle, nil
}

// stream copies one pipe into the log file. Sync after each line keeps the
// file current for live tailing even when the solver buffers little.
func (p *localProc) stream(pipe io.ReadCloser) {
	defer p.wg.Done()
	scanner := bufio.NewScanner(pipe)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		p.logMu.Lock()
		p.logFile.WriteString(scanner.Text() + "\n")
		p.logFile.Sync()
		p.logMu.Unlock()
	}
}

func (r *LocalRunner) Await(ctx context.Context, job *Job, handle string) error {
	r.mu.Lock()
	proc, ok := r.procs[handle]
	delete(r.procs, handle)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job handle %q", handle)
	}

	// Drain both pipes before Wait so no output is lost.
	proc.wg.Wait()
	err := proc.cmd.Wait()
	proc.logFile.Close()
	return err
}

// RunningCount returns the number of jobs currently executing.
func (r *LocalRunner) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// ProcessRunning reports whether a process with the given PID is alive,
// using signal 0 as a liveness probe.
func ProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
