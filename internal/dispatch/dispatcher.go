// Package dispatch launches solver computations for individual operating
// points and classifies their outcomes.
//
// A Runner is the capability to execute one prepared job: the local runner
// spawns a subprocess and the Slurm runner submits a batch job and polls it.
// The Dispatcher sits above both, writing the solver invocation file,
// choosing the command line, enforcing the wall-clock limit and turning
// whatever happened into a terminal RunRecord.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

// Job is one fully prepared solver execution.
type Job struct {
	Point   domain.PointID
	Dir     string   // point directory, working directory for the solver
	Command []string // argv
	LogPath string
}

// Runner executes jobs. Submit hands the job to the execution backend and
// returns an opaque handle; Await blocks until the job is terminal. Await
// returning nil only means the backend finished, not that the solver
// converged.
type Runner interface {
	Submit(ctx context.Context, job *Job) (string, error)
	Await(ctx context.Context, job *Job, handle string) error
}

// Options configure how points are turned into solver command lines.
type Options struct {
	SolverCmd string
	MPIRun    string
	Procs     int
	Timeout   time.Duration
}

type Dispatcher struct {
	runner Runner
	opts   Options
}

func New(runner Runner, opts Options) *Dispatcher {
	return &Dispatcher{runner: runner, opts: opts}
}

// Execute runs one point to a terminal state. The returned record is always
// usable; a non-nil error carries the failure classification and implies the
// record's failure flag is set.
func (d *Dispatcher) Execute(ctx context.Context, pt *domain.RunPoint) (*domain.RunRecord, error) {
	start := time.Now()

	if _, err := WriteInvocation(pt); err != nil {
		derr := &DispatchError{Point: pt.ID, Err: err}
		return failedRecord(pt, start, derr), derr
	}

	job := &Job{
		Point:   pt.ID,
		Dir:     pt.OutDir,
		Command: d.commandLine(),
		LogPath: filepath.Join(pt.OutDir, LogFileName),
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if d.opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	log.Printf("[dispatch] %s: starting %v", pt.ID, job.Command)
	handle, err := d.runner.Submit(runCtx, job)
	if err != nil {
		derr := &DispatchError{Point: pt.ID, Err: err}
		return failedRecord(pt, start, derr), derr
	}
	awaitErr := d.runner.Await(runCtx, job, handle)

	cl, cd, converged, resultErr := ReadResult(pt.OutDir)
	wall := time.Since(start)

	// A converged result wins over everything else, including a solver
	// process that exited non-zero after writing it.
	if resultErr == nil && converged {
		log.Printf("[dispatch] %s: converged in %s", pt.ID, domain.FormatWallTime(wall))
		return &domain.RunRecord{
			AoA:      pt.ID.AoA,
			CL:       cl,
			CD:       cd,
			FailFlag: 0,
			WallTime: domain.FormatWallTime(wall),
			OutDir:   pt.OutDir,
		}, nil
	}

	var ferr error
	var timeout *TimeoutError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		ferr = &TimeoutError{Point: pt.ID, Limit: d.opts.Timeout}
	case errors.Is(runCtx.Err(), context.Canceled):
		// Interrupted from above: not a solver verdict.
		ferr = fmt.Errorf("%s interrupted: %w", pt.ID, context.Canceled)
	case errors.As(awaitErr, &timeout):
		ferr = timeout
	case resultErr != nil && awaitErr != nil:
		ferr = &ConvergenceFailure{Point: pt.ID, Detail: fmt.Sprintf("%v (%v)", awaitErr, resultErr)}
	case resultErr != nil:
		ferr = &ConvergenceFailure{Point: pt.ID, Detail: resultErr.Error()}
	default:
		ferr = &ConvergenceFailure{Point: pt.ID, Detail: "solver reported converged: false"}
	}
	log.Printf("[dispatch] %s: failed after %s: %v", pt.ID, domain.FormatWallTime(wall), ferr)
	return failedRecord(pt, start, ferr), ferr
}

func (d *Dispatcher) commandLine() []string {
	solver := []string{d.opts.SolverCmd, "--input", InvocationFileName}
	if d.opts.Procs > 1 && d.opts.MPIRun != "" {
		return append([]string{d.opts.MPIRun, "-np", strconv.Itoa(d.opts.Procs)}, solver...)
	}
	return solver
}

func failedRecord(pt *domain.RunPoint, start time.Time, cause error) *domain.RunRecord {
	return &domain.RunRecord{
		AoA:         pt.ID.AoA,
		CL:          math.NaN(),
		CD:          math.NaN(),
		FailFlag:    1,
		WallTime:    domain.FormatWallTime(time.Since(start)),
		OutDir:      pt.OutDir,
		Diagnostics: cause.Error(),
	}
}
