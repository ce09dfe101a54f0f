package dispatch

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
	"github.com/aerobench/sweep-orchestrator/internal/templates"
)

// JobScriptName is the rendered sbatch script inside a point directory.
const JobScriptName = "job.sh"

// SlurmRunner submits jobs to a Slurm cluster and polls accounting until
// they finish. One operating point maps to one batch job.
type SlurmRunner struct {
	SubmitCmd string // sbatch
	QueryCmd  string // sacct
	CancelCmd string // scancel
	PollEvery time.Duration
	Cluster   domain.ClusterOptions
	Templates *templates.Loader
}

func NewSlurmRunner(cluster domain.ClusterOptions, submitCmd, queryCmd string, pollEvery time.Duration) *SlurmRunner {
	return &SlurmRunner{
		SubmitCmd: submitCmd,
		QueryCmd:  queryCmd,
		CancelCmd: "scancel",
		PollEvery: pollEvery,
		Cluster:   cluster,
		Templates: templates.GetDefaultLoader(),
	}
}

func (r *SlurmRunner) Submit(ctx context.Context, job *Job) (string, error) {
	script, err := r.Templates.BuildJobScript(templates.JobData{
		JobName:   JobName(job.Point),
		LogPath:   job.LogPath,
		Account:   r.Cluster.Account,
		Partition: r.Cluster.Partition,
		Nodes:     r.Cluster.Nodes,
		NTasks:    r.Cluster.NTasks,
		TimeLimit: r.Cluster.TimeLimit,
		MemPerCPU: r.Cluster.MemPerCPU,
		Mail:      r.Cluster.Mail,
		WorkDir:   job.Dir,
		Command:   strings.Join(job.Command, " "),
	})
	if err != nil {
		return "", fmt.Errorf("render job script: %w", err)
	}

	scriptPath := filepath.Join(job.Dir, JobScriptName)
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		return "", fmt.Errorf("write job script: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.SubmitCmd, "--parsable", scriptPath)
	cmd.Dir = job.Dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", r.SubmitCmd, err)
	}
	jobID, err := ParseSubmitOutput(string(out))
	if err != nil {
		return "", err
	}
	log.Printf("[slurm] %s: submitted as job %s", job.Point, jobID)
	return jobID, nil
}

func (r *SlurmRunner) Await(ctx context.Context, job *Job, handle string) error {
	poll := r.PollEvery
	if poll <= 0 {
		poll = 30 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		state, err := r.queryState(ctx, handle)
		if err != nil {
			// Accounting can lag or hiccup right after submission.
			log.Printf("[slurm] %s: query job %s: %v", job.Point, handle, err)
		} else {
			done, stateErr := ClassifyState(state)
			if done {
				if stateErr != nil && strings.HasPrefix(state, "TIMEOUT") {
					return &TimeoutError{Point: job.Point}
				}
				return stateErr
			}
		}

		select {
		case <-ctx.Done():
			r.cancel(handle)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *SlurmRunner) queryState(ctx context.Context, jobID string) (string, error) {
	cmd := exec.CommandContext(ctx, r.QueryCmd, "-j", jobID, "-X", "--noheader", "--parsable2", "--format=State")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0]), nil
}

// cancel is best effort, fired when the context expires mid-poll.
func (r *SlurmRunner) cancel(jobID string) {
	if r.CancelCmd == "" {
		return
	}
	if err := exec.Command(r.CancelCmd, jobID).Run(); err != nil {
		log.Printf("[slurm] %s job %s: %v", r.CancelCmd, jobID, err)
	}
}

// ParseSubmitOutput extracts the job ID from sbatch --parsable output, which
// is "<jobid>" or "<jobid>;<cluster>".
func ParseSubmitOutput(out string) (string, error) {
	id := strings.TrimSpace(out)
	if i := strings.IndexByte(id, ';'); i >= 0 {
		id = id[:i]
	}
	if id == "" {
		return "", fmt.Errorf("no job ID in sbatch output %q", out)
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("unexpected sbatch output %q", out)
		}
	}
	return id, nil
}

// ClassifyState maps a Slurm job state to (terminal, error). Non-terminal
// states return (false, nil). Accounting suffixes like "CANCELLED by 1001"
// are handled.
func ClassifyState(state string) (bool, error) {
	base := state
	if i := strings.IndexByte(base, ' '); i >= 0 {
		base = base[:i]
	}
	switch base {
	case "", "PENDING", "RUNNING", "REQUEUED", "RESIZING", "SUSPENDED", "COMPLETING":
		return false, nil
	case "COMPLETED":
		return true, nil
	default:
		return true, fmt.Errorf("slurm job ended in state %s", state)
	}
}

// JobName renders a point ID as a Slurm-safe job name.
func JobName(id domain.PointID) string {
	return strings.ReplaceAll(id.String(), "/", "_")
}
