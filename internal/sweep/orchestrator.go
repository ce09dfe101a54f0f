// Package sweep expands a resolved configuration into ordered chains of
// operating points and drives them to terminal states.
//
// Points of one chain run strictly sequentially; chains run concurrently
// under a global worker budget. A point that already has a terminal record
// on disk is skipped, which is the whole resumption mechanism. Failures are
// isolated: a failed point is recorded and the chain moves on.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
	"github.com/aerobench/sweep-orchestrator/internal/resultstore"
)

const timeLayout = "2006-01-02 15:04:05"

// Executor runs one point to a terminal state. *dispatch.Dispatcher is the
// production implementation.
type Executor interface {
	Execute(ctx context.Context, pt *domain.RunPoint) (*domain.RunRecord, error)
}

// Events are optional observation hooks. All fields may be nil. Callbacks
// run on chain goroutines and must not block.
type Events struct {
	PointStarted  func(id domain.PointID)
	PointFinished func(id domain.PointID, rec *domain.RunRecord, err error)
	PointSkipped  func(id domain.PointID, rec *domain.RunRecord)
}

// Config tunes one orchestrator run.
type Config struct {
	Workers     int    // max concurrently computing points, min 1
	RetryFailed bool   // re-dispatch points whose prior record is failed
	Provenance  []byte // verbatim input configuration, persisted at the root
	Events      Events
}

// Progress is a point-in-time view of a running sweep.
type Progress struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Running   int
}

// Result summarizes a finished invocation.
type Result struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
	Warnings  []string // persistence problems, never fatal
}

// Completed reports whether every point of the plan reached a terminal
// state in or before this invocation.
func (r *Result) Completed() bool {
	return r.Succeeded+r.Failed+r.Skipped == r.Total
}

type Orchestrator struct {
	tree  *domain.Tree
	store *resultstore.Store
	exec  Executor
	cfg   Config

	mu        sync.Mutex
	progress  Progress
	warnings  []string
	summaries map[string]map[string]map[string]map[string]domain.LevelSummary
}

func New(tree *domain.Tree, store *resultstore.Store, exec Executor, cfg Config) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Orchestrator{
		tree:      tree,
		store:     store,
		exec:      exec,
		cfg:       cfg,
		summaries: make(map[string]map[string]map[string]map[string]domain.LevelSummary),
	}
}

// Run executes the whole sweep and returns its result. Cancelling the
// context stops dispatching new points; points already computing finish
// classification through their own context.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	chains := Expand(o.tree)

	o.mu.Lock()
	o.progress = Progress{Total: o.tree.PointCount()}
	o.mu.Unlock()

	if len(o.cfg.Provenance) > 0 {
		o.warn(o.store.WriteProvenance(o.cfg.Provenance))
	}
	o.writeSnapshots()

	log.Printf("[sweep] %d points in %d chains, %d workers", o.tree.PointCount(), len(chains), o.cfg.Workers)

	sem := make(chan struct{}, o.cfg.Workers)
	var wg sync.WaitGroup
	for _, chain := range chains {
		wg.Add(1)
		go func(c *Chain) {
			defer wg.Done()
			o.runChain(ctx, c, sem)
		}(chain)
	}
	wg.Wait()

	res := o.result(start)
	if res.Completed() {
		o.finalize(start, res)
	} else {
		log.Printf("[sweep] interrupted with %d points pending, overall summary not written",
			res.Total-res.Succeeded-res.Failed-res.Skipped)
	}
	res.Warnings = o.takeWarnings()
	return res, ctx.Err()
}

// Progress returns a snapshot of the counters.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

func (o *Orchestrator) runChain(ctx context.Context, chain *Chain, sem chan struct{}) {
	var prevDir string // last converged point's dir, threaded into warm starts
	retried := false
	records := make([]domain.RunRecord, 0, len(chain.Points))

	for _, pt := range chain.Points {
		prior, ok := o.store.Lookup(pt.ID)
		if ok && !(o.cfg.RetryFailed && prior.Failed()) {
			if prior.Failed() {
				pt.Status = domain.PointFailed
			} else {
				pt.Status = domain.PointSucceeded
				prevDir = prior.OutDir
			}
			// Repairs a row lost between record write and append.
			o.warn(o.store.AppendCSV(pt.ID, prior))
			records = append(records, *prior)
			o.bump(func(p *Progress) { p.Skipped++ })
			if o.cfg.Events.PointSkipped != nil {
				o.cfg.Events.PointSkipped(pt.ID, prior)
			}
			continue
		}
		if ok {
			retried = true
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		rec, err := o.runPoint(ctx, pt, prevDir)
		<-sem

		if rec == nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if err == nil {
			prevDir = pt.OutDir
		}
		records = append(records, *rec)
	}

	if len(records) == len(chain.Points) {
		if retried {
			// Appends cannot replace the stale rows of retried points.
			o.warn(o.store.RewriteLevelCSV(chain.Hierarchy, chain.Case.Name, chain.Scenario.Name, chain.Level, records))
		}
		sum, err := o.store.WriteLevelSummary(chain.Hierarchy, chain.Case.Name, chain.Scenario.Name, chain.Level, records)
		o.warn(err)
		o.addSummary(chain, sum)
	}
}

// runPoint takes one pending point to a terminal state and persists its
// record. A nil record means the point could not even get a directory.
func (o *Orchestrator) runPoint(ctx context.Context, pt *domain.RunPoint, prevDir string) (*domain.RunRecord, error) {
	dir, err := o.store.EnsurePointDir(pt.ID)
	if err != nil {
		o.warn(err)
		o.bump(func(p *Progress) { p.Failed++ })
		pt.Status = domain.PointFailed
		return nil, err
	}
	pt.OutDir = dir
	if pt.Case.WarmStart && prevDir != "" {
		pt.RestartFrom = prevDir
	}

	pt.Status = domain.PointRunning
	o.bump(func(p *Progress) { p.Running++ })
	if o.cfg.Events.PointStarted != nil {
		o.cfg.Events.PointStarted(pt.ID)
	}

	rec, execErr := o.exec.Execute(ctx, pt)

	// An interruption is not a terminal outcome. The point stays pending,
	// nothing is persisted, and a resumed invocation runs it again.
	if execErr != nil && errors.Is(execErr, context.Canceled) {
		pt.Status = domain.PointPending
		o.bump(func(p *Progress) { p.Running-- })
		return nil, execErr
	}

	if execErr == nil {
		pt.Status = domain.PointSucceeded
	} else {
		pt.Status = domain.PointFailed
	}
	o.bump(func(p *Progress) {
		p.Running--
		if execErr == nil {
			p.Succeeded++
		} else {
			p.Failed++
		}
	})

	o.warn(o.store.WriteRecord(pt.ID, rec))
	o.warn(o.store.AppendCSV(pt.ID, rec))

	if o.cfg.Events.PointFinished != nil {
		o.cfg.Events.PointFinished(pt.ID, rec, execErr)
	}
	return rec, execErr
}

// writeSnapshots persists the case and scenario definition files.
func (o *Orchestrator) writeSnapshots() {
	for hi := range o.tree.Hierarchies {
		h := &o.tree.Hierarchies[hi]
		for ci := range h.Cases {
			c := &h.Cases[ci]
			o.warn(o.store.WriteCaseInfo(h.Name, c))
			for si := range c.Scenarios {
				o.warn(o.store.WriteScenarioInfo(h.Name, c.Name, &c.Scenarios[si]))
			}
		}
	}
}

func (o *Orchestrator) addSummary(chain *Chain, sum domain.LevelSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := o.summaries[chain.Hierarchy]
	if h == nil {
		h = make(map[string]map[string]map[string]domain.LevelSummary)
		o.summaries[chain.Hierarchy] = h
	}
	c := h[chain.Case.Name]
	if c == nil {
		c = make(map[string]map[string]domain.LevelSummary)
		h[chain.Case.Name] = c
	}
	s := c[chain.Scenario.Name]
	if s == nil {
		s = make(map[string]domain.LevelSummary)
		c[chain.Scenario.Name] = s
	}
	s[levelName(chain.Level)] = sum
}

func (o *Orchestrator) finalize(start time.Time, res *Result) {
	overall := &domain.OverallSummary{
		StartTime:     start.Format(timeLayout),
		EndTime:       time.Now().Format(timeLayout),
		TotalWallTime: domain.FormatWallTime(time.Since(start)),
		Hierarchies:   make(map[string]map[string]domain.CaseSummary),
	}
	o.mu.Lock()
	for hName, cases := range o.summaries {
		hm := make(map[string]domain.CaseSummary, len(cases))
		for cName, scenarios := range cases {
			cs := domain.CaseSummary{Scenarios: make(map[string]domain.ScenarioSummary, len(scenarios))}
			for sName, levels := range scenarios {
				cs.Scenarios[sName] = domain.ScenarioSummary{Levels: levels}
			}
			hm[cName] = cs
		}
		overall.Hierarchies[hName] = hm
	}
	o.mu.Unlock()

	o.warn(o.store.FinalizeOverall(overall))
	log.Printf("[sweep] finished: %d succeeded, %d failed, %d skipped in %s",
		res.Succeeded, res.Failed, res.Skipped, res.Duration.Round(time.Millisecond))
}

func (o *Orchestrator) result(start time.Time) *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return &Result{
		Total:     o.progress.Total,
		Succeeded: o.progress.Succeeded,
		Failed:    o.progress.Failed,
		Skipped:   o.progress.Skipped,
		Duration:  time.Since(start),
	}
}

func (o *Orchestrator) bump(f func(*Progress)) {
	o.mu.Lock()
	f(&o.progress)
	o.mu.Unlock()
}

func (o *Orchestrator) warn(err error) {
	if err == nil {
		return
	}
	log.Printf("[sweep] warning: %v", err)
	o.mu.Lock()
	o.warnings = append(o.warnings, err.Error())
	o.mu.Unlock()
}

func (o *Orchestrator) takeWarnings() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	w := o.warnings
	o.warnings = nil
	return w
}

func levelName(level int) string {
	return fmt.Sprintf("L%d", level)
}
