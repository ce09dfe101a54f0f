package batch

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler fires schedule entries on their cron times. An entry never
// overlaps itself: while one run is in flight, its later due times are
// skipped, and the clock restarts from the moment the run finishes.
type Scheduler struct {
	entries  map[string]SweepEntry
	parser   cron.Parser
	lastRun  map[string]time.Time
	running  map[string]bool
	mu       sync.RWMutex
	stopChan chan struct{}
}

// NewScheduler creates a scheduler for the given entries. Entries start
// idle; the first firing is the next cron time after construction.
func NewScheduler(entries []SweepEntry) (*Scheduler, error) {
	s := &Scheduler{
		entries:  make(map[string]SweepEntry),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		lastRun:  make(map[string]time.Time),
		running:  make(map[string]bool),
		stopChan: make(chan struct{}),
	}

	now := time.Now()
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.entries[e.Name]; dup {
			return nil, fmt.Errorf("duplicate sweep entry %q", e.Name)
		}
		s.entries[e.Name] = e
		s.lastRun[e.Name] = now
	}

	return s, nil
}

// ParseCron parses a standard five-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// NextRun returns the next scheduled firing time for an entry.
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}

	sched, err := s.parser.Parse(e.Cron)
	if err != nil {
		return time.Time{}
	}

	return sched.Next(time.Now())
}

// ShouldRun returns true if an entry is due now.
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok || !e.Enabled {
		return false
	}

	if s.running[name] {
		return false
	}

	sched, err := s.parser.Parse(e.Cron)
	if err != nil {
		return false
	}

	return time.Now().After(sched.Next(s.lastRun[name]))
}

// MarkRunning marks an entry as currently running.
func (s *Scheduler) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

// MarkComplete marks an entry as finished and resets its schedule clock.
func (s *Scheduler) MarkComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = time.Now()
}

// GetEntry returns the entry with the given name.
func (s *Scheduler) GetEntry(name string) (SweepEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	return e, ok
}

// ListEntries returns all entry names, sorted.
func (s *Scheduler) ListEntries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start runs the scheduler loop until Stop is called. Due entries execute
// runFunc on their own goroutine.
func (s *Scheduler) Start(runFunc func(SweepEntry) error) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			for name := range s.entries {
				if s.ShouldRun(name) {
					e, _ := s.GetEntry(name)
					s.MarkRunning(name)
					go func(e SweepEntry) {
						log.Printf("[batch] starting sweep %s", e.Name)
						if err := runFunc(e); err != nil {
							log.Printf("[batch] sweep %s failed: %v", e.Name, err)
						}
						s.MarkComplete(e.Name)
					}(e)
				}
			}
		}
	}
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}
