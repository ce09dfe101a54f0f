// Package observer follows a sweep from outside the process. It watches
// the hierarchy configuration file for edits and the output tree for
// arriving point records; watch mode, the status server's event stream,
// and the dashboard feed off it.
package observer

import (
	"context"
	"sync"
	"time"
)

// Config wires an Observer. ConfigPath and OutDir may each be empty to
// skip that half. Callbacks are serialized, never run concurrently with
// each other, and must not block.
type Config struct {
	ConfigPath     string
	OutDir         string
	QuietThreshold time.Duration

	OnConfigChange func()
	OnRecords      func(files []string)
}

// Observer ties the filesystem watcher to session callbacks and keeps
// counters about what it has seen.
type Observer struct {
	cfg     Config
	watcher *Watcher

	mu           sync.RWMutex
	reloads      int
	arrivals     []arrival
	lastActivity time.Time
}

type arrival struct {
	path   string
	seenAt time.Time
}

// Stats holds counters for one watch session.
type Stats struct {
	ConfigReloads int
	RecordsSeen   int
	LastRecord    time.Time
}

// New creates an Observer watching the paths named in cfg.
func New(cfg Config) (*Observer, error) {
	o := &Observer{cfg: cfg}

	w, err := NewWatcher(o.configChanged, o.recordsArrived)
	if err != nil {
		return nil, err
	}
	o.watcher = w

	if cfg.ConfigPath != "" {
		if err := w.WatchConfig(cfg.ConfigPath); err != nil {
			w.Stop()
			return nil, err
		}
	}
	if cfg.OutDir != "" {
		if err := w.WatchTree(cfg.OutDir); err != nil {
			w.Stop()
			return nil, err
		}
	}

	return o, nil
}

// AddTree starts watching another output root, typically after a config
// reload moved out_dir.
func (o *Observer) AddTree(root string) error {
	return o.watcher.WatchTree(root)
}

// Start begins delivering events until ctx ends or Stop is called.
func (o *Observer) Start(ctx context.Context) {
	o.mu.Lock()
	o.lastActivity = time.Now()
	o.mu.Unlock()
	o.watcher.Start(ctx)
}

// Stop stops the underlying watcher.
func (o *Observer) Stop() {
	o.watcher.Stop()
}

func (o *Observer) configChanged() {
	o.mu.Lock()
	o.reloads++
	o.lastActivity = time.Now()
	o.mu.Unlock()

	if o.cfg.OnConfigChange != nil {
		o.cfg.OnConfigChange()
	}
}

func (o *Observer) recordsArrived(files []string) {
	now := time.Now()
	o.mu.Lock()
	for _, f := range files {
		o.arrivals = append(o.arrivals, arrival{path: f, seenAt: now})
	}
	o.lastActivity = now
	o.mu.Unlock()

	if o.cfg.OnRecords != nil {
		o.cfg.OnRecords(files)
	}
}

// Stats returns the session counters.
func (o *Observer) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	s := Stats{ConfigReloads: o.reloads, RecordsSeen: len(o.arrivals)}
	if n := len(o.arrivals); n > 0 {
		s.LastRecord = o.arrivals[n-1].seenAt
	}
	return s
}

// RecentRecords returns record paths that arrived within the last duration.
func (o *Observer) RecentRecords(since time.Duration) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	cutoff := time.Now().Add(-since)
	var result []string
	for _, a := range o.arrivals {
		if a.seenAt.After(cutoff) {
			result = append(result, a.path)
		}
	}
	return result
}

// Quiet reports whether nothing has arrived for longer than the configured
// threshold. Always false before Start or without a threshold.
func (o *Observer) Quiet() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.cfg.QuietThreshold <= 0 || o.lastActivity.IsZero() {
		return false
	}
	return time.Since(o.lastActivity) > o.cfg.QuietThreshold
}
