package observer

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Default debounce for collapsing bursts of filesystem events.
const defaultDebounce = 500 * time.Millisecond

// Watcher is a debounced fsnotify layer over the two things a sweep
// changes on disk: the hierarchy configuration file and the output tree.
// Bursts of events collapse into one callback per kind.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration

	onConfig  func()
	onRecords func(files []string)

	configPath string
	roots      map[string]struct{}

	pendingConfig  bool
	pendingRecords map[string]struct{}
	timer          *time.Timer
	mu             sync.Mutex

	// Serializes callback invocation across debounce flushes, so
	// callers never see two callbacks at once.
	cbMu sync.Mutex

	cancel context.CancelFunc
}

// NewWatcher creates a watcher. Either callback may be nil.
func NewWatcher(onConfig func(), onRecords func(files []string)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:        w,
		debounce:       defaultDebounce,
		onConfig:       onConfig,
		onRecords:      onRecords,
		roots:          make(map[string]struct{}),
		pendingRecords: make(map[string]struct{}),
	}, nil
}

// WatchConfig watches one configuration file. The parent directory is
// watched instead of the file itself so editors that replace the file on
// save keep reporting.
func (w *Watcher) WatchConfig(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.configPath = abs
	w.mu.Unlock()

	return w.watcher.Add(filepath.Dir(abs))
}

// WatchTree watches an output root for arriving point records. A root
// that does not exist yet is ignored; directories created under a watched
// root later are picked up as the sweep creates them.
func (w *Watcher) WatchTree(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		return nil // Nothing on disk yet
	}

	w.mu.Lock()
	if _, exists := w.roots[abs]; exists {
		w.mu.Unlock()
		return nil
	}
	w.roots[abs] = struct{}{}
	w.mu.Unlock()

	return w.watchDirs(abs)
}

// watchDirs adds dir and every directory below it.
func (w *Watcher) watchDirs(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if info.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// Start begins watching for file changes.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[observer] watch error: %v", err)
			}
		}
	}()
}

// Stop stops watching for file changes.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	name := filepath.Clean(event.Name)

	w.mu.Lock()
	isConfig := w.configPath != "" && name == w.configPath
	root := w.findRoot(name)
	w.mu.Unlock()

	if !isConfig && root == "" {
		return
	}

	if !isConfig && event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			// Point directories appear while the sweep runs. Watch them
			// right away, then sweep up records written in the window
			// before the watch landed.
			w.watchDirs(name)
			w.scanExisting(name)
			return
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case isConfig:
		w.pendingConfig = true
	case isRecordFile(name):
		w.pendingRecords[name] = struct{}{}
	default:
		return
	}
	w.armTimerLocked()
}

// findRoot returns the watched root containing path, with mu held.
func (w *Watcher) findRoot(path string) string {
	for root := range w.roots {
		if strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root
		}
	}
	return ""
}

// scanExisting queues record files already inside dir.
func (w *Watcher) scanExisting(dir string) {
	var found []string
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if isRecordFile(path) {
			found = append(found, path)
		}
		return nil
	})
	if len(found) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range found {
		w.pendingRecords[f] = struct{}{}
	}
	w.armTimerLocked()
}

// armTimerLocked restarts the debounce window, with mu held.
func (w *Watcher) armTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	config := w.pendingConfig
	records := w.pendingRecords
	w.pendingConfig = false
	w.pendingRecords = make(map[string]struct{})
	w.mu.Unlock()

	w.cbMu.Lock()
	defer w.cbMu.Unlock()

	if config && w.onConfig != nil {
		w.onConfig()
	}
	if len(records) > 0 && w.onRecords != nil {
		files := make([]string, 0, len(records))
		for f := range records {
			files = append(files, f)
		}
		sort.Strings(files)
		w.onRecords(files)
	}
}

// SetDebounce sets the debounce duration for batching file changes.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// isRecordFile matches per-point record names, aoa_<value>.yaml. The other
// YAML files in the tree use fixed names without the prefix.
func isRecordFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, "aoa_") && strings.HasSuffix(base, ".yaml")
}
