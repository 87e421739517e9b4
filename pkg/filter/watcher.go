package filter

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Invalidator is the part of CachedSource a Watcher drives.
type Invalidator interface {
	Invalidate(dir string)
	InvalidateAll()
}

// WatcherConfig contains configuration for the rule file watcher.
type WatcherConfig struct {
	// Root is the serving root to watch recursively
	Root string

	// FileName is the rule file name (default: .passfilter)
	FileName string

	// Debounce is the quiet period before pending invalidations are
	// applied (default: 100ms)
	Debounce time.Duration

	// SkipDirs are directory names never descended into
	SkipDirs []string
}

// Watcher invalidates cached rules when rule files or the directory tree
// change.
type Watcher struct {
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	config   WatcherConfig
	cache    Invalidator
	debounce *Debouncer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a watcher feeding cache.
func NewWatcher(config WatcherConfig, cache Invalidator, logger *slog.Logger) (*Watcher, error) {
	if config.FileName == "" {
		config.FileName = ".passfilter"
	}
	if config.Debounce <= 0 {
		config.Debounce = 100 * time.Millisecond
	}
	if config.SkipDirs == nil {
		config.SkipDirs = []string{".git"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		watcher: fsw,
		logger:  logger.With("component", "filter-watcher"),
		config:  config,
		cache:   cache,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	w.debounce = NewDebouncer(config.Debounce, w.flush)
	return w, nil
}

// Watch processes events until ctx is cancelled or Stop is called.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer close(w.doneCh)

	if err := w.addTree(w.config.Root); err != nil {
		return fmt.Errorf("failed to watch root: %w", err)
	}

	w.logger.Info("rule watcher started",
		"root", w.config.Root,
		"debounce_ms", w.config.Debounce.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-w.stopCh:
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("rule watcher error", "error", err)
		}
	}
}

// Stop stops the watcher and drops pending invalidations.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	w.debounce.Stop()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	if filepath.Base(event.Name) == w.config.FileName {
		w.debounce.Add(w.urlDir(filepath.Dir(event.Name)))
		return
	}

	// Directory changes can reveal or hide whole subtrees of rule files.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			w.debounce.AddAll()
		}
		return
	}
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.debounce.AddAll()
	}
}

func (w *Watcher) flush(dirs []string, all bool) {
	if all {
		w.cache.InvalidateAll()
		w.logger.Debug("invalidated all cached rules")
		return
	}
	for _, dir := range dirs {
		w.cache.Invalidate(dir)
	}
	w.logger.Debug("invalidated cached rules", "dirs", dirs)
}

// urlDir converts a directory below the root to the URL form used by
// Levels.
func (w *Watcher) urlDir(dir string) string {
	rel, err := filepath.Rel(w.config.Root, dir)
	if err != nil || rel == "." {
		return ""
	}
	return "/" + filepath.ToSlash(rel)
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && w.skip(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch directory %q: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) skip(name string) bool {
	for _, s := range w.config.SkipDirs {
		if s == name {
			return true
		}
	}
	return false
}

// Debouncer collects keys and hands them over in one batch once no new key
// arrived for the interval.
type Debouncer struct {
	interval time.Duration
	fn       func(keys []string, all bool)

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]struct{}
	all     bool
	stopped bool
}

// NewDebouncer creates a debouncer calling fn with each batch.
func NewDebouncer(interval time.Duration, fn func(keys []string, all bool)) *Debouncer {
	return &Debouncer{
		interval: interval,
		fn:       fn,
		pending:  make(map[string]struct{}),
	}
}

// Add queues key and restarts the quiet period.
func (d *Debouncer) Add(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending[key] = struct{}{}
	d.resetLocked()
}

// AddAll marks the batch as covering everything.
func (d *Debouncer) AddAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.all = true
	d.resetLocked()
}

func (d *Debouncer) resetLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped || (len(d.pending) == 0 && !d.all) {
		d.mu.Unlock()
		return
	}
	keys := make([]string, 0, len(d.pending))
	for k := range d.pending {
		keys = append(keys, k)
	}
	all := d.all
	d.pending = make(map[string]struct{})
	d.all = false
	d.mu.Unlock()

	d.fn(keys, all)
}

// Stop cancels any pending batch.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
}
