// Package watcher schedules index rebuilds when watched image trees change.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 2 * time.Second

// Watcher watches directory trees with fsnotify and invokes a rebuild
// callback after changes settle. The index snapshot is immutable, so any
// relevant change (image created, written, removed, renamed) schedules one
// full rebuild rather than an incremental update; a debounce window collapses
// bursts of events into a single rebuild.
type Watcher struct {
	roots      []string
	extensions map[string]struct{}
	excluded   []string
	onRebuild  func()
	debounce   time.Duration

	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	timer    *time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
	logger   *zap.Logger // optional
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over roots. extensions filter which files
// count as images (empty = all); excluded are folder-name fragments whose
// subtrees are not watched. onRebuild is called once per settled change
// burst.
func NewWatcher(roots, extensions, excluded []string, onRebuild func(), opts ...Option) *Watcher {
	w := &Watcher{
		roots:     roots,
		onRebuild: onRebuild,
		debounce:  defaultDebounce,
		done:      make(chan struct{}),
	}
	w.extensions = make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		w.extensions[strings.TrimPrefix(strings.ToLower(e), ".")] = struct{}{}
	}
	for _, name := range excluded {
		w.excluded = append(w.excluded, strings.ToLower(name))
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	if w.logger != nil {
		w.logger.Debug("watcher starting", zap.Strings("roots", w.roots))
	}
	for _, root := range w.roots {
		if err := w.addTreeLocked(root); err != nil {
			_ = w.watcher.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if w.excludedPath(path) {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	}
	if ev.Op.Has(fsnotify.Create) {
		// New directories are watched immediately so images dropped into
		// them keep triggering rebuilds.
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.mu.Lock()
			if w.watcher != nil {
				_ = w.addTreeLocked(path)
			}
			w.mu.Unlock()
			w.scheduleRebuild()
			return
		}
	}
	if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
		// The entry is gone; when it was a watched directory its images
		// went with it, so a missing extension match must still rebuild.
		if filepath.Ext(path) == "" || w.matchExtension(path) {
			w.scheduleRebuild()
		}
		return
	}
	if w.matchExtension(path) {
		w.scheduleRebuild()
	}
}

// scheduleRebuild (re)arms the debounce timer. The callback fires once per
// burst of events, debounce after the last one.
func (w *Watcher) scheduleRebuild() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if w.logger != nil {
			w.logger.Debug("watcher triggering rebuild")
		}
		if w.onRebuild != nil {
			w.onRebuild()
		}
	})
}

func (w *Watcher) matchExtension(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	_, ok := w.extensions[ext]
	return ok
}

// excludedPath reports whether any path element contains an excluded folder
// name fragment, matching the scan-time exclusion rule.
func (w *Watcher) excludedPath(path string) bool {
	if len(w.excluded) == 0 {
		return false
	}
	for _, elem := range strings.Split(filepath.ToSlash(filepath.Dir(path)), "/") {
		lower := strings.ToLower(elem)
		for _, name := range w.excluded {
			if strings.Contains(lower, name) {
				return true
			}
		}
	}
	return false
}

// addTreeLocked registers root and every non-excluded subdirectory with the
// underlying fsnotify watcher. Caller holds w.mu.
func (w *Watcher) addTreeLocked(root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, matching scan behavior.
			if path == root {
				return err
			}
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.excludedPath(filepath.Join(path, "x")) {
			return fs.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			if w.logger != nil {
				w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
}

// Stop stops the watcher and releases resources. A pending debounced rebuild
// is cancelled.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
