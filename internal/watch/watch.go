// Package watch pushes a script whenever its draft tree changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/schaermu/b6psync/internal/location"
	"github.com/schaermu/b6psync/internal/script"
)

// DefaultDebounce is the quiet period after the last change before a push
const DefaultDebounce = 2 * time.Second

// Action is run for every settled batch of changes
type Action func(ctx context.Context) error

// Watcher watches a script's draft tree
type Watcher struct {
	root     *script.Root
	action   Action
	logger   *slog.Logger
	debounce *debouncer

	runMu      sync.Mutex // guards runRunning and runPending
	runRunning bool       // whether the action is currently running
	runPending bool       // whether another run is needed after the current one
}

// debouncer delays a callback until triggers stop arriving
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// New creates a watcher that runs action after changes settle for delay
func New(root *script.Root, action Action, delay time.Duration, logger *slog.Logger) *Watcher {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Watcher{
		root:     root,
		action:   action,
		logger:   logger,
		debounce: &debouncer{delay: delay},
	}
}

// Run performs an initial run, then watches the draft tree until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("performing initial push before watching")
	w.perform(ctx)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer func() {
		_ = fsw.Close()
	}()

	if err := w.addTree(fsw, w.root.DraftPath()); err != nil {
		return err
	}
	w.logger.Info("watching draft tree", "path", w.root.DraftPath(), "debounce", w.debounce.delay)

	for {
		select {
		case <-ctx.Done():
			w.debounce.stop()
			w.logger.Info("stopping watcher")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && w.relevant(event) {
					if err := w.addTree(fsw, event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("draft changed", "path", event.Name, "op", event.Op.String())
			w.debounce.trigger(func() {
				w.perform(ctx)
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

// relevant filters out build output, excluded files and permission-only
// changes.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}

	loc, err := location.Parse(event.Name)
	if err != nil || !loc.SameRoot(w.root.Location()) || loc.Zone != location.ZoneDraft {
		return false
	}
	if loc.HasPrefix(script.BuildDirName) {
		return false
	}
	return !w.root.IsIgnored(loc)
}

// addTree watches dir and every directory below it except build output.
// fsnotify does not recurse on its own.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir && errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("draft directory %s does not exist", dir)
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == script.BuildDirName {
			return filepath.SkipDir
		}
		if err := fsw.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch draft tree: %w", err)
	}
	return nil
}

// perform runs the action with single-flight semantics. If a run is already
// in progress, at most one additional run is queued; further requests are
// dropped.
func (w *Watcher) perform(ctx context.Context) {
	w.runMu.Lock()
	if w.runRunning {
		w.runPending = true
		w.runMu.Unlock()
		w.logger.Info("push already in progress, queuing pending re-run")
		return
	}
	w.runRunning = true
	w.runMu.Unlock()

	for {
		if ctx.Err() != nil {
			w.runMu.Lock()
			w.runRunning = false
			w.runPending = false
			w.runMu.Unlock()
			return
		}

		if err := w.action(ctx); err != nil {
			w.logger.Error("push failed", "error", err)
		} else {
			w.logger.Info("push completed")
		}

		w.runMu.Lock()
		if !w.runPending {
			w.runRunning = false
			w.runMu.Unlock()
			break
		}
		w.runPending = false
		w.runMu.Unlock()

		w.logger.Info("re-running push due to pending request")
	}
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.callback = nil
}
