// Package watch runs a synchronization step whenever the working tree of a
// local store settles after a change.
//
// The watcher:
//  1. Watches the working tree recursively, skipping the .git directory
//  2. Queues changed paths and waits until no change arrived for the
//     debounce interval
//  3. Runs the sync function once for the whole batch
//  4. Stops when its context is cancelled
//
// Only one sync runs at a time. Changes that arrive during a sync start a
// new batch.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/mschirtzinger/ledgit/internal/vcs"
)

// SyncFunc is called with the paths changed since the previous call,
// relative to the watched root and slash separated.
type SyncFunc func(ctx context.Context, changed []string) error

// Config holds configuration for the watcher.
type Config struct {
	// Debounce is how long the tree must stay quiet before a sync runs
	Debounce time.Duration

	// Ignore lists directory names that are never watched
	Ignore []string

	// Logger for watcher activity
	Logger zerolog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce: 2 * time.Second,
		Ignore:   []string{".git"},
		Logger:   zerolog.Nop(),
	}
}

// Watcher batches working tree changes into sync calls.
type Watcher struct {
	root   string
	fn     SyncFunc
	config *Config

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]time.Time
	last    time.Time

	syncs int
}

// New creates a watcher over root. Use Run to start it.
func New(root string, fn SyncFunc, config *Config) (*Watcher, error) {
	if fn == nil {
		return nil, fmt.Errorf("sync function cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("cannot watch %s: not a directory", root)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		root:    abs,
		fn:      fn,
		config:  config,
		watcher: w,
		pending: make(map[string]time.Time),
	}, nil
}

// Run watches until ctx is cancelled. A failed sync is logged and
// watching continues.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.config.Logger.Info().Str("root", w.root).Dur("debounce", w.config.Debounce).Msg("watching")

	ticker := time.NewTicker(w.config.Debounce / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.config.Logger.Info().Msg("watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.config.Logger.Warn().Err(err).Msg("watcher error")

		case <-ticker.C:
			batch := w.ready(time.Now())
			if len(batch) == 0 {
				continue
			}
			w.mu.Lock()
			w.syncs++
			w.mu.Unlock()
			w.config.Logger.Debug().Int("paths", len(batch)).Msg("tree settled")
			if err := w.fn(ctx, batch); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.config.Logger.Error().Err(err).Msg("sync failed")
			}
		}
	}
}

// Syncs returns how many batches were handed to the sync function
func (w *Watcher) Syncs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncs
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	rel, ok := w.relative(event.Name)
	if !ok {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.config.Logger.Warn().Err(err).Str("dir", rel).Msg("cannot watch new directory")
			}
		}
	}
	w.config.Logger.Trace().Stringer("op", event.Op).Str("path", rel).Msg("file event")
	w.queue(rel, time.Now())
}

func (w *Watcher) queue(path string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = at
	w.last = at
}

// ready returns the queued paths, sorted, once no change arrived for the
// debounce interval, and clears the queue.
func (w *Watcher) ready(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 || now.Sub(w.last) < w.config.Debounce {
		return nil
	}
	batch := make([]string, 0, len(w.pending))
	for p := range w.pending {
		batch = append(batch, p)
	}
	clear(w.pending)
	sort.Strings(batch)
	return batch
}

// relative maps an absolute event path into the tree. Paths under ignored
// directories are dropped.
func (w *Watcher) relative(path string) (string, bool) {
	rel, err := vcs.RepoPath(w.root, path)
	if err != nil {
		return "", false
	}
	for _, part := range strings.Split(rel, "/") {
		if w.ignored(part) {
			return "", false
		}
	}
	return rel, true
}

func (w *Watcher) ignored(name string) bool {
	for _, ig := range w.config.Ignore {
		if name == ig {
			return true
		}
	}
	return false
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
