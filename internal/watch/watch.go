// Package watch re-indexes folders when files under them change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kalambet/smartfile/internal/apperr"
	"github.com/kalambet/smartfile/internal/extract"
	"github.com/kalambet/smartfile/internal/indexer"
)

// DefaultDebounce is how long the watcher waits after the last change before
// requesting a re-index.
const DefaultDebounce = 2 * time.Second

// Starter begins an indexing run.
type Starter interface {
	Start(ctx context.Context, paths []string) (indexer.Status, error)
}

// Remover forgets files that disappeared from disk.
type Remover interface {
	DeleteFileByPath(path string) error
}

// Watcher watches folder trees and asks the Starter to re-index a root after
// supported files under it change. Bursts of events are coalesced.
type Watcher struct {
	starter  Starter
	remover  Remover
	logger   *slog.Logger
	debounce time.Duration

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	roots   []string
	pending map[string]bool
	timer   *time.Timer

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a re-index is requested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithRemover deletes index entries for files removed from disk.
func WithRemover(r Remover) Option {
	return func(w *Watcher) { w.remover = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a Watcher and starts its event loop. Call Close to stop it.
func New(starter Starter, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}
	w := &Watcher{
		starter:  starter,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		fsw:      fsw,
		pending:  make(map[string]bool),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w, nil
}

// Add watches root and every directory below it.
func (w *Watcher) Add(root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if err := w.addTree(root); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.roots {
		if r == root {
			return nil
		}
	}
	w.roots = append(w.roots, root)
	// Longest first so the innermost root owns a path.
	sort.Slice(w.roots, func(i, j int) bool { return len(w.roots[i]) > len(w.roots[j]) })
	w.logger.Info("watching folder", "path", root)
	return nil
}

// Roots returns the watched root folders.
func (w *Watcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	select {
	case <-w.stopCh:
		return nil
	default:
		close(w.stopCh)
	}
	err := w.fsw.Close()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	<-w.doneCh
	return err
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("watching new directory", "path", event.Name, "error", err)
			}
			// Files created together with the directory may predate the watch.
			w.schedule(event.Name)
			return
		}
	}

	if !extract.Supported(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if w.remover != nil {
			if err := w.remover.DeleteFileByPath(event.Name); err != nil {
				w.logger.Warn("forgetting removed file", "path", event.Name, "error", err)
			}
		}
		// A rename also produces a Create for the new name.
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		w.schedule(event.Name)
	}
}

// schedule marks the root owning path as pending and restarts the debounce
// timer.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	root := w.rootFor(path)
	if root == "" {
		return
	}
	w.pending[root] = true

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) rootFor(path string) string {
	for _, r := range w.roots {
		if path == r || strings.HasPrefix(path, r+string(filepath.Separator)) {
			return r
		}
	}
	return ""
}

// flush requests a re-index of every pending root. When the runner is busy
// the roots stay pending and are retried after the next change.
func (w *Watcher) flush() {
	select {
	case <-w.stopCh:
		return
	default:
	}

	w.mu.Lock()
	roots := make([]string, 0, len(w.pending))
	for r := range w.pending {
		roots = append(roots, r)
	}
	w.mu.Unlock()
	if len(roots) == 0 {
		return
	}
	sort.Strings(roots)

	_, err := w.starter.Start(context.Background(), roots)
	switch {
	case err == nil:
		w.logger.Info("re-indexing changed folders", "folders", roots)
	case errors.Is(err, apperr.ErrConflict):
		w.logger.Info("indexing busy, will retry on next change", "folders", roots)
		return
	default:
		w.logger.Warn("re-index request failed", "folders", roots, "error", err)
	}

	w.mu.Lock()
	for _, r := range roots {
		delete(w.pending, r)
	}
	w.mu.Unlock()
}
