// Package watch reports workspaces that appear or change under a root so
// they can be graded as submissions arrive.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/JacobLinCool/cpta/internal/workspace"
)

// DefaultQuiet is how long a workspace must see no events before it is
// reported.
const DefaultQuiet = 2 * time.Second

// Watcher watches a workspace root. Only raw submissions are watched;
// the artifacts grading writes never trigger a report.
type Watcher struct {
	root    string
	watcher *fsnotify.Watcher
	onReady func(names []string)
	quiet   time.Duration
	tick    time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	pending map[string]time.Time // workspace name -> last event

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher for root. onReady receives the sorted names of
// workspaces that have a raw submission and have been quiet for quiet.
func New(root string, quiet time.Duration, logger zerolog.Logger, onReady func(names []string)) (*Watcher, error) {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		root:    root,
		watcher: fsw,
		onReady: onReady,
		quiet:   quiet,
		tick:    min(quiet/4, 500*time.Millisecond),
		logger:  logger,
		pending: make(map[string]time.Time),
	}, nil
}

// Start adds the existing directories and begins processing events.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(2)
	go w.eventLoop(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops watching. Reports already being delivered finish first.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return w.watcher.Close()
}

// workspaceOf returns the workspace a path belongs to and whether the path
// should be watched at all.
func (w *Watcher) workspaceOf(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	name := parts[0]
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return "", false
	}
	if len(parts) > 1 && parts[1] != workspace.StageRaw.Dir() {
		return "", false
	}
	return name, true
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root {
			if _, ok := w.workspaceOf(path); !ok {
				return filepath.SkipDir
			}
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("failed to watch directory")
		}
		return nil
	})
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
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
			w.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name, ok := w.workspaceOf(event.Name)
	if !ok {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
			}
		}
	}

	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
		w.mu.Lock()
		w.pending[name] = time.Now()
		w.mu.Unlock()
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

// flush reports the workspaces that have settled by now.
func (w *Watcher) flush(now time.Time) {
	w.mu.Lock()
	var ready []string
	for name, last := range w.pending {
		if now.Sub(last) < w.quiet {
			continue
		}
		delete(w.pending, name)
		if workspace.New(w.root, name).Stage() >= workspace.StageRaw {
			ready = append(ready, name)
		}
	}
	w.mu.Unlock()

	if len(ready) == 0 || w.onReady == nil {
		return
	}
	sort.Strings(ready)
	w.logger.Info().Strs("workspaces", ready).Msg("workspaces ready")
	w.onReady(ready)
}
