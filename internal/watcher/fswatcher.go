package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/internal/logging"
	"github.com/Aman-CERP/codeindex/internal/scanner"
)

// FSWatcher watches a project tree recursively with fsnotify. New
// directories are added as they appear; paths the scanner filter rejects
// produce no events.
type FSWatcher struct {
	fs        *fsnotify.Watcher
	root      string
	filter    *scanner.Filter
	debouncer *Debouncer
	logger    *slog.Logger

	mu     sync.Mutex
	dirs   map[string]struct{}
	files  map[string]struct{}
	closed bool
}

// NewFSWatcher validates root and registers every allowed directory.
func NewFSWatcher(root string, opts Options, logger *slog.Logger) (*FSWatcher, error) {
	opts = opts.WithDefaults()
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &cierrors.DiscoveryError{Root: root, Cause: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, &cierrors.DiscoveryError{Root: root, Cause: err}
	}
	if !info.IsDir() {
		return nil, &cierrors.DiscoveryError{Root: root, Cause: errors.New("not a directory")}
	}

	filter, err := scanner.NewFilter(abs, opts.Scanner)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &FSWatcher{
		fs:        fsw,
		root:      abs,
		filter:    filter,
		debouncer: NewDebouncer(opts.Debounce, opts.BatchBuffer, logger),
		logger:    logging.WithSource(logger, "watcher"),
		dirs:      make(map[string]struct{}),
		files:     make(map[string]struct{}),
	}
	if err := w.addTree(".", false); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("add directories to watcher: %w", err)
	}
	w.logger.Info("watching",
		slog.String("root", abs),
		slog.Int("directories", len(w.dirs)),
		slog.Duration("debounce", opts.Debounce))
	return w, nil
}

// Root returns the absolute watched root.
func (w *FSWatcher) Root() string { return w.root }

// Batches returns debounced event batches. The channel closes on Close.
func (w *FSWatcher) Batches() <-chan []Event {
	return w.debouncer.Output()
}

// Run processes notifications until ctx is done or the watcher is closed.
func (w *FSWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

// Close stops watching and closes the batch channel. Pending events are
// discarded. Safe to call multiple times.
func (w *FSWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.debouncer.Stop()
	return w.fs.Close()
}

func (w *FSWatcher) rel(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *FSWatcher) handle(ev fsnotify.Event) {
	rel, ok := w.rel(ev.Name)
	if !ok {
		return
	}

	if path.Base(rel) == ".gitignore" {
		if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) {
			w.filter.InvalidateIgnoreCache()
			w.logger.Debug("ignore rules changed", slog.String("path", rel))
		}
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Lstat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if !w.filter.Allow(rel, true) {
				return
			}
			// Files may land before the new directory is watched.
			if err := w.addTree(rel, true); err != nil {
				w.logger.Warn("cannot watch new directory",
					slog.String("path", rel),
					slog.String("error", err.Error()))
			}
			return
		}
		w.fileEvent(rel, Created)

	case ev.Has(fsnotify.Write):
		w.fileEvent(rel, Changed)

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if w.dropDir(rel) {
			_ = w.fs.Remove(ev.Name)
			return
		}
		w.fileEvent(rel, Deleted)
	}
}

func (w *FSWatcher) fileEvent(rel string, t EventType) {
	if !w.filter.Allow(rel, false) {
		return
	}
	w.mu.Lock()
	if t == Deleted {
		delete(w.files, rel)
	} else {
		w.files[rel] = struct{}{}
	}
	w.mu.Unlock()
	w.debouncer.Add(Event{Type: t, Path: rel, Timestamp: time.Now()})
}

// addTree watches rel and its allowed subdirectories. With emit set, the
// files found are reported as created.
func (w *FSWatcher) addTree(rel string, emit bool) error {
	start := filepath.Join(w.root, filepath.FromSlash(rel))
	return filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == start {
				return err
			}
			return nil
		}
		r, _ := filepath.Rel(w.root, p)
		r = filepath.ToSlash(r)

		if !d.IsDir() {
			if !d.Type().IsRegular() || !w.filter.Allow(r, false) {
				return nil
			}
			if emit {
				w.fileEvent(r, Created)
			} else {
				w.mu.Lock()
				w.files[r] = struct{}{}
				w.mu.Unlock()
			}
			return nil
		}
		if r != "." && !w.filter.Allow(r, true) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(p); err != nil {
			if p == start {
				return err
			}
			w.logger.Warn("cannot watch directory",
				slog.String("path", r),
				slog.String("error", err.Error()))
			return filepath.SkipDir
		}
		w.mu.Lock()
		w.dirs[r] = struct{}{}
		w.mu.Unlock()
		return nil
	})
}

// dropDir forgets a removed or renamed directory and reports every file
// known under it as deleted. It returns false when rel was not a watched
// directory.
func (w *FSWatcher) dropDir(rel string) bool {
	w.mu.Lock()
	if _, ok := w.dirs[rel]; !ok {
		w.mu.Unlock()
		return false
	}
	prefix := rel + "/"
	for d := range w.dirs {
		if d == rel || strings.HasPrefix(d, prefix) {
			delete(w.dirs, d)
		}
	}
	var gone []string
	for f := range w.files {
		if strings.HasPrefix(f, prefix) {
			gone = append(gone, f)
			delete(w.files, f)
		}
	}
	w.mu.Unlock()

	now := time.Now()
	for _, f := range gone {
		w.debouncer.Add(Event{Type: Deleted, Path: f, Timestamp: now})
	}
	return true
}

// WatchedDirs returns the number of directories being watched.
func (w *FSWatcher) WatchedDirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}
