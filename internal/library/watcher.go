package library

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher drives Store updates from filesystem events under the project
// roots. Directories are watched recursively: the initial walk registers
// every subdirectory and newly created ones are added as they appear.
type Watcher struct {
	watcher  *fsnotify.Watcher
	store    *Store
	roots    []string
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer

	logger *logrus.Entry
}

// NewWatcher creates a watcher over the given project roots. The debounce
// window absorbs the rapid write bursts editors produce on save.
func NewWatcher(store *Store, roots []string, debounce time.Duration, logger *logrus.Entry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	w := &Watcher{
		watcher:  fsw,
		store:    store,
		roots:    roots,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
		logger:   logger,
	}

	for _, root := range roots {
		w.addRecursive(root)
	}
	return w, nil
}

// Start processes events until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("watcher error: %v", err)
		case <-ctx.Done():
			_ = w.watcher.Close()
			return
		}
	}
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addRecursive(event.Name)
			return
		}
	}

	if !w.store.Matches(event.Name) {
		return
	}

	root, ok := w.rootFor(event.Name)
	if !ok {
		return
	}

	switch {
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		w.scheduleReload(event.Name, root)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.cancelReload(event.Name)
		w.store.Remove(event.Name)
	}
}

// scheduleReload arms a trailing-edge debounce timer for the path. Editors
// emit Create/Write bursts on save; only the state after the last event in
// the window is read.
func (w *Watcher) scheduleReload(path, root string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if err := w.store.UpdateLibrary(path, root); err != nil {
			w.logger.WithError(err).Warnf("library reload failed: %s", filepath.Base(path))
		}
	})
}

func (w *Watcher) cancelReload(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[path]; ok {
		timer.Stop()
		delete(w.timers, path)
	}
}

// rootFor maps a path to its owning project root (longest match wins).
func (w *Watcher) rootFor(path string) (string, bool) {
	best := ""
	for _, root := range w.roots {
		if strings.HasPrefix(path, root+string(filepath.Separator)) || path == root {
			if len(root) > len(best) {
				best = root
			}
		}
	}
	return best, best != ""
}

func (w *Watcher) addRecursive(dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.WithError(err).Warnf("failed to watch %s", path)
		}
		return nil
	})
	if err != nil {
		w.logger.WithError(err).Warnf("failed to walk %s", dir)
	}
}
