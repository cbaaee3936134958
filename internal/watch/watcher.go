// Package watch notices when a file under review is removed or renamed
// outside diffview.
package watch

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Callback is called with the absolute path of a tracked file that went away.
type Callback func(path string, op fsnotify.Op)

type trackEntry struct {
	id uint64
	fn Callback
}

// Watcher watches the parent directories of tracked files. fsnotify does not
// reliably report removal of a watched file on every platform, so the
// directory is watched instead.
type Watcher struct {
	watcher *fsnotify.Watcher
	root    string
	ignore  []string

	mu      sync.RWMutex
	files   map[string][]trackEntry
	dirs    map[string]int
	nextID  uint64
	started bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a watcher for files below root. Paths matching any ignore
// glob (relative to root, doublestar syntax) are never tracked.
func New(root string, ignore []string) (*Watcher, error) {
	for _, pattern := range ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("%w: %s", doublestar.ErrBadPattern, pattern)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher: w,
		root:    root,
		ignore:  ignore,
		files:   make(map[string][]trackEntry),
		dirs:    make(map[string]int),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Ignored reports whether absPath matches an ignore glob.
func (w *Watcher) Ignored(absPath string) bool {
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Track calls fn when absPath is removed or renamed. The returned function
// stops tracking; it is safe to call more than once.
func (w *Watcher) Track(absPath string, fn Callback) (func(), error) {
	absPath = filepath.Clean(absPath)
	if w.Ignored(absPath) {
		log.Debug().Str("path", absPath).Msg("path ignored by watcher")
		return func() {}, nil
	}
	dir := filepath.Dir(absPath)

	w.mu.Lock()
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			w.mu.Unlock()
			return nil, err
		}
	}
	w.dirs[dir]++
	w.nextID++
	id := w.nextID
	w.files[absPath] = append(w.files[absPath], trackEntry{id: id, fn: fn})
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { w.untrack(absPath, id) })
	}, nil
}

func (w *Watcher) untrack(absPath string, id uint64) {
	dir := filepath.Dir(absPath)

	w.mu.Lock()
	defer w.mu.Unlock()

	entries := w.files[absPath]
	for i, e := range entries {
		if e.id == id {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(w.files, absPath)
	} else {
		w.files[absPath] = entries
	}

	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if err := w.watcher.Remove(dir); err != nil {
			log.Debug().Err(err).Str("dir", dir).Msg("failed to unwatch directory")
		}
	}
}

// Tracked reports whether absPath currently has callbacks.
func (w *Watcher) Tracked(absPath string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.files[filepath.Clean(absPath)]) > 0
}

// Start begins delivering events.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.dispatch(filepath.Clean(ev.Name), ev.Op)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("file watcher error")
		}
	}
}

func (w *Watcher) dispatch(path string, op fsnotify.Op) {
	w.mu.RLock()
	entries := append([]trackEntry(nil), w.files[path]...)
	w.mu.RUnlock()

	if len(entries) == 0 {
		return
	}
	log.Info().Str("path", path).Str("op", op.String()).Msg("file under review went away")
	for _, e := range entries {
		e.fn(path, op)
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}
