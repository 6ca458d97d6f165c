// Package watch reports changes to a share export on disk so detection can
// be rerun when the file is rewritten.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events a single save produces.
const DefaultDebounce = 250 * time.Millisecond

var (
	// ErrNotExist indicates the watched file does not exist.
	ErrNotExist = errors.New("watched file does not exist")

	// ErrIsDirectory indicates the watched path is a directory.
	ErrIsDirectory = errors.New("watched path is a directory")
)

// Change is emitted once per debounced burst of writes to the file.
type Change struct {
	Path string
	Time time.Time
}

// FileWatcher watches one file. The parent directory is watched instead of
// the file so that editors replacing the file by rename are still seen.
type FileWatcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	out     chan Change
	stopped bool
}

// New validates path and prepares a watcher. debounce <= 0 uses DefaultDebounce.
func New(path string, debounce time.Duration) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrIsDirectory
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FileWatcher{path: abs, debounce: debounce, watcher: fw}, nil
}

// Path returns the absolute path being watched.
func (w *FileWatcher) Path() string {
	return w.path
}

// Start begins watching. The returned channel is closed when ctx is
// cancelled or the underlying watcher fails.
func (w *FileWatcher) Start(ctx context.Context) (<-chan Change, error) {
	w.out = make(chan Change, 1)
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.watcher.Close()
		close(w.out)
		return nil, err
	}
	go w.loop(ctx)
	return w.out, nil
}

func (w *FileWatcher) loop(ctx context.Context) {
	defer w.cleanup()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *FileWatcher) handle(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	w.schedule()
}

func (w *FileWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.emit)
}

func (w *FileWatcher) emit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.timer = nil
	select {
	case w.out <- Change{Path: w.path, Time: time.Now()}:
	default:
		// A change is already pending; the consumer will reread the file.
	}
}

func (w *FileWatcher) cleanup() {
	w.mu.Lock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.watcher.Close()
	close(w.out)
}
