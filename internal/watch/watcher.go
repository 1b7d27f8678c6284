// Package watch reports changes to a single file on disk, debounced so that
// an editor's burst of events for one save produces one notification.
package watch

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/meilidash/internal/logging"
)

// DefaultDebounce is how long the watcher waits for events to settle.
const DefaultDebounce = 50 * time.Millisecond

// Watcher delivers the content of a file each time it changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	logger   *logging.Logger

	// Called with the new file content; identical rewrites are skipped
	onChange func([]byte)

	mu       sync.Mutex
	last     []byte
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the watcher logger.
func WithLogger(logger *logging.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger.WithComponent("watch")
		}
	}
}

// New creates a Watcher for path. The parent directory is watched so that
// editors which save by renaming a temporary file are still seen. The
// current content counts as already delivered.
func New(path string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		watcher:  fw,
		path:     abs,
		debounce: DefaultDebounce,
		logger:   logging.NopLogger(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if data, err := os.ReadFile(abs); err == nil {
		w.last = data
	}
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// SetChangeCallback sets the function called with new content.
func (w *Watcher) SetChangeCallback(cb func([]byte)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = cb
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	go w.watchLoop()
}

// Stop stops the watcher and waits for the loop to exit. It is safe to call
// more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	<-w.done
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C
	pending := false

	for {
		select {
		case <-w.stopCh:
			debounceTimer.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = true
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			if pending {
				pending = false
				w.deliver()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "path", w.path, "error", err.Error())
		}
	}
}

func (w *Watcher) deliver() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("failed to read watched file", "path", w.path, "error", err.Error())
		return
	}

	w.mu.Lock()
	if bytes.Equal(data, w.last) {
		w.mu.Unlock()
		return
	}
	w.last = data
	cb := w.onChange
	w.mu.Unlock()

	w.logger.Debug("file changed", "path", w.path, "bytes", len(data))
	if cb != nil {
		cb(data)
	}
}
