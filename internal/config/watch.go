package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"utcp/pkg/logging"
)

// DefaultDebounceInterval is how long the watcher waits after the last
// write before firing, so editors that write in several steps trigger one
// reload.
const DefaultDebounceInterval = 500 * time.Millisecond

// ProvidersWatcher watches the providers file and calls OnChange when it is
// written or recreated. The parent directory is watched so replace-by-rename
// saves are seen too.
type ProvidersWatcher struct {
	mu sync.Mutex

	path     string
	onChange func()

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	running bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	debounce      time.Duration
}

// NewProvidersWatcher creates a watcher for path. onChange runs on the
// watcher goroutine after the debounce interval.
func NewProvidersWatcher(path string, onChange func()) *ProvidersWatcher {
	return &ProvidersWatcher{
		path:     path,
		onChange: onChange,
		debounce: DefaultDebounceInterval,
	}
}

// Start begins watching. Starting a running watcher is a no-op.
func (w *ProvidersWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}

	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.running = true

	// Capture channels before releasing the lock; Stop nils the watcher.
	eventsCh := watcher.Events
	errorsCh := watcher.Errors
	go w.processEvents(eventsCh, errorsCh)

	logging.Info("ConfigLoader", "Watching %s for provider changes", w.path)
	return nil
}

func (w *ProvidersWatcher) processEvents(eventsCh <-chan fsnotify.Event, errorsCh <-chan error) {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("ConfigLoader", err, "fsnotify error watching %s", w.path)
		}
	}
}

func (w *ProvidersWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != filepath.Base(w.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	logging.Debug("ConfigLoader", "Providers file changed: %s", event.Name)
	w.triggerDebounced()
}

func (w *ProvidersWatcher) triggerDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		running := w.running
		callback := w.onChange
		w.mu.Unlock()

		if running && callback != nil {
			callback()
		}
	})
}

// Stop ends watching. Stopping a stopped watcher is a no-op.
func (w *ProvidersWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	err := w.watcher.Close()
	w.watcher = nil

	logging.Info("ConfigLoader", "Stopped watching %s", w.path)
	return err
}

// IsRunning reports whether the watcher is active.
func (w *ProvidersWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
