// Package watcher provides debounced bundle-change detection.
//
// The watcher observes the serving directory (non-recursively) and enqueues
// a reload through the control plane whenever bundle.js settles after a
// write burst. Build tools rewrite the bundle in several chunks, so events
// are debounced before a reload fires.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/pcf-tools/pcf-dev-proxy/internal/hmr"
)

// DebounceInterval is how long the bundle must stay quiet before a reload
// is enqueued.
const DebounceInterval = 500 * time.Millisecond

// BundleWatcher watches a serving directory for bundle.js changes.
type BundleWatcher struct {
	// dir is the serving directory.
	dir string

	// controlName is the control reloads are enqueued for.
	controlName string

	// dispatcher receives the enqueued reloads.
	dispatcher *hmr.Dispatcher

	fsw *fsnotify.Watcher

	mu       sync.Mutex
	debounce *time.Timer
	closed   bool
}

// New creates a bundle watcher. Call Start to begin watching.
//
// Parameters:
//   - dir: The serving directory
//   - controlName: The control identifier for enqueued reloads
//   - dispatcher: The control-plane dispatcher
//
// Returns:
//   - *BundleWatcher: A new watcher instance
func New(dir, controlName string, dispatcher *hmr.Dispatcher) *BundleWatcher {
	return &BundleWatcher{
		dir:         dir,
		controlName: controlName,
		dispatcher:  dispatcher,
	}
}

// Start begins watching the serving directory.
//
// Returns:
//   - error: When the directory watch cannot be established
func (w *BundleWatcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()

	go w.loop(fsw)
	log.Debug("Bundle watcher started", "dir", w.dir)
	return nil
}

// Close stops the watcher and cancels any pending debounce. Safe to call
// more than once.
func (w *BundleWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

// loop consumes watcher events until the watcher closes.
func (w *BundleWatcher) loop(fsw *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != "bundle.js" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.bump()

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Warn("Watcher error", "err", err)
		}
	}
}

// bump resets the debounce timer; the reload fires once the bundle is quiet.
func (w *BundleWatcher) bump() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(DebounceInterval, w.fire)
}

// fire enqueues one reload for the watched control.
func (w *BundleWatcher) fire() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.debounce = nil
	w.mu.Unlock()

	msg := w.dispatcher.EnqueueReload(hmr.ReloadRequest{
		ControlName: w.controlName,
		BuildId:     time.Now().UTC().Format(time.RFC3339),
		Trigger:     "watch-bundle",
	})
	log.Debug("Bundle change enqueued", "id", msg.Id)
}
