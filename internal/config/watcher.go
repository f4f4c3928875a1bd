package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a configuration file and calls its handler when the
// file changes; the handler does any reloading itself. Editor save
// patterns (rename + create) are debounced into one reload.
type Watcher struct {
	path     string
	debounce time.Duration
	handler  func()

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}

	logger *slog.Logger
}

// NewWatcher creates a watcher for the config file at path. The handler
// runs after each debounced change.
func NewWatcher(path string, handler func(), logger *slog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		debounce: 500 * time.Millisecond,
		handler:  handler,
		logger:   logger,
	}
}

// Start begins watching the configuration file for changes.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(w.path); err != nil {
		watcher.Close()
		return err
	}

	w.mu.Lock()
	w.watcher = watcher
	w.done = make(chan struct{})
	w.mu.Unlock()

	w.logger.Debug("config watcher started", "path", w.path)
	go w.watch(watcher)

	return nil
}

// Stop stops watching and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return
	}
	w.watcher.Close()
	<-w.done
	w.watcher = nil
}

func (w *Watcher) watch(watcher *fsnotify.Watcher) {
	defer close(w.done)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			w.logger.Info("configuration changed, reloading", "path", w.path)
			w.handler()

			// The file may have been replaced; re-arm the watch.
			_ = watcher.Add(w.path)
		}
	}
}
