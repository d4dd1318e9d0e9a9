package registry

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 100 * time.Millisecond

// Watcher reloads the registry when either config file changes on disk.
// Editors and config pushes tend to emit bursts of write events, so reloads
// are debounced: the registry re-parses once per quiet period, not once per
// event.
type Watcher struct {
	reg     *Registry
	log     *slog.Logger
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher builds a watcher over the registry's config directory.
func NewWatcher(reg *Registry, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.With("component", "registry")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(reg.opts.Dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config dir %q: %w", reg.opts.Dir, err)
	}
	return &Watcher{
		reg:     reg,
		log:     logger,
		watcher: fsw,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins processing filesystem events until Close is called.
func (w *Watcher) Start() {
	go w.run()
	w.log.Info("registry config watcher started", "dir", w.reg.opts.Dir)
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevantEvent(event) {
				continue
			}
			w.log.Debug("registry config changed", "path", event.Name, "op", event.Op.String())
			w.trigger()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("registry config watcher error", "error", err)
		}
	}
}

// trigger resets the debounce timer; the reload fires after a quiet period.
func (w *Watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceInterval, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		w.reg.Reload()
	})
}

// Close stops the watcher and cancels any pending reload.
func (w *Watcher) Close() error {
	close(w.stopCh)
	err := w.watcher.Close()
	<-w.doneCh

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	return err
}

// relevantEvent keeps only mutations of the two registry config files.
func relevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(event.Name)
	return base == registryFile || base == installedFile
}
