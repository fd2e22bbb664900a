package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the webhook target lists when the config file changes,
// so destinations can be added or removed without a restart. Only the
// webhook section is hot-swapped; everything else requires a restart.
type Watcher struct {
	path    string
	runtime *Runtime
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	debounce time.Duration

	pendingMu sync.Mutex
	pending   bool
}

// NewWatcher creates a watcher for the given config file path. The watch is
// placed on the parent directory because editors and config managers
// typically replace files via rename.
func NewWatcher(path string, runtime *Runtime, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		path:     path,
		runtime:  runtime,
		watcher:  fsw,
		logger:   logger,
		debounce: 200 * time.Millisecond,
	}, nil
}

// Start begins watching. It returns after registering the watch; reloads
// happen on a background goroutine until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Config watcher started", "path", w.path, "debounce", w.debounce)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// processEvents handles fsnotify events with debouncing.
func (w *Watcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

// handleFSEvent marks a reload pending when the config file itself changed.
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.pendingMu.Lock()
	w.pending = true
	w.pendingMu.Unlock()

	w.logger.Debug("Config change detected", "path", event.Name, "op", event.Op.String())
}

// flushPending performs at most one reload per debounce tick.
func (w *Watcher) flushPending() {
	w.pendingMu.Lock()
	pending := w.pending
	w.pending = false
	w.pendingMu.Unlock()

	if !pending {
		return
	}

	cfg, err := LoadFromFile(w.path)
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous targets", "path", w.path, "error", err)
		return
	}
	cfg.applyEnv()

	w.runtime.SetWebhooks(cfg.Webhooks)
	w.logger.Info("Webhook targets reloaded",
		"general", len(cfg.Webhooks.General),
		"vendor", len(cfg.Webhooks.Vendor))
}
