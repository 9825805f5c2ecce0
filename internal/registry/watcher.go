package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the registry when the overrides file changes.
type Watcher struct {
	registry *Registry
	path     string
	debounce time.Duration
	onReload func()
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewWatcher creates a watcher for the registry's overrides file.
// onReload, if set, runs after every successful reload.
func NewWatcher(r *Registry, path string, onReload func(), logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		registry: r,
		path:     path,
		debounce: 500 * time.Millisecond,
		onReload: onReload,
		logger:   logger,
	}
}

// Start watches the directory holding the overrides file. Editors commonly
// replace files by rename, so the file itself is not watched.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx, fw)
	return nil
}

// Stop stops watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	defer close(w.done)
	defer func() { _ = fw.Close() }()

	var timer *time.Timer
	var fire <-chan time.Time
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case evt, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("overrides watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			if err := w.registry.Reload(); err != nil {
				w.logger.Error("registry reload failed", zap.Error(err))
				continue
			}
			if w.onReload != nil {
				w.onReload()
			}
		}
	}
}
