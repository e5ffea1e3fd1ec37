package rules

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 150 * time.Millisecond

// Watch reloads the engine whenever its rules file changes on disk. The
// parent directory is watched so editors that replace the file atomically
// are picked up. Watch blocks until ctx is done.
func Watch(ctx context.Context, engine *Engine, logger *zap.Logger) error {
	if engine.Path() == "" {
		<-ctx.Done()
		return nil
	}
	w, err := newFileWatcher(engine, logger)
	if err != nil {
		return err
	}
	return w.run(ctx)
}

// fileWatcher is registered with the OS once newFileWatcher returns.
type fileWatcher struct {
	engine  *Engine
	watcher *fsnotify.Watcher
	target  string
	log     *zap.Logger
}

func newFileWatcher(engine *Engine, logger *zap.Logger) (*fileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	target := filepath.Clean(engine.Path())
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	log := logger.With(zap.String("rules", target))
	log.Debug("watching rules file")
	return &fileWatcher{engine: engine, watcher: watcher, target: target, log: log}, nil
}

func (w *fileWatcher) run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				debounce = time.After(reloadDebounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("rules watcher error", zap.Error(err))
		case <-debounce:
			debounce = nil
			if err := w.engine.Reload(); err != nil {
				w.log.Warn("rules reload failed, keeping previous rules", zap.Error(err))
				continue
			}
			w.log.Info("rules reloaded", zap.Int("rules", w.engine.Len()))
		}
	}
}
