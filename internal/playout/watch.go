package playout

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collapses the burst of events an editor produces when
// saving a file.
const DefaultDebounce = 100 * time.Millisecond

// Watch reloads the scene at path whenever it changes and passes each
// valid scene to apply. A scene that fails to load is logged and the
// previous one stays applied. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, debounce time.Duration, log *zap.Logger, apply func(*Scene)) error {
	if log == nil {
		log = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("scene watch has ended", zap.String("path", path))
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("scene watch error", zap.Error(err))
		case <-timer.C:
			sc, err := Load(abs)
			if err != nil {
				log.Error("scene reload failed, keeping previous scene", zap.Error(err))
				continue
			}
			log.Info("scene reloaded", zap.String("path", path))
			apply(sc)
		}
	}
}
