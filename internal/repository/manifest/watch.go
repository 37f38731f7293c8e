package manifest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch перечитывает файл при изменении, пока не отменен ctx.
// Следим за каталогом: редакторы и ConfigMap подменяют файл через rename.
func (s *Store) Watch(ctx context.Context, logger *zap.Logger) error {
	if s.path == "" {
		return fmt.Errorf("manifest: store has no backing file")
	}
	logger = logger.Named("manifest")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("manifest: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("manifest: watch %s: %w", s.path, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(s.path)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				// Debounce: даем записи завершиться
				time.Sleep(100 * time.Millisecond)
				if err := s.Reload(); err != nil {
					logger.Error("manifest reload rejected, keeping previous snapshot", zap.String("path", s.path), zap.Error(err))
					continue
				}
				logger.Info("manifest reloaded", zap.String("path", s.path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("manifest watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
