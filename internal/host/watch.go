package host

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the scene document at path whenever it is written or
// replaced and applies the difference to s, which turns every edit into
// host notifications. It blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file so editors that
// save by rename keep being observed. A document that fails to parse is
// logged and ignored; the scene keeps its previous state.
func Watch(ctx context.Context, path string, s *MemScene, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	logger.Info("watching scene file", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			reload(abs, s, logger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("scene watcher error", "path", abs, "error", err)
		}
	}
}

func reload(path string, s *MemScene, logger *slog.Logger) {
	doc, err := LoadDocument(path)
	if err != nil {
		logger.Warn("scene reload failed, keeping previous state", "path", path, "error", err)
		return
	}
	if len(doc.Nodes) == 0 {
		// Editors truncate before writing; an empty read is not an edit.
		logger.Debug("empty scene document ignored", "path", path)
		return
	}
	if err := s.Apply(doc); err != nil {
		logger.Warn("scene apply failed", "path", path, "error", err)
		return
	}
	logger.Debug("scene reloaded", "path", path)
}
