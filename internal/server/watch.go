package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// watchStore calls onChange for every change of an item file below dirs
// until ctx is done. Directories that do not exist yet are added once
// their parent reports them created.
func watchStore(ctx context.Context, dirs []string, logger *slog.Logger, onChange func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create store watcher: %w", err)
	}

	watched := 0
	pending := make(map[string]bool)
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			logger.Debug("store directory not watched yet", "dir", dir, "error", err)
			pending[filepath.Clean(dir)] = true
			continue
		}
		watched++
	}
	if watched == 0 {
		_ = w.Close()
		return fmt.Errorf("none of the store directories could be watched: %s", strings.Join(dirs, ", "))
	}
	logger.Info("watching store for changes", "dirs", watched, "pending", len(pending))

	go runWatcher(ctx, w, pending, logger, onChange)
	return nil
}

func runWatcher(ctx context.Context, w *fsnotify.Watcher, pending map[string]bool, logger *slog.Logger, onChange func(path string)) {
	defer func() {
		_ = w.Close()
	}()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) && pending[filepath.Clean(ev.Name)] {
				if err := w.Add(ev.Name); err != nil {
					logger.Warn("failed to watch new store directory", "dir", ev.Name, "error", err)
				} else {
					delete(pending, filepath.Clean(ev.Name))
					logger.Debug("watching new store directory", "dir", ev.Name)
				}
			}
			if !relevant(ev) {
				continue
			}
			logger.Debug("store changed", "path", ev.Name, "op", ev.Op.String())
			onChange(ev.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("store watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

// relevant filters out permission changes and hidden or temporary files
func relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(ev.Name)
	return !strings.HasPrefix(base, ".") && !strings.HasSuffix(base, "~")
}
