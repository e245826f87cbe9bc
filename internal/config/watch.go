package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events editors emit for one save.
const watchDebounce = 250 * time.Millisecond

// Watch reloads the config at path whenever it changes on disk and passes
// successfully parsed configs to onChange. Malformed edits are logged and
// ignored; the file is not rewritten. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file itself so that
// rename-based saves (including Save) are picked up.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(Config)) error {
	logger = logger.With("component", "config-watch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("watching configuration", "path", abs)

	var (
		pending <-chan time.Time
		timer   *time.Timer
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(watchDebounce)
			pending = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		case <-pending:
			pending = nil
			data, err := os.ReadFile(abs)
			if err != nil {
				logger.Warn("reload configuration", "error", err)
				continue
			}
			cfg, err := Parse(data)
			if err != nil {
				logger.Error("ignoring malformed configuration edit", "error", err)
				continue
			}
			logger.Info("configuration reloaded", "path", abs)
			onChange(cfg)
		}
	}
}
