package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events editors produce for one save.
const watchDebounce = 200 * time.Millisecond

// Watch reloads the config whenever the file at path changes and passes the
// result to onChange. It watches the parent directory so that editors which
// save by rename are still seen. Watch blocks until ctx is cancelled.
// Reload failures are logged and skipped; the previous settings stay in effect.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	if onChange == nil {
		return fmt.Errorf("watch config: onChange is required")
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch config: resolve path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch config dir %s: %w", filepath.Dir(target), err)
	}
	slog.Debug("[config] watching config file", "path", target)

	debounce := time.NewTimer(watchDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			debounce.Reset(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("[config] watcher error", "error", err)
		case <-debounce.C:
			cfg, err := Load(target)
			if err != nil {
				slog.Warn("[config] reload failed, keeping previous settings", "path", target, "error", err)
				continue
			}
			slog.Info("[config] reloaded", "path", target, "logLevel", cfg.LogLevel)
			onChange(cfg)
		}
	}
}
