package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"pagescope/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors produce on save.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads path whenever it is written and hands the new config to fn.
// It watches the parent directory so atomic rename-on-save is seen.
// Blocks until ctx is done. Invalid files are logged and skipped.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	var pending <-chan time.Time
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
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(reloadDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.BootWarn("config watcher error: %v", err)

		case <-pending:
			pending = nil
			cfg, err := Load(abs)
			if err != nil {
				logging.BootWarn("config reload failed: %v", err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				logging.BootWarn("config reload rejected: %v", err)
				continue
			}
			logging.Boot("config reloaded from %s (debug_mode=%v)", abs, cfg.DebugMode)
			fn(cfg)
		}
	}
}
