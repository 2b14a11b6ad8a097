package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads the config file whenever it changes and passes each valid
// result to onChange. Invalid edits are logged and skipped, so the last good
// config stays in force. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file because editors
// commonly save by writing a new file and renaming it over the old one.
func Watch(ctx context.Context, path string, log *slog.Logger, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(reloadDebounce)

		case <-debounce.C:
			cfg, err := Load(abs)
			if err != nil {
				log.Warn("config reload rejected", "path", abs, "error", err)
				continue
			}
			log.Info("config reloaded", "path", abs)
			onChange(cfg)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "error", err)
		}
	}
}
