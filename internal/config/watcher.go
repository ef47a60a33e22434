// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/GioPalusa/MeGPT/internal/logger"
)

// DefaultDebounce coalesces the burst of events editors produce on save.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes each
// valid result to onChange. Invalid files are logged and skipped, so the
// caller keeps its previous snapshot. Watch returns once the watcher is
// running; it stops when ctx is done.
//
// The parent directory is watched rather than the file itself so that
// atomic saves (write temp, rename) are seen.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return WatchWithDebounce(ctx, path, DefaultDebounce, onChange)
}

// WatchWithDebounce is Watch with an explicit debounce interval.
func WatchWithDebounce(ctx context.Context, path string, debounce time.Duration, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	go processEvents(ctx, watcher, abs, debounce, onChange)
	return nil
}

func processEvents(ctx context.Context, watcher *fsnotify.Watcher, path string, debounce time.Duration, onChange func(*Config)) {
	defer watcher.Close()

	// Stopped timer; armed by the first relevant event.
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", "err", err)

		case <-timer.C:
			cfg, err := LoadOrDefault(path)
			if err != nil {
				logger.Warn("config reload failed, keeping previous settings", "path", path, "err", err)
				continue
			}
			logger.Debug("config reloaded", "path", path)
			onChange(cfg)
		}
	}
}
