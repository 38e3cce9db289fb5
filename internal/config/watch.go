package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// WatchTables reloads tables.yaml on change and calls onUpdate with the latest config.
// It performs an initial load before entering the watch loop. Invalid edits are
// logged and skipped so the last good inventory stays in effect.
func WatchTables(ctx context.Context, path string, logger *zerolog.Logger, onUpdate func(*TablesConfig)) error {
	if path == "" {
		path = "configs/tables.yaml"
	}

	cfg, err := LoadTablesConfig(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Editors replace files on save, so watch the directory rather than the file.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()

		// Saves arrive as bursts of events; reload once the burst settles.
		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				debounce = time.After(200 * time.Millisecond)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error().Err(err).Msg("tables watcher error")
			case <-debounce:
				debounce = nil
				cfg, err := LoadTablesConfig(path)
				if err != nil {
					logger.Error().Err(err).Str("path", path).Msg("ignoring invalid tables config")
					continue
				}
				if onUpdate != nil {
					onUpdate(cfg)
				}
			}
		}
	}()

	return nil
}
