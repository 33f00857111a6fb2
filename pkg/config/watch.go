package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/padron/pkg/observability"
)

// WatchProfile reloads the profile at path whenever it is written and passes
// the new configuration to onChange. Invalid profiles are logged and
// ignored. It blocks until ctx is done.
func WatchProfile(ctx context.Context, path string, logger *observability.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// editors replace files by rename, so the directory is watched
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	logger.WithField("profile", target).Info("Watching profile for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			cfg, err := LoadConfig(target)
			if err != nil {
				logger.WithError(err).Warn("Ignoring invalid profile change")
				continue
			}
			logger.WithField("profile", target).Info("Profile reloaded")
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Profile watcher error")
		}
	}
}

// ApplyLogLevel returns an onChange callback that updates logger's level
func ApplyLogLevel(logger *observability.Logger) func(*Config) {
	return func(cfg *Config) {
		level := cfg.Observability.Level()
		if level == logger.Level() {
			return
		}
		logger.SetLevel(level)
		logger.WithField("level", level.String()).Info("Log level changed")
	}
}
