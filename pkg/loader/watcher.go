package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rulekit/rulekit/pkg/engine"
)

// Watch starts watching paths for rule file changes and triggers reload on
// change. The reload function receives the full reloaded rule set.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]*engine.Rule) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			if err := l.watchDirectory(path); err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
			}
		} else {
			if err := watcher.Add(path); err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch file")
			}
		}
	}

	go l.processEvents(ctx, paths, reloadFn)

	l.logger.Info().
		Int("paths", len(paths)).
		Msg("Started watching rule paths")

	return nil
}

// watchDirectory adds a directory tree to the watcher.
func (l *Loader) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return l.watcher.Add(path)
		}

		return nil
	})
}

// processEvents processes file system events and triggers debounced reloads.
func (l *Loader) processEvents(ctx context.Context, paths []string, reloadFn func([]*engine.Rule) error) {
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if l.watcher != nil {
				_ = l.watcher.Close()
			}
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && ruleFile(event.Name) {
				l.logger.Debug().
					Str("file", event.Name).
					Str("op", event.Op.String()).
					Msg("Rule file changed")

				l.mu.Lock()
				delete(l.cache, event.Name)
				l.mu.Unlock()

				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadTimer = time.AfterFunc(reloadDelay, func() {
					if err := l.triggerReload(ctx, paths, reloadFn); err != nil {
						l.logger.Error().Err(err).Msg("Failed to reload rules")
					}
				})
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// triggerReload reloads all rules from watched paths and hands them to the
// reload function.
func (l *Loader) triggerReload(ctx context.Context, paths []string, reloadFn func([]*engine.Rule) error) error {
	l.logger.Info().Msg("Reloading rules...")

	rules, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload rules: %w", err)
	}

	if err := reloadFn(rules); err != nil {
		return fmt.Errorf("failed to apply reloaded rules: %w", err)
	}

	l.logger.Info().
		Int("count", len(rules)).
		Msg("Rules reloaded successfully")

	return nil
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
