package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/filter"
	"mercator-hq/callisto/pkg/sandbox"
)

// configDebounce absorbs editors that write a file in several steps.
const configDebounce = 250 * time.Millisecond

// reloadMu serialises reloads from SIGHUP and the file watcher.
var reloadMu sync.Mutex

func reloadConfig(logger *slog.Logger) {
	if cfgFile == "" {
		logger.Warn("reload requested but no config file is in use")
		return
	}
	if _, err := config.ReloadConfig(cfgFile); err != nil {
		logger.Error("config reload failed, keeping current settings", "error", err)
		return
	}
	logger.Info("config reloaded", "path", cfgFile)
}

// applyReload applies the settings that can change while serving and
// reports the sections that need a restart.
func applyReload(logger *slog.Logger, current, next *config.Config, manager *sandbox.Manager) {
	reloadMu.Lock()
	defer reloadMu.Unlock()

	if next.Sandbox.MaxJobs != current.Sandbox.MaxJobs {
		manager.SetMaxJobs(next.Sandbox.MaxJobs)
		logger.Info("sandbox job limit updated",
			"from", current.Sandbox.MaxJobs,
			"to", next.Sandbox.MaxJobs,
		)
		current.Sandbox.MaxJobs = next.Sandbox.MaxJobs
	}

	for _, name := range restartRequired(current, next) {
		logger.Warn("config section changed, restart required to apply", "section", name)
	}
}

// restartRequired lists the top level sections that differ. The sandbox
// job limit has already been applied at this point.
func restartRequired(current, next *config.Config) []string {
	sections := []struct {
		name      string
		cur, want any
	}{
		{"server", current.Server, next.Server},
		{"limits", current.Limits, next.Limits},
		{"sandbox", current.Sandbox, next.Sandbox},
		{"filter", current.Filter, next.Filter},
		{"journal", current.Journal, next.Journal},
		{"sitesync", current.SiteSync, next.SiteSync},
		{"telemetry", current.Telemetry, next.Telemetry},
	}

	var changed []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.cur, s.want) {
			changed = append(changed, s.name)
		}
	}
	return changed
}

// watchConfigFile reloads path whenever it is written, created or renamed
// into place. The directory is watched so atomic replacements are seen.
func watchConfigFile(ctx context.Context, path string, logger *slog.Logger) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	debounce := filter.NewDebouncer(configDebounce, func([]string, bool) {
		reloadConfig(logger)
	})
	defer debounce.Stop()

	logger.Info("watching config file", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("config watcher events channel closed")
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce.Add(abs)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("config watcher errors channel closed")
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}
