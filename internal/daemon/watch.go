package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"go.zerobridge.dev/zbridge/internal/core"
)

const settingsDebounce = 500 * time.Millisecond

// watchFiles wakes the loop when the state file changes and reloads the
// settings file after it settles. Directories are watched rather than the
// files so atomic renames by editors and the config tool are seen.
func (d *Daemon) watchFiles(ctx context.Context, settingsPath, statePath string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create file watcher", "error", err)
		return
	}

	dirs := map[string]bool{
		filepath.Dir(settingsPath): true,
		filepath.Dir(statePath):    true,
	}
	watched := 0
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			slog.Debug("Not watching directory", "path", dir, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		watcher.Close()
		return
	}

	var reloadTimer *time.Timer
	var reloadMutex sync.Mutex

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				reloadMutex.Lock()
				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadMutex.Unlock()
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}

				switch filepath.Clean(event.Name) {
				case filepath.Clean(statePath):
					slog.Debug("State file changed", "event", event.Op.String())
					d.wake()

				case filepath.Clean(settingsPath):
					slog.Debug("Settings file changed, will reload", "event", event.Op.String())
					reloadMutex.Lock()
					if reloadTimer != nil {
						reloadTimer.Stop()
					}
					reloadTimer = time.AfterFunc(settingsDebounce, func() {
						d.loadSettings(settingsPath)
					})
					reloadMutex.Unlock()
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("File watcher error", "error", err)
			}
		}
	}()

	slog.Info("Watching configuration files for changes")
}

// loadSettings parses the settings file and hands it to the loop. An invalid
// file keeps the current settings; a deleted file restores the defaults.
func (d *Daemon) loadSettings(path string) {
	if !core.ConfigExists(path) {
		d.pendingCfg.Store(core.GetDefaultConfig())
		d.wake()
		return
	}
	cfg, err := core.LoadConfig(path)
	if err != nil {
		slog.Error("Settings file has errors, keeping previous settings", "file", path, "error", err)
		return
	}
	d.pendingCfg.Store(cfg)
	d.wake()
}
