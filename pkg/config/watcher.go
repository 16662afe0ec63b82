package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DestinationWatcher watches the config file for changes and triggers a
// reload callback so destination edits land without a restart.
type DestinationWatcher struct {
	configPath   string
	watcher      *fsnotify.Watcher
	reloadFunc   func(string) error
	logger       *slog.Logger
	mu           sync.RWMutex
	running      bool
	stopCh       chan struct{}
	debounceTime time.Duration
}

// NewDestinationWatcher creates a watcher for the given config file.
func NewDestinationWatcher(configPath string, reloadFunc func(string) error, logger *slog.Logger) (*DestinationWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &DestinationWatcher{
		configPath:   configPath,
		watcher:      watcher,
		reloadFunc:   reloadFunc,
		logger:       logger,
		stopCh:       make(chan struct{}),
		debounceTime: 1 * time.Second, // Debounce multiple rapid changes
	}, nil
}

// Start begins watching the configuration file for changes.
func (dw *DestinationWatcher) Start(ctx context.Context) error {
	dw.mu.Lock()
	if dw.running {
		dw.mu.Unlock()
		return nil
	}
	dw.running = true
	dw.mu.Unlock()

	// Watch the directory because some editors create temp files and rename
	// them over the original.
	configDir := filepath.Dir(dw.configPath)
	if err := dw.watcher.Add(configDir); err != nil {
		dw.mu.Lock()
		dw.running = false
		dw.mu.Unlock()
		return err
	}

	dw.logger.Info("destination watcher started", "config_path", dw.configPath)

	go dw.watchLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (dw *DestinationWatcher) Stop() error {
	dw.mu.Lock()
	if !dw.running {
		dw.mu.Unlock()
		return nil
	}
	dw.running = false
	dw.mu.Unlock()

	close(dw.stopCh)
	return dw.watcher.Close()
}

func (dw *DestinationWatcher) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer

	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}

			if !dw.isConfigFileEvent(event) {
				continue
			}

			dw.logger.Debug("config file event",
				"event", event.Op.String(),
				"file", event.Name)

			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(dw.debounceTime, dw.triggerReload)
			}

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			dw.logger.Error("destination watcher error", "error", err)

		case <-dw.stopCh:
			dw.logger.Info("destination watcher stopped")
			return

		case <-ctx.Done():
			return
		}
	}
}

func (dw *DestinationWatcher) isConfigFileEvent(event fsnotify.Event) bool {
	eventPath, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}

	configPath, err := filepath.Abs(dw.configPath)
	if err != nil {
		return false
	}

	return eventPath == configPath
}

func (dw *DestinationWatcher) triggerReload() {
	dw.logger.Info("config file changed, reloading destinations", "config_path", dw.configPath)

	start := time.Now()
	if err := dw.reloadFunc(dw.configPath); err != nil {
		dw.logger.Error("destination reload failed",
			"error", err,
			"duration", time.Since(start))
	} else {
		dw.logger.Info("destination reload completed",
			"duration", time.Since(start))
	}
}

// IsRunning reports whether the watcher is active.
func (dw *DestinationWatcher) IsRunning() bool {
	dw.mu.RLock()
	defer dw.mu.RUnlock()
	return dw.running
}
