package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceDelay = 500 * time.Millisecond

// ConfigWatcher watches the configuration directory and reloads the
// configuration when a file changes. Only settings that are safe to change
// at runtime are acted on by subscribers (poll interval, log level).
type ConfigWatcher struct {
	loader    *Loader
	config    *Config
	callbacks []func(*Config)
	mu        sync.RWMutex
	logger    *zap.Logger
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stopOnce  sync.Once
	reloadMu  sync.Mutex
}

// NewConfigWatcher creates a watcher over the loader's directory. A missing
// directory disables watching without failing.
func NewConfigWatcher(loader *Loader, initial *Config, logger *zap.Logger) (*ConfigWatcher, error) {
	w := &ConfigWatcher{
		loader:    loader,
		config:    initial,
		callbacks: make([]func(*Config), 0),
		logger:    logger,
		stopCh:    make(chan struct{}),
	}

	if _, err := os.Stat(loader.BasePath()); err != nil {
		logger.Info("Configuration hot reloading disabled",
			zap.String("dir", loader.BasePath()),
			zap.Error(err),
		)
		return w, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(loader.BasePath()); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch config dir: %w", err)
	}
	w.watcher = fsWatcher

	go w.watchLoop()

	logger.Info("Configuration hot reloading enabled",
		zap.String("dir", loader.BasePath()),
		zap.String("environment", string(initial.Environment)),
	)

	return w, nil
}

// watchLoop monitors for file changes and triggers debounced reloads.
func (w *ConfigWatcher) watchLoop() {
	defer w.watcher.Close()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !isConfigFile(event.Name) {
				continue
			}

			w.logger.Debug("Configuration file changed",
				zap.String("file", event.Name),
				zap.String("operation", event.Op.String()),
			)

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, w.Reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-w.stopCh:
			w.logger.Info("Stopping configuration watcher")
			return
		}
	}
}

// Reload reloads the configuration and notifies subscribers if anything a
// subscriber can act on changed. Invalid configurations are logged and ignored.
func (w *ConfigWatcher) Reload() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	newConfig, err := w.loader.Load()
	if err != nil {
		w.logger.Error("Invalid configuration after reload", zap.Error(err))
		return
	}

	w.mu.Lock()
	oldConfig := w.config
	if reloadableEqual(oldConfig, newConfig) {
		w.mu.Unlock()
		w.logger.Debug("Configuration unchanged after reload")
		return
	}
	w.config = newConfig
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logConfigChanges(oldConfig, newConfig)

	for i, callback := range callbacks {
		w.invoke(i, callback, newConfig)
	}

	w.logger.Info("Configuration reloaded",
		zap.Int("callbacks_notified", len(callbacks)),
	)
}

func (w *ConfigWatcher) invoke(idx int, cb func(*Config), cfg *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Config callback panicked",
				zap.Int("callback_index", idx),
				zap.Any("panic", r),
			)
		}
	}()
	cb(cfg)
}

// OnChange registers a callback to be called when configuration changes.
func (w *ConfigWatcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, callback)
	w.mu.Unlock()
}

// GetConfig returns the current configuration.
func (w *ConfigWatcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Stop stops the configuration watcher.
func (w *ConfigWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// reloadableEqual compares only the settings applied at runtime.
func reloadableEqual(a, b *Config) bool {
	return a.Poll.Interval == b.Poll.Interval &&
		a.Logging.Level == b.Logging.Level
}

// logConfigChanges logs what changed between configurations.
func (w *ConfigWatcher) logConfigChanges(old, new *Config) {
	changes := make([]string, 0)

	if old.Poll.Interval != new.Poll.Interval {
		changes = append(changes, fmt.Sprintf("poll.interval: %s -> %s", old.Poll.Interval, new.Poll.Interval))
	}
	if old.Logging.Level != new.Logging.Level {
		changes = append(changes, fmt.Sprintf("logging.level: %s -> %s", old.Logging.Level, new.Logging.Level))
	}

	if len(changes) > 0 {
		w.logger.Info("Configuration changes detected",
			zap.Strings("changes", changes),
		)
	}
}

// isConfigFile checks if a file is a configuration file.
func isConfigFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml" || ext == ".json"
}
