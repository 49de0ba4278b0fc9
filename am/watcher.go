package am

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/intake/errors"
)

// ReloadCallback receives the freshly loaded config after a file change
type ReloadCallback func(*Config) error

// ConfigWatcher reloads configuration when am.toml changes on disk
type ConfigWatcher struct {
	configPath     string
	watcher        *fsnotify.Watcher
	logger         *zap.SugaredLogger
	loader         func() (*Config, error)
	callbacks      []ReloadCallback
	mu             sync.RWMutex
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	ownWrite       bool
	ownWriteMu     sync.Mutex
	done           chan struct{}
}

var (
	globalWatcher   *ConfigWatcher
	globalWatcherMu sync.Mutex
)

// NewConfigWatcher watches configPath. Reloads go through Reset+Load.
func NewConfigWatcher(configPath string, logger *zap.SugaredLogger) (*ConfigWatcher, error) {
	return newConfigWatcher(configPath, logger, func() (*Config, error) {
		Reset()
		return Load()
	})
}

// NewFileConfigWatcher watches configPath and reloads with LoadFromFile.
// Useful when the process was started with an explicit --config file.
func NewFileConfigWatcher(configPath string, logger *zap.SugaredLogger) (*ConfigWatcher, error) {
	return newConfigWatcher(configPath, logger, func() (*Config, error) {
		return LoadFromFile(configPath)
	})
}

func newConfigWatcher(configPath string, logger *zap.SugaredLogger, loader func() (*Config, error)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	// Watch the directory: editors replace files via rename, which drops file watches
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch config directory for %s", configPath)
	}

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &ConfigWatcher{
		configPath:     configPath,
		watcher:        watcher,
		logger:         logger.Named("am"),
		loader:         loader,
		debouncePeriod: 500 * time.Millisecond,
		done:           make(chan struct{}),
	}, nil
}

// OnReload registers a callback to be called when config is reloaded
func (cw *ConfigWatcher) OnReload(callback ReloadCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// MarkOwnWrite suppresses the reload triggered by our own SetValue
func (cw *ConfigWatcher) MarkOwnWrite() {
	cw.ownWriteMu.Lock()
	defer cw.ownWriteMu.Unlock()
	cw.ownWrite = true
}

func (cw *ConfigWatcher) checkOwnWrite() bool {
	cw.ownWriteMu.Lock()
	defer cw.ownWriteMu.Unlock()
	if cw.ownWrite {
		cw.ownWrite = false
		return true
	}
	return false
}

// Start begins watching for config file changes
func (cw *ConfigWatcher) Start() {
	go cw.watchLoop()
}

func (cw *ConfigWatcher) watchLoop() {
	defer close(cw.done)
	target := filepath.Clean(cw.configPath)

	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target || isBackupFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if cw.checkOwnWrite() {
				cw.logger.Debugw("Ignoring own config write", "file", event.Name)
				continue
			}
			cw.logger.Infow("Config change detected", "file", event.Name, "op", event.Op.String())
			cw.scheduleReload()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warnw("Config watcher error", "error", err)
		}
	}
}

func (cw *ConfigWatcher) scheduleReload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.debounceTimer = time.AfterFunc(cw.debouncePeriod, func() {
		if err := cw.reload(); err != nil {
			cw.logger.Errorw("Config reload failed", "error", err)
		}
	})
}

func (cw *ConfigWatcher) reload() error {
	newConfig, err := cw.loader()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := newConfig.Validate(); err != nil {
		return errors.Wrap(err, "reloaded config is invalid")
	}

	cw.logger.Infow("Config reloaded", "path", cw.configPath)

	cw.mu.RLock()
	callbacks := make([]ReloadCallback, len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback(newConfig); err != nil {
			cw.logger.Warnw("Config reload callback error", "error", err)
		}
	}
	return nil
}

// Stop stops watching for config changes
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.mu.Unlock()
	err := cw.watcher.Close()
	<-cw.done
	return err
}

func isBackupFile(path string) bool {
	base := filepath.Base(path)
	return strings.Contains(base, ".toml.back")
}

// SetGlobalWatcher registers the process watcher so SetValue can mark its writes
func SetGlobalWatcher(watcher *ConfigWatcher) {
	globalWatcherMu.Lock()
	defer globalWatcherMu.Unlock()
	globalWatcher = watcher
}
