package commands

import (
	"context"
	"os"

	"github.com/teranos/intake/am"
	"github.com/teranos/intake/app"
	"github.com/teranos/intake/db"
	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/logger"
	"github.com/teranos/intake/store"
)

// ConfigFile is set by the root --config flag. Empty means the usual cascade.
var ConfigFile string

// loadConfig reads --config when given, the am.toml cascade otherwise, and validates the result
func loadConfig() (*am.Config, error) {
	var (
		cfg *am.Config
		err error
	)
	if ConfigFile != "" {
		cfg, err = am.LoadFromFile(ConfigFile)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// configPath is the file writes and reloads go to: --config, then ./am.toml
// (searching up), then the user config
func configPath() string {
	if ConfigFile != "" {
		return ConfigFile
	}
	if project := am.FindProjectConfig(); project != "" {
		return project
	}
	return am.UserConfigPath()
}

// newConfigWatcher watches the active config file, or returns nil when there is none
func newConfigWatcher() (*am.ConfigWatcher, error) {
	path := configPath()
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	if ConfigFile != "" {
		return am.NewFileConfigWatcher(path, logger.Logger)
	}
	return am.NewConfigWatcher(path, logger.Logger)
}

// openApp builds the whole pipeline; commands that change jobs need it
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, logger.Logger)
}

// openStore opens only the record store, for read-only commands
func openStore() (*store.SQLStore, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	database, err := db.OpenWithMigrations(cfg.GetDatabasePath(), logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open database at %s", cfg.GetDatabasePath())
	}
	return store.New(database), func() { database.Close() }, nil
}
