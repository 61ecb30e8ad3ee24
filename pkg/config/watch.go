package config

import (
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/wallvault/wallvault/internal/logger"
)

// Watch reloads the configuration whenever the config file changes and hands
// every valid new snapshot to onChange. Invalid edits are logged and ignored;
// the running configuration stays as it was.
//
// When no config file exists (environment-only deployments) Watch is a no-op.
// The returned stop function ends the watch.
func Watch(configPath string, onChange func(*Config)) (stop func(), err error) {
	path := configPath
	if path == "" {
		path = GetDefaultConfigPath()
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return func() {}, nil
	}

	v := viper.New()
	v.SetConfigFile(path)

	v.OnConfigChange(func(fsnotify.Event) {
		cfg, loadErr := Load(configPath)
		if loadErr != nil {
			logger.Warn("Config reload failed, keeping previous configuration",
				"path", path, "error", loadErr)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()

	logger.Info("Watching config file for changes", "path", path)
	return func() { v.OnConfigChange(func(fsnotify.Event) {}) }, nil
}
