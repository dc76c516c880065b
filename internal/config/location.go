package config

import (
	"os"
	"path/filepath"
)

// ConfigPathEnv overrides the configuration file location.
const ConfigPathEnv = "JSBRIDGE_CONFIG"

// GetConfigPath returns the configuration file path: $JSBRIDGE_CONFIG when
// set and non-empty, otherwise ~/.jsbridge/config.
func GetConfigPath() (string, error) {
	if configPath := os.Getenv(ConfigPathEnv); configPath != "" {
		return configPath, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".jsbridge", "config"), nil
}
