package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"mcphub/pkg/logging"
)

const (
	userConfigDir = ".config/mcphub"
	hubConfigFile = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns the per-user configuration directory.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// Load reads every configuration document from the given directory and
// returns an immutable snapshot. Missing documents fall back to defaults;
// malformed documents fail the load.
func Load(configPath string) (*Snapshot, error) {
	hub, err := loadHubConfig(configPath)
	if err != nil {
		return nil, err
	}

	servers, err := loadServers(configPath)
	if err != nil {
		return nil, err
	}

	groups, err := loadGroups(configPath)
	if err != nil {
		return nil, err
	}

	apiTools, err := loadAPITools(configPath)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Path:     configPath,
		Hub:      hub,
		Servers:  servers,
		Groups:   groups,
		APITools: apiTools,
	}, nil
}

// loadHubConfig loads config.yaml over the defaults.
func loadHubConfig(configPath string) (HubConfig, error) {
	configFilePath := filepath.Join(configPath, hubConfigFile)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("Config", "No config.yaml found at %s, using defaults", configFilePath)
			return config.Hub, nil
		}
		return HubConfig{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return HubConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	logging.Info("Config", "Loaded hub configuration from %s", configFilePath)
	return config.Hub, nil
}
