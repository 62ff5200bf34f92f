// Package config provides configuration loading and XDG Base Directory
// compliance utilities for startgrid.
package config

import (
	"os"
	"path/filepath"
)

const (
	appName      = "startgrid"
	databaseName = "icons.sqlite"
)

// XDGDirs holds the XDG Base Directory paths for the application.
type XDGDirs struct {
	ConfigHome string
	DataHome   string
	StateHome  string
}

// GetXDGDirs returns the XDG Base Directory paths for startgrid.
// It follows the XDG Base Directory specification:
// - $XDG_CONFIG_HOME/startgrid (default: ~/.config/startgrid)
// - $XDG_DATA_HOME/startgrid (default: ~/.local/share/startgrid)
// - $XDG_STATE_HOME/startgrid (default: ~/.local/state/startgrid)
func GetXDGDirs() (*XDGDirs, error) {
	// Development mode: use .dev directory in current working directory
	if os.Getenv("ENV") == "dev" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		devDir := filepath.Join(cwd, ".dev", appName)
		return &XDGDirs{
			ConfigHome: devDir,
			DataHome:   devDir,
			StateHome:  devDir,
		}, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(homeDir, ".config")
	}
	configHome = filepath.Join(configHome, appName)

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(homeDir, ".local", "share")
	}
	dataHome = filepath.Join(dataHome, appName)

	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		stateHome = filepath.Join(homeDir, ".local", "state")
	}
	stateHome = filepath.Join(stateHome, appName)

	return &XDGDirs{
		ConfigHome: configHome,
		DataHome:   dataHome,
		StateHome:  stateHome,
	}, nil
}

// GetConfigDir returns the XDG config directory for startgrid.
func GetConfigDir() (string, error) {
	dirs, err := GetXDGDirs()
	if err != nil {
		return "", err
	}
	return dirs.ConfigHome, nil
}

// GetDataDir returns the XDG data directory for startgrid.
func GetDataDir() (string, error) {
	dirs, err := GetXDGDirs()
	if err != nil {
		return "", err
	}
	return dirs.DataHome, nil
}

// DefaultDatabasePath returns the default location of the icon cache database.
func DefaultDatabasePath() (string, error) {
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, databaseName), nil
}
