package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "threadwatch"

// File names inside the config and data directories.
const (
	configFileName = "config.toml"
	stateFileName  = "state.db"
	pidFileName    = "threadwatch.pid"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/threadwatch).
// On macOS, uses ~/Library/Application Support/threadwatch.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", home, ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for application
// data (the state database and PID file).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/threadwatch).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", home, filepath.Join(".local", "share"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

func xdgDir(envVar, home, fallback string) string {
	if xdg := os.Getenv(envVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, fallback, appName)
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// StateDirFor returns the configured state directory, falling back to the
// platform data directory.
func StateDirFor(cfg *Config) string {
	if cfg.StateDir != "" {
		return cfg.StateDir
	}

	return DefaultDataDir()
}

// StatePath returns the path of the state database.
func StatePath(cfg *Config) string {
	dir := StateDirFor(cfg)
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, stateFileName)
}

// PIDPath returns the path of the daemon PID file.
func PIDPath(cfg *Config) string {
	dir := StateDirFor(cfg)
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, pidFileName)
}
