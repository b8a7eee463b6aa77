package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal with "did you mean?" suggestions,
// because a silently ignored typo leads to hard-to-debug behavior.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config loaded",
		slog.String("path", path),
		slog.Int("sources", len(cfg.Sources)),
	)

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values (zero-config first run).
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", slog.String("path", path))

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// ResolveConfigPath applies the path precedence CLI > env > default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides) string {
	if cli.ConfigPath != "" {
		return cli.ConfigPath
	}

	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	return DefaultConfigPath()
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// It returns the effective config and the path it was read from.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Config, string, error) {
	path := ResolveConfigPath(env, cli)

	cfg, err := LoadOrDefault(path, logger)
	if err != nil {
		return nil, path, err
	}

	ApplyOverrides(cfg, env, cli)

	if err := Validate(cfg); err != nil {
		return nil, path, fmt.Errorf("config validation: %w", err)
	}

	return cfg, path, nil
}

// ApplyOverrides applies environment and CLI overrides to cfg in place.
// Reloads call this too, so an override set at startup survives a config
// file edit.
func ApplyOverrides(cfg *Config, env EnvOverrides, cli CLIOverrides) {
	if env.DataDir != "" {
		cfg.StateDir = env.DataDir
	}

	if env.WifiOnly != nil {
		cfg.WifiOnly = *env.WifiOnly
	}

	if cli.WifiOnly != nil {
		cfg.WifiOnly = *cli.WifiOnly
	}

	if cli.Listen != "" {
		cfg.Listen = cli.Listen
	}
}
