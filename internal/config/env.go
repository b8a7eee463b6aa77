package config

import (
	"os"
	"strconv"
)

// Environment variable names for overrides.
const (
	EnvConfig   = "THREADWATCH_CONFIG"
	EnvDataDir  = "THREADWATCH_DATA_DIR"
	EnvWifiOnly = "THREADWATCH_WIFI_ONLY"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // THREADWATCH_CONFIG: override config file path
	DataDir    string // THREADWATCH_DATA_DIR: state directory override
	WifiOnly   *bool  // THREADWATCH_WIFI_ONLY: nil when unset or unparsable
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	env := EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DataDir:    os.Getenv(EnvDataDir),
	}

	if raw := os.Getenv(EnvWifiOnly); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			env.WifiOnly = &v
		}
	}

	return env
}
