package config

// Default values for configuration options. These are "layer 0" of the
// override chain and work without any config file.
const (
	defaultRefreshInterval    = "15m"
	defaultForegroundInterval = "1m"
	defaultBackgroundFloor    = "10m"
	defaultPriorityWorkers    = 2
	defaultBackgroundWorkers  = 3
	defaultResolveBatchSize   = 64
	defaultConnectTimeout     = "10s"
	defaultDataTimeout        = "30s"
	defaultUserAgent          = "threadwatch/0.1"
	defaultRequestsPerSecond  = 4.0
	defaultBurst              = 4
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
	defaultListen             = "127.0.0.1:7788"
	defaultPruneSchedule      = "@daily"
	defaultPruneAfter         = "720h"
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding (so unset fields keep their
// defaults) and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		WatchConfig:   defaultWatchConfig(),
		NetworkConfig: defaultNetworkConfig(),
		LoggingConfig: defaultLoggingConfig(),
		ServerConfig:  ServerConfig{Listen: defaultListen},
		StateConfig:   defaultStateConfig(),
	}
}

func defaultWatchConfig() WatchConfig {
	return WatchConfig{
		RefreshInterval:    defaultRefreshInterval,
		ForegroundInterval: defaultForegroundInterval,
		BackgroundFloor:    defaultBackgroundFloor,
		PriorityWorkers:    defaultPriorityWorkers,
		BackgroundWorkers:  defaultBackgroundWorkers,
		ResolveBatchSize:   defaultResolveBatchSize,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout:    defaultConnectTimeout,
		DataTimeout:       defaultDataTimeout,
		UserAgent:         defaultUserAgent,
		RequestsPerSecond: defaultRequestsPerSecond,
		Burst:             defaultBurst,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultStateConfig() StateConfig {
	return StateConfig{
		PruneSchedule: defaultPruneSchedule,
		PruneAfter:    defaultPruneAfter,
	}
}
