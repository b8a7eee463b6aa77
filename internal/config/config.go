// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for threadwatch. It supports a
// four-layer override chain (defaults -> config file -> environment -> CLI
// flags). Settings are flat top-level keys; sources are declared as an
// array of [[source]] tables.
package config

// Config is the top-level configuration structure parsed from a TOML file.
// The embedded sections decode from flat top-level keys.
type Config struct {
	WatchConfig
	NetworkConfig
	LoggingConfig
	ServerConfig
	StateConfig

	Sources []Source `toml:"source"`
}

// WatchConfig holds the scheduler preferences: polling intervals, the
// wifi-only gate and worker pool capacities.
type WatchConfig struct {
	RefreshInterval    string `toml:"refresh_interval"`
	ForegroundInterval string `toml:"foreground_interval"`
	BackgroundFloor    string `toml:"background_floor"`
	WifiOnly           bool   `toml:"wifi_only"`
	PriorityWorkers    int    `toml:"priority_workers"`
	BackgroundWorkers  int    `toml:"background_workers"`
	ResolveBatchSize   int    `toml:"resolve_batch_size"`
}

// NetworkConfig controls the HTTP client used by fetch tasks.
type NetworkConfig struct {
	ConnectTimeout    string  `toml:"connect_timeout"`
	DataTimeout       string  `toml:"data_timeout"`
	UserAgent         string  `toml:"user_agent"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// LoggingConfig controls log output: level, format and destination.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// ServerConfig controls the websocket endpoint served by the daemon.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// StateConfig controls where the state database lives and how long
// counters of unwatched threads are retained.
type StateConfig struct {
	StateDir      string `toml:"state_dir"`
	PruneSchedule string `toml:"prune_schedule"`
	PruneAfter    string `toml:"prune_after"`
}

// Source describes one remote site. Watch reports whether the site supports
// periodic re-checking at all; threads of a source with Watch=false are
// never dispatched.
type Source struct {
	Name    string `toml:"name"`
	BaseURL string `toml:"base_url"`
	Watch   bool   `toml:"watch"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	WifiOnly   *bool  // --wifi-only flag
	Listen     string // --listen flag (empty = keep config)
}

// SourceByName returns the source with the given name, or false.
func (c *Config) SourceByName(name string) (Source, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}

	return Source{}, false
}
