package config

import "time"

// Preferences is the parsed, typed view of the watch settings consumed by
// the scheduler. Durations are parsed once here so the scheduler never
// handles config strings.
type Preferences struct {
	RefreshInterval    time.Duration
	ForegroundInterval time.Duration
	BackgroundFloor    time.Duration
	WifiOnly           bool
	PriorityWorkers    int
	BackgroundWorkers  int
	ResolveBatchSize   int
}

// Preferences converts the watch section. Values that fail to parse fall
// back to the defaults; Validate rejects such configs before they get here.
func (c *Config) Preferences() Preferences {
	return Preferences{
		RefreshInterval:    durationOr(c.RefreshInterval, defaultRefreshInterval),
		ForegroundInterval: durationOr(c.ForegroundInterval, defaultForegroundInterval),
		BackgroundFloor:    durationOr(c.BackgroundFloor, defaultBackgroundFloor),
		WifiOnly:           c.WifiOnly,
		PriorityWorkers:    c.PriorityWorkers,
		BackgroundWorkers:  c.BackgroundWorkers,
		ResolveBatchSize:   c.ResolveBatchSize,
	}
}

// Timeouts returns the parsed connect and data timeouts.
func (c *Config) Timeouts() (connect, data time.Duration) {
	return durationOr(c.ConnectTimeout, defaultConnectTimeout),
		durationOr(c.DataTimeout, defaultDataTimeout)
}

// PruneAge returns the parsed prune_after duration.
func (c *Config) PruneAge() time.Duration {
	return durationOr(c.PruneAfter, defaultPruneAfter)
}

// SourceWatchable reports whether threads of the named source may be
// re-checked. Unknown sources are not watchable.
func (c *Config) SourceWatchable(name string) bool {
	s, ok := c.SourceByName(name)

	return ok && s.Watch
}

func durationOr(value, fallback string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}

	d, _ := time.ParseDuration(fallback)

	return d
}
