package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"
)

// Validation range constants.
const (
	minRefreshInterval    = 1 * time.Minute
	minForegroundInterval = 10 * time.Second
	minBackgroundFloor    = 1 * time.Minute
	minWorkers            = 1
	maxWorkers            = 16
	minResolveBatch       = 1
	maxResolveBatch       = 1000
	minConnectTimeout     = 1 * time.Second
	minDataTimeout        = 1 * time.Second
	minPruneAfter         = 24 * time.Hour
)

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateWatch(&cfg.WatchConfig)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateServer(&cfg.ServerConfig)...)
	errs = append(errs, validateState(&cfg.StateConfig)...)
	errs = append(errs, validateSources(cfg.Sources)...)

	return errors.Join(errs...)
}

func validateWatch(w *WatchConfig) []error {
	var errs []error

	errs = appendDurationErr(errs, "refresh_interval", w.RefreshInterval, minRefreshInterval)
	errs = appendDurationErr(errs, "foreground_interval", w.ForegroundInterval, minForegroundInterval)
	errs = appendDurationErr(errs, "background_floor", w.BackgroundFloor, minBackgroundFloor)
	errs = appendRangeErr(errs, "priority_workers", w.PriorityWorkers, minWorkers, maxWorkers)
	errs = appendRangeErr(errs, "background_workers", w.BackgroundWorkers, minWorkers, maxWorkers)
	errs = appendRangeErr(errs, "resolve_batch_size", w.ResolveBatchSize, minResolveBatch, maxResolveBatch)

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = appendDurationErr(errs, "connect_timeout", n.ConnectTimeout, minConnectTimeout)
	errs = appendDurationErr(errs, "data_timeout", n.DataTimeout, minDataTimeout)

	if n.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("requests_per_second: must be > 0, got %g", n.RequestsPerSecond))
	}

	if n.Burst < 1 {
		errs = append(errs, fmt.Errorf("burst: must be >= 1, got %d", n.Burst))
	}

	if n.UserAgent == "" {
		errs = append(errs, errors.New("user_agent: must not be empty"))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateServer(s *ServerConfig) []error {
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return []error{fmt.Errorf("listen: invalid address %q: %w", s.Listen, err)}
	}

	return nil
}

func validateState(s *StateConfig) []error {
	var errs []error

	if s.PruneSchedule != "" {
		if _, err := cron.ParseStandard(s.PruneSchedule); err != nil {
			errs = append(errs, fmt.Errorf("prune_schedule: invalid cron spec %q: %w", s.PruneSchedule, err))
		}
	}

	errs = appendDurationErr(errs, "prune_after", s.PruneAfter, minPruneAfter)

	return errs
}

func validateSources(sources []Source) []error {
	var errs []error

	seen := make(map[string]bool, len(sources))

	for i, s := range sources {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("source[%d]: name must not be empty", i))
			continue
		}

		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("source %q: duplicate name", s.Name))
		}

		seen[s.Name] = true

		u, err := url.Parse(s.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("source %q: base_url must be an absolute http(s) URL, got %q", s.Name, s.BaseURL))
		}
	}

	return errs
}

func appendDurationErr(errs []error, field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, fmt.Errorf("%s: invalid duration %q: %w", field, value, err))
	}

	if d < minimum {
		return append(errs, fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d))
	}

	return errs
}

func appendRangeErr(errs []error, field string, value, lo, hi int) []error {
	if value < lo || value > hi {
		return append(errs, fmt.Errorf("%s: must be between %d and %d, got %d", field, lo, hi, value))
	}

	return errs
}
