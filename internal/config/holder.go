package config

import "sync"

// Holder provides thread-safe access to a mutable *Config and an immutable
// config file path. The daemon's reloader and the scheduler's preference
// adapter share one Holder, so a reload updates config in exactly one place.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string // immutable after construction
}

// NewHolder creates a Holder with the initial config and config file path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{
		cfg:  cfg,
		path: path,
	}
}

// Config returns the current config snapshot. Callers must treat it as
// read-only; Update swaps the pointer rather than mutating it.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path.
func (h *Holder) Path() string {
	return h.path
}

// Update replaces the config.
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}

// Preferences returns the typed scheduler preferences of the current config.
func (h *Holder) Preferences() Preferences {
	return h.Config().Preferences()
}

// SourceWatchable reports whether the named source supports watching in the
// current config.
func (h *Holder) SourceWatchable(name string) bool {
	return h.Config().SourceWatchable(name)
}

// SourceByName returns the named source from the current config.
func (h *Holder) SourceByName(name string) (Source, bool) {
	return h.Config().SourceByName(name)
}
