// Package netstate reports whether the machine is on an unmetered (wifi or
// wired) link, the input to the wifi-only preference.
package netstate

import "log/slog"

// Probe answers OnWifi by inspecting the interfaces that carry the default
// route. When the link type cannot be determined the probe answers true so
// the preference never blocks checks on platforms it cannot inspect.
type Probe struct {
	sysNet string // directory of per-interface entries
	routes string // kernel routing table
	logger *slog.Logger
}

// New returns a probe reading the live system tables.
func New(logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}

	return &Probe{sysNet: defaultSysNet, routes: defaultRoutes, logger: logger}
}

// OnWifi reports whether a default-route interface is wireless.
func (p *Probe) OnWifi() bool {
	ok, err := p.onWifi()
	if err != nil {
		p.logger.Debug("network probe failed, assuming wifi",
			slog.String("error", err.Error()),
		)

		return true
	}

	return ok
}
