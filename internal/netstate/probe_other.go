//go:build !linux

package netstate

import "errors"

const (
	defaultSysNet = ""
	defaultRoutes = ""
)

func (p *Probe) onWifi() (bool, error) {
	return false, errors.New("netstate: link type detection not supported on this platform")
}
